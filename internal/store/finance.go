package store

import (
	"context"
	"database/sql"

	"purchase-service/internal/models"
)

// CreateFinanceRequest inserts a new finance request in PENDING status
func (s *Store) CreateFinanceRequest(ctx context.Context, fr *models.FinanceRequest) error {
	query := `
		INSERT INTO finance_requests (request_id, customer_id, amount, status, external_reference_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		fr.RequestID, fr.CustomerID, fr.Amount, fr.Status, fr.ExternalReferenceID, fr.Notes)
	return row.Scan(&fr.CreatedAt, &fr.UpdatedAt)
}

// GetFinanceRequest retrieves a finance request by request ID
func (s *Store) GetFinanceRequest(ctx context.Context, requestID string) (*models.FinanceRequest, error) {
	var fr models.FinanceRequest
	err := s.db.GetContext(ctx, &fr,
		"SELECT * FROM finance_requests WHERE request_id = $1", requestID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "finance request", ID: requestID}
	}
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

// TransitionFinanceRequest moves a finance request from PENDING to the
// terminal status carried on fr. The update is a compare-and-swap on
// status = PENDING: a request that already left PENDING returns
// StateConflictError with its current status, so two racing appliers can
// never both win.
func (s *Store) TransitionFinanceRequest(ctx context.Context, fr *models.FinanceRequest) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE finance_requests
		 SET status = $1, external_reference_id = $2, notes = $3, updated_at = NOW()
		 WHERE request_id = $4 AND status = $5`,
		fr.Status, fr.ExternalReferenceID, fr.Notes, fr.RequestID, models.FinanceStatusPending)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var current string
		err = s.db.GetContext(ctx, &current,
			"SELECT status FROM finance_requests WHERE request_id = $1", fr.RequestID)
		if err == sql.ErrNoRows {
			return &models.NotFoundError{Kind: "finance request", ID: fr.RequestID}
		}
		if err != nil {
			return err
		}
		return &models.StateConflictError{
			Kind:          "finance request",
			ID:            fr.RequestID,
			CurrentStatus: current,
		}
	}
	return nil
}

// ListFinanceRequestsByStatus retrieves finance requests in a given status
func (s *Store) ListFinanceRequestsByStatus(ctx context.Context, status string) ([]models.FinanceRequest, error) {
	var requests []models.FinanceRequest
	err := s.db.SelectContext(ctx, &requests,
		"SELECT * FROM finance_requests WHERE status = $1 ORDER BY created_at", status)
	return requests, err
}

// ListFinanceRequestsByCustomer retrieves finance requests for a customer
func (s *Store) ListFinanceRequestsByCustomer(ctx context.Context, customerID string) ([]models.FinanceRequest, error) {
	var requests []models.FinanceRequest
	err := s.db.SelectContext(ctx, &requests,
		"SELECT * FROM finance_requests WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return requests, err
}
