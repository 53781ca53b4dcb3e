package store

import (
	"context"
	"database/sql"

	"purchase-service/internal/models"
)

// GetReservation retrieves a reservation by ID
func (s *Store) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r,
		"SELECT * FROM reservations WHERE reservation_id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "reservation", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListExpiredReservations retrieves PENDING reservations whose expiry time
// has passed
func (s *Store) ListExpiredReservations(ctx context.Context) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE status = $1 AND expires_at < NOW()",
		models.ReservationStatusPending)
	return reservations, err
}

// ListReservationsByProduct retrieves reservations for a product
func (s *Store) ListReservationsByProduct(ctx context.Context, productCode string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE product_code = $1 ORDER BY created_at DESC", productCode)
	return reservations, err
}

// ListReservationsByStatus retrieves reservations in a given status
func (s *Store) ListReservationsByStatus(ctx context.Context, status string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE status = $1 ORDER BY created_at DESC", status)
	return reservations, err
}
