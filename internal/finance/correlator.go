package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"purchase-service/internal/models"
	"purchase-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence surface for finance requests. Implemented by the
// Postgres store.
type Store interface {
	CreateFinanceRequest(ctx context.Context, fr *models.FinanceRequest) error
	GetFinanceRequest(ctx context.Context, requestID string) (*models.FinanceRequest, error)
	TransitionFinanceRequest(ctx context.Context, fr *models.FinanceRequest) error
	ListFinanceRequestsByStatus(ctx context.Context, status string) ([]models.FinanceRequest, error)
	ListFinanceRequestsByCustomer(ctx context.Context, customerID string) ([]models.FinanceRequest, error)
}

// Publisher emits the correlator's outbound events
type Publisher interface {
	PublishPendingApproval(ctx context.Context, event *models.PendingApprovalEvent) error
	PublishFinanceApproved(ctx context.Context, event *models.FinanceApprovedEvent) error
}

// Correlator owns the approval-request lifecycle. Submission returns
// immediately with a PENDING request; decisions arrive out-of-band on the
// approval-decision channel and are applied exactly once. The PENDING-status
// guard is the sole idempotency mechanism: under at-least-once delivery a
// redelivered decision finds a terminal request and is dropped.
type Correlator struct {
	store         Store
	events        Publisher
	gateway       ApprovalGateway
	breaker       *CircuitBreaker
	trustedSource string
	retryAttempts int
	logger        *zap.Logger
}

// NewCorrelator creates an approval correlator. Decisions from
// trustedSource are applied directly; all others route through the
// breaker-guarded gateway.
func NewCorrelator(store Store, events Publisher, gateway ApprovalGateway, breaker *CircuitBreaker, trustedSource string, retryAttempts int) *Correlator {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Correlator{
		store:         store,
		events:        events,
		gateway:       gateway,
		breaker:       breaker,
		trustedSource: trustedSource,
		retryAttempts: retryAttempts,
		logger:        util.GetLogger(),
	}
}

// RequestApproval creates a PENDING finance request and announces it on the
// pending-approval channel. The call never blocks on a decision.
func (c *Correlator) RequestApproval(ctx context.Context, customerID string, amount float64, purpose string) (*models.FinanceRequest, error) {
	ctx, span := util.StartSpan(ctx, "Correlator.RequestApproval")
	defer span.End()

	request := &models.FinanceRequest{
		RequestID:  uuid.New().String(),
		CustomerID: customerID,
		Amount:     amount,
		Status:     models.FinanceStatusPending,
		Notes:      "Request submitted: " + purpose,
	}

	if err := c.store.CreateFinanceRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create finance request: %w", err)
	}

	util.ApprovalRequestsTotal.Inc()
	c.logger.Info("Created finance request",
		zap.String("request_id", request.RequestID),
		zap.String("customer_id", customerID),
		zap.Float64("amount", amount))

	event := &models.PendingApprovalEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePendingApproval,
			Timestamp: time.Now(),
		},
		RequestID:  request.RequestID,
		CustomerID: customerID,
		Amount:     amount,
		Purpose:    purpose,
	}
	if err := c.events.PublishPendingApproval(ctx, event); err != nil {
		c.logger.Error("Failed to publish pending-approval event",
			zap.String("request_id", request.RequestID), zap.Error(err))
	}

	return request, nil
}

// ApplyDecision applies one decision to a finance request. Decisions for a
// request that already left PENDING are logged and dropped, which makes
// redelivered decisions safe no-ops.
func (c *Correlator) ApplyDecision(ctx context.Context, requestID, decision, decidedBy, notes string) error {
	ctx, span := util.StartSpan(ctx, "Correlator.ApplyDecision")
	defer span.End()

	request, err := c.store.GetFinanceRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if request.IsTerminal() {
		util.ApprovalDuplicatesTotal.Inc()
		c.logger.Info("Ignoring decision for terminal finance request",
			zap.String("request_id", requestID),
			zap.String("current_status", request.Status),
			zap.String("decision", decision))
		return nil
	}

	switch decision {
	case models.DecisionDeclined:
		request.Status = models.FinanceStatusRejected
		request.Notes = fmt.Sprintf("Declined by: %s. %s", decidedBy, orDefault(notes, "No reason provided"))

	case models.DecisionApproved:
		if decidedBy == c.trustedSource {
			request.Status = models.FinanceStatusApproved
			request.ExternalReferenceID = requestID
			request.Notes = fmt.Sprintf("Approved by: %s. %s", decidedBy, notes)
		} else {
			c.evaluateManually(ctx, request, decidedBy, notes)
		}

	default:
		return fmt.Errorf("unknown decision %q for request %s", decision, requestID)
	}

	// The transition is a compare-and-swap on PENDING. Losing the race to a
	// concurrent applier is the same as finding a terminal request up front:
	// drop the decision.
	if err := c.store.TransitionFinanceRequest(ctx, request); err != nil {
		var conflict *models.StateConflictError
		if errors.As(err, &conflict) {
			util.ApprovalDuplicatesTotal.Inc()
			c.logger.Info("Lost decision race, request already terminal",
				zap.String("request_id", requestID),
				zap.String("current_status", conflict.CurrentStatus),
				zap.String("decision", decision))
			return nil
		}
		return fmt.Errorf("failed to update finance request: %w", err)
	}

	util.ApprovalDecisionsTotal.WithLabelValues(request.Status).Inc()
	c.logger.Info("Applied approval decision",
		zap.String("request_id", requestID),
		zap.String("status", request.Status),
		zap.String("decided_by", decidedBy))

	if request.Status != models.FinanceStatusError {
		c.publishOutcome(ctx, request)
	}
	return nil
}

// evaluateManually routes a manual approval through the external gateway
// behind the circuit breaker with bounded retry, mutating the request to
// its terminal status.
func (c *Correlator) evaluateManually(ctx context.Context, request *models.FinanceRequest, decidedBy, notes string) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if !c.breaker.Allow() {
			request.Status = models.FinanceStatusError
			request.Notes = "External approval service is temporarily unavailable (circuit open). " +
				"Request will need to be reprocessed."
			c.logger.Warn("Circuit breaker open, failing approval fast",
				zap.String("request_id", request.RequestID))
			return
		}

		verdict, err := c.gateway.Evaluate(ctx, request.RequestID, request.CustomerID, request.Amount)
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("Approval gateway call failed",
				zap.String("request_id", request.RequestID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		c.breaker.RecordSuccess()

		if verdict.Approved {
			request.Status = models.FinanceStatusApproved
			request.ExternalReferenceID = verdict.RequestID
			request.Notes = fmt.Sprintf("Approved by: %s. %s. Gateway: %s", decidedBy, notes, verdict.Reason)
		} else {
			request.Status = models.FinanceStatusRejected
			request.Notes = fmt.Sprintf("Rejected by approval gateway: %s", verdict.Reason)
		}
		return
	}

	request.Status = models.FinanceStatusError
	request.Notes = fmt.Sprintf("Error during approval: %v", lastErr)
}

// ReprocessPending re-announces every still-PENDING request on the
// pending-approval channel. Terminal requests are untouched. Used after
// automatic approval is re-enabled.
func (c *Correlator) ReprocessPending(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "Correlator.ReprocessPending")
	defer span.End()

	pending, err := c.store.ListFinanceRequestsByStatus(ctx, models.FinanceStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending requests: %w", err)
	}

	for i := range pending {
		request := &pending[i]
		event := &models.PendingApprovalEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePendingApproval,
				Timestamp: time.Now(),
			},
			RequestID:  request.RequestID,
			CustomerID: request.CustomerID,
			Amount:     request.Amount,
			Purpose:    request.Notes,
		}
		if err := c.events.PublishPendingApproval(ctx, event); err != nil {
			c.logger.Error("Failed to republish pending request",
				zap.String("request_id", request.RequestID), zap.Error(err))
			continue
		}
		c.logger.Info("Republished pending request",
			zap.String("request_id", request.RequestID))
	}

	return len(pending), nil
}

// GetRequest retrieves a finance request by ID
func (c *Correlator) GetRequest(ctx context.Context, requestID string) (*models.FinanceRequest, error) {
	return c.store.GetFinanceRequest(ctx, requestID)
}

// ListRequestsByCustomer retrieves finance requests for a customer
func (c *Correlator) ListRequestsByCustomer(ctx context.Context, customerID string) ([]models.FinanceRequest, error) {
	return c.store.ListFinanceRequestsByCustomer(ctx, customerID)
}

// ListRequestsByStatus retrieves finance requests in a given status
func (c *Correlator) ListRequestsByStatus(ctx context.Context, status string) ([]models.FinanceRequest, error) {
	return c.store.ListFinanceRequestsByStatus(ctx, status)
}

func (c *Correlator) publishOutcome(ctx context.Context, request *models.FinanceRequest) {
	event := &models.FinanceApprovedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeFinanceApproved,
			Timestamp: time.Now(),
		},
		RequestID:    request.RequestID,
		CustomerID:   request.CustomerID,
		Amount:       request.Amount,
		ApprovalCode: request.Status,
		Reason:       request.Notes,
	}
	if err := c.events.PublishFinanceApproved(ctx, event); err != nil {
		c.logger.Error("Failed to publish approval outcome event",
			zap.String("request_id", request.RequestID), zap.Error(err))
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
