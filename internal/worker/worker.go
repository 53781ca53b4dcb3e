package worker

import (
	"context"
	"log"
	"time"

	"purchase-service/internal/broker"
	"purchase-service/internal/finance"
	"purchase-service/internal/models"

	"github.com/google/uuid"
)

// DecisionWorker consumes approval-decision messages and applies them to
// their finance requests. Delivery is at-least-once, so the correlator's
// pending-status guard is what makes redelivered decisions harmless.
type DecisionWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	correlator   *finance.Correlator
}

// NewDecisionWorker creates a new decision worker
func NewDecisionWorker(
	consumer *broker.Consumer,
	correlator *finance.Correlator,
) *DecisionWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnApprovalDecision(func(ctx context.Context, event *models.ApprovalDecisionEvent) error {
		return correlator.ApplyDecision(ctx, event.RequestID, event.Decision, event.DecidedBy, event.Notes)
	})

	return &DecisionWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		correlator:   correlator,
	}
}

// Start starts the worker
func (w *DecisionWorker) Start(ctx context.Context) error {
	log.Println("Starting decision worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DecisionWorker) Stop() error {
	log.Println("Stopping decision worker...")
	return w.consumer.Close()
}

// AutoApprovalWorker consumes pending-approval messages and, when automation
// is enabled, publishes a decision for each after the configured processing
// delay. Decisions it publishes carry the automation source, which the
// correlator treats as trusted.
type AutoApprovalWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	automation   *finance.Automation
	publisher    *broker.EventPublisher
}

// NewAutoApprovalWorker creates a new auto-approval worker
func NewAutoApprovalWorker(
	consumer *broker.Consumer,
	automation *finance.Automation,
	publisher *broker.EventPublisher,
) *AutoApprovalWorker {
	w := &AutoApprovalWorker{
		consumer:   consumer,
		automation: automation,
		publisher:  publisher,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPendingApproval(w.handlePendingApproval)
	w.eventHandler = eventHandler

	return w
}

func (w *AutoApprovalWorker) handlePendingApproval(ctx context.Context, event *models.PendingApprovalEvent) error {
	if !w.automation.Enabled() {
		log.Printf("Auto-approval disabled, leaving request for manual review: %s", event.RequestID)
		return nil
	}

	// Simulated processing time before the decision goes out.
	if delay := w.automation.Delay(); delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	approved, reason := w.automation.Decide(event.Amount)
	decision := models.DecisionDeclined
	if approved {
		decision = models.DecisionApproved
	}

	log.Printf("Auto-approval decision for request %s: %s (%s)", event.RequestID, decision, reason)

	return w.publisher.PublishApprovalDecision(ctx, &models.ApprovalDecisionEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeApprovalDecision,
			Timestamp: time.Now(),
		},
		RequestID: event.RequestID,
		Decision:  decision,
		DecidedBy: w.automation.Source(),
		Notes:     reason,
	})
}

// Start starts the worker
func (w *AutoApprovalWorker) Start(ctx context.Context) error {
	log.Println("Starting auto-approval worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AutoApprovalWorker) Stop() error {
	log.Println("Stopping auto-approval worker...")
	return w.consumer.Close()
}
