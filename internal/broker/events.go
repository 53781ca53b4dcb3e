package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"purchase-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher routes domain events to their channels. One producer per
// topic; keys keep events for the same request/product on one partition.
type EventPublisher struct {
	pendingApproval   *Producer
	approvalDecision  *Producer
	lowStock          *Producer
	purchaseCompleted *Producer
	financeApproved   *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(pendingApproval, approvalDecision, lowStock, purchaseCompleted, financeApproved *Producer) *EventPublisher {
	return &EventPublisher{
		pendingApproval:   pendingApproval,
		approvalDecision:  approvalDecision,
		lowStock:          lowStock,
		purchaseCompleted: purchaseCompleted,
		financeApproved:   financeApproved,
	}
}

// PublishPendingApproval publishes a pending-approval request
func (ep *EventPublisher) PublishPendingApproval(ctx context.Context, event *models.PendingApprovalEvent) error {
	return ep.pendingApproval.PublishEvent(ctx, event.RequestID, event)
}

// PublishApprovalDecision publishes an approval decision
func (ep *EventPublisher) PublishApprovalDecision(ctx context.Context, event *models.ApprovalDecisionEvent) error {
	return ep.approvalDecision.PublishEvent(ctx, event.RequestID, event)
}

// PublishLowStock publishes a low-stock alert
func (ep *EventPublisher) PublishLowStock(ctx context.Context, event *models.LowStockEvent) error {
	return ep.lowStock.PublishEvent(ctx, event.ProductCode, event)
}

// PublishPurchaseCompleted publishes a purchase-completed event
func (ep *EventPublisher) PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error {
	return ep.purchaseCompleted.PublishEvent(ctx, event.OrderID, event)
}

// PublishFinanceApproved publishes a finance approval outcome event
func (ep *EventPublisher) PublishFinanceApproved(ctx context.Context, event *models.FinanceApprovedEvent) error {
	return ep.financeApproved.PublishEvent(ctx, event.RequestID, event)
}

// Close closes all producers
func (ep *EventPublisher) Close() error {
	for _, p := range []*Producer{
		ep.pendingApproval, ep.approvalDecision, ep.lowStock,
		ep.purchaseCompleted, ep.financeApproved,
	} {
		if p != nil {
			_ = p.Close()
		}
	}
	return nil
}

// EventHandler routes incoming approval messages to registered callbacks
type EventHandler struct {
	onPendingApproval  func(context.Context, *models.PendingApprovalEvent) error
	onApprovalDecision func(context.Context, *models.ApprovalDecisionEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPendingApproval registers a handler for pending-approval events
func (eh *EventHandler) OnPendingApproval(handler func(context.Context, *models.PendingApprovalEvent) error) {
	eh.onPendingApproval = handler
}

// OnApprovalDecision registers a handler for approval-decision events
func (eh *EventHandler) OnApprovalDecision(handler func(context.Context, *models.ApprovalDecisionEvent) error) {
	eh.onApprovalDecision = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypePendingApproval:
		if eh.onPendingApproval != nil {
			var event models.PendingApprovalEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PendingApproval event: %w", err)
			}
			return eh.onPendingApproval(ctx, &event)
		}

	case models.EventTypeApprovalDecision:
		if eh.onApprovalDecision != nil {
			var event models.ApprovalDecisionEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ApprovalDecision event: %w", err)
			}
			return eh.onApprovalDecision(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
