package models

import "time"

// Event types
const (
	EventTypePendingApproval   = "PENDING_APPROVAL"
	EventTypeApprovalDecision  = "APPROVAL_DECISION"
	EventTypeLowStock          = "LOW_STOCK"
	EventTypePurchaseCompleted = "PURCHASE_COMPLETED"
	EventTypeFinanceApproved   = "FINANCE_APPROVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingApprovalEvent announces a new finance request awaiting a decision.
// Published on the pending-approval channel; the decision maker answers on
// the approval-decision channel, correlated by RequestID.
type PendingApprovalEvent struct {
	BaseEvent
	RequestID  string  `json:"request_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
	Purpose    string  `json:"purpose"`
}

// ApprovalDecisionEvent carries one decision for a finance request. Delivery
// is at-least-once; consumers rely on the PENDING-status guard to make
// redelivery a no-op.
type ApprovalDecisionEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decided_by"`
	Notes     string `json:"notes,omitempty"`
}

// LowStockEvent is emitted after a mutation leaves available stock at or
// below the product's threshold.
type LowStockEvent struct {
	BaseEvent
	ProductCode       string `json:"product_code"`
	StoreID           string `json:"store_id"`
	AvailableQuantity int    `json:"available_quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// PurchaseCompletedEvent is emitted after a purchase saga finishes
// successfully.
type PurchaseCompletedEvent struct {
	BaseEvent
	OrderID        string  `json:"order_id"`
	CustomerID     string  `json:"customer_id"`
	StoreID        string  `json:"store_id"`
	TotalAmount    float64 `json:"total_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	PaymentMethod  string  `json:"payment_method"`
	Items          string  `json:"items"`
}

// FinanceApprovedEvent is emitted once per finance request when a decision
// is applied.
type FinanceApprovedEvent struct {
	BaseEvent
	RequestID    string  `json:"request_id"`
	CustomerID   string  `json:"customer_id"`
	Amount       float64 `json:"amount"`
	ApprovalCode string  `json:"approval_code"`
	Reason       string  `json:"reason,omitempty"`
}
