package models

import "time"

// Inventory represents per-product stock for a store. Quantity is the total
// on-hand amount; ReservedQuantity is the portion held by pending
// reservations. Available stock is always Quantity - ReservedQuantity.
type Inventory struct {
	ProductCode       string    `db:"product_code" json:"product_code"`
	StoreID           string    `db:"store_id" json:"store_id"`
	Quantity          int       `db:"quantity" json:"quantity"`
	ReservedQuantity  int       `db:"reserved_quantity" json:"reserved_quantity"`
	LowStockThreshold int       `db:"low_stock_threshold" json:"low_stock_threshold"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableQuantity returns the stock not held by pending reservations.
func (i *Inventory) AvailableQuantity() int {
	return i.Quantity - i.ReservedQuantity
}

// IsLowStock reports whether available stock has reached the threshold.
func (i *Inventory) IsLowStock() bool {
	return i.AvailableQuantity() <= i.LowStockThreshold
}

// Reservation is a temporary hold on stock. It is created PENDING and moves
// exactly once to CONFIRMED, CANCELLED or EXPIRED.
type Reservation struct {
	ID          string     `db:"reservation_id" json:"reservation_id"`
	ProductCode string     `db:"product_code" json:"product_code"`
	Quantity    int        `db:"quantity" json:"quantity"`
	Status      string     `db:"status" json:"status"`
	Notes       string     `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Reservation statuses
const (
	ReservationStatusPending   = "PENDING"
	ReservationStatusConfirmed = "CONFIRMED"
	ReservationStatusCancelled = "CANCELLED"
	ReservationStatusExpired   = "EXPIRED"
)

// IsTerminal reports whether the reservation has left PENDING.
func (r *Reservation) IsTerminal() bool {
	return r.Status != ReservationStatusPending
}

// FinanceRequest tracks one approval request through its lifecycle. PENDING
// is the only non-terminal status.
type FinanceRequest struct {
	RequestID           string    `db:"request_id" json:"request_id"`
	CustomerID          string    `db:"customer_id" json:"customer_id"`
	Amount              float64   `db:"amount" json:"amount"`
	Status              string    `db:"status" json:"status"`
	ExternalReferenceID string    `db:"external_reference_id" json:"external_reference_id,omitempty"`
	Notes               string    `db:"notes" json:"notes,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// Finance request statuses
const (
	FinanceStatusPending  = "PENDING"
	FinanceStatusApproved = "APPROVED"
	FinanceStatusRejected = "REJECTED"
	FinanceStatusError    = "ERROR"
)

// IsTerminal reports whether a decision has already been applied.
func (f *FinanceRequest) IsTerminal() bool {
	return f.Status != FinanceStatusPending
}

// Approval decisions carried on the approval-decision channel
const (
	DecisionApproved = "APPROVED"
	DecisionDeclined = "DECLINED"
)

// Stock ledger entry types
const (
	LedgerTypeRestock     = "RESTOCK"
	LedgerTypeReservation = "RESERVATION"
	LedgerTypeSale        = "SALE"
	LedgerTypeAdjustment  = "ADJUSTMENT"
)

// LedgerEntry is an audit record of one inventory mutation.
type LedgerEntry struct {
	ID               int64     `db:"id" json:"id"`
	ProductCode      string    `db:"product_code" json:"product_code"`
	EntryType        string    `db:"entry_type" json:"entry_type"`
	Quantity         int       `db:"quantity" json:"quantity"`
	PreviousQuantity int       `db:"previous_quantity" json:"previous_quantity"`
	NewQuantity      int       `db:"new_quantity" json:"new_quantity"`
	ReferenceID      string    `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// PurchaseItem is one line of a purchase request.
type PurchaseItem struct {
	ProductCode string `json:"product_code" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
}

// PurchaseOutcome is the structured result of one purchase saga. Every path
// through the saga returns one; failures never surface as unstructured
// faults.
type PurchaseOutcome struct {
	Success             bool     `json:"success"`
	Message             string   `json:"message"`
	OrderID             string   `json:"order_id"`
	FinanceRequestID    string   `json:"finance_request_id,omitempty"`
	Subtotal            float64  `json:"subtotal"`
	PromotionalDiscount float64  `json:"promotional_discount"`
	LoyaltyDiscount     float64  `json:"loyalty_discount"`
	LoyaltyTier         string   `json:"loyalty_tier,omitempty"`
	LoyaltyPointsEarned int      `json:"loyalty_points_earned"`
	DeliveryCharge      float64  `json:"delivery_charge"`
	DeliverySkipped     bool     `json:"delivery_skipped,omitempty"`
	FinalTotal          float64  `json:"final_total"`
	AppliedPromotions   []string `json:"applied_promotions,omitempty"`
}
