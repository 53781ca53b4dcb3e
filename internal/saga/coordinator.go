package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"purchase-service/internal/models"
	"purchase-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationEngine is the narrow surface the saga needs from the stock
// reservation engine.
type ReservationEngine interface {
	Available(ctx context.Context, productCode string) (int, error)
	Reserve(ctx context.Context, productCode string, quantity int, notes string) (*models.Reservation, error)
	Confirm(ctx context.Context, reservationID, notes string) (*models.Reservation, error)
	Cancel(ctx context.Context, reservationID, reason string) (*models.Reservation, error)
}

// ApprovalService is the narrow surface the saga needs from the approval
// correlator.
type ApprovalService interface {
	RequestApproval(ctx context.Context, customerID string, amount float64, purpose string) (*models.FinanceRequest, error)
	GetRequest(ctx context.Context, requestID string) (*models.FinanceRequest, error)
}

// EventPublisher emits the saga's completion event
type EventPublisher interface {
	PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error
}

// PurchaseRequest is one incoming purchase to orchestrate
type PurchaseRequest struct {
	CustomerID        string                `json:"customer_id" binding:"required"`
	CustomerName      string                `json:"customer_name"`
	StoreID           string                `json:"store_id"`
	Items             []models.PurchaseItem `json:"items" binding:"required,min=1"`
	RequiresDelivery  bool                  `json:"requires_delivery"`
	DeliveryDistance  float64               `json:"delivery_distance"`
	DeliveryAddress   string                `json:"delivery_address"`
	IsExpressDelivery bool                  `json:"is_express_delivery"`
	PaymentMethod     string                `json:"payment_method"`
	TotalAmount       *float64              `json:"total_amount,omitempty"`
}

// Coordinator drives the purchase saga. Each ProcessPurchase call owns its
// whole flow: validate, price, get approval, reserve, confirm, record — and
// compensates reservations created so far when a later step fails.
type Coordinator struct {
	engine    ReservationEngine
	approvals ApprovalService
	customers CustomerService
	stores    StoreDirectory
	pricing   PricingService
	delivery  DeliveryService
	events    EventPublisher
	logger    *zap.Logger

	approvalPollInterval time.Duration
	approvalWaitTimeout  time.Duration
}

// NewCoordinator wires the saga's collaborators together
func NewCoordinator(
	engine ReservationEngine,
	approvals ApprovalService,
	customers CustomerService,
	stores StoreDirectory,
	pricing PricingService,
	delivery DeliveryService,
	events EventPublisher,
	approvalPollInterval time.Duration,
	approvalWaitTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		engine:               engine,
		approvals:            approvals,
		customers:            customers,
		stores:               stores,
		pricing:              pricing,
		delivery:             delivery,
		events:               events,
		logger:               util.GetLogger(),
		approvalPollInterval: approvalPollInterval,
		approvalWaitTimeout:  approvalWaitTimeout,
	}
}

// ProcessPurchase runs the purchase saga end to end. Every path returns a
// structured outcome; failures before the first reservation need no
// compensation, failures after it cancel whatever was reserved.
func (co *Coordinator) ProcessPurchase(ctx context.Context, req *PurchaseRequest) *models.PurchaseOutcome {
	ctx, span := util.StartSpan(ctx, "Coordinator.ProcessPurchase")
	defer span.End()

	util.PurchasesStartedTotal.Inc()
	start := time.Now()
	defer func() {
		util.PurchaseDuration.Observe(time.Since(start).Seconds())
	}()

	orderID := uuid.New().String()
	storeID := req.StoreID
	if storeID == "" {
		storeID = "STORE-001"
	}

	logger := co.logger.With(
		zap.String("order_id", orderID),
		zap.String("customer_id", req.CustomerID))
	logger.Info("Starting purchase saga")

	// Step 1: customer must exist; first-time buyers are registered on the
	// fly.
	exists, err := co.customers.Exists(ctx, req.CustomerID)
	if err != nil {
		logger.Warn("Customer lookup failed", zap.Error(err))
	}
	if !exists {
		if err := co.customers.AutoRegister(ctx, req.CustomerID, req.CustomerName); err != nil {
			logger.Warn("Customer auto-registration failed", zap.Error(err))
			return co.fail(orderID, "customer_registration",
				fmt.Sprintf("Failed to register customer: %s. Please try again or register manually.", req.CustomerID))
		}
		logger.Info("Customer auto-registered")
	}

	// Step 2: stores are pre-configured by administrators, never
	// auto-created.
	storeExists, err := co.stores.Exists(ctx, storeID)
	if err != nil || !storeExists {
		if err != nil {
			logger.Warn("Store lookup failed", zap.Error(err))
		}
		return co.fail(orderID, "store_not_found",
			fmt.Sprintf("Store not found: %s. Stores must be configured by an administrator before processing orders.", storeID))
	}

	// Step 3: non-mutating availability check per item. Nothing is held
	// yet, so the first shortfall aborts with no compensation.
	for _, item := range req.Items {
		available, err := co.engine.Available(ctx, item.ProductCode)
		if err != nil {
			return co.fail(orderID, "availability_check",
				fmt.Sprintf("Failed to check inventory for product: %s", item.ProductCode))
		}
		if available < item.Quantity {
			return co.fail(orderID, "insufficient_stock",
				fmt.Sprintf("Insufficient inventory for product: %s", item.ProductCode))
		}
	}

	// Step 4: price the order, falling back to a caller-supplied total when
	// the pricing collaborator is unavailable.
	outcome := &models.PurchaseOutcome{OrderID: orderID}
	pricing, err := co.pricing.PriceOrder(ctx, req.Items)
	if err != nil {
		logger.Warn("Pricing collaborator unavailable", zap.Error(err))
		if req.TotalAmount == nil {
			return co.fail(orderID, "pricing_unavailable",
				"Pricing service unavailable and no total amount provided")
		}
		pricing = &PricingResult{Subtotal: *req.TotalAmount, FinalTotal: *req.TotalAmount}
	}
	outcome.Subtotal = pricing.Subtotal
	outcome.PromotionalDiscount = pricing.PromotionalDiscount
	outcome.AppliedPromotions = pricing.AppliedPromotions

	// Step 5: loyalty discount, defaulting to 0% / base tier on failure.
	loyalty, err := co.customers.LoyaltyDiscount(ctx, req.CustomerID)
	if err != nil {
		logger.Warn("Loyalty collaborator unavailable, defaulting", zap.Error(err))
		loyalty = &LoyaltyInfo{DiscountPercentage: 0, Tier: "BRONZE"}
	}
	loyaltyDiscount := pricing.FinalTotal * float64(loyalty.DiscountPercentage) / 100
	afterLoyalty := pricing.FinalTotal - loyaltyDiscount
	outcome.LoyaltyDiscount = loyaltyDiscount
	outcome.LoyaltyTier = loyalty.Tier

	// Step 6: delivery charge; a failed quote skips delivery rather than
	// failing the purchase, and the outcome says so.
	var deliveryCharge float64
	if req.RequiresDelivery {
		quote, err := co.delivery.Charge(ctx, &DeliveryQuoteRequest{
			OrderID:    orderID,
			CustomerID: req.CustomerID,
			StoreID:    storeID,
			OrderValue: afterLoyalty,
			Distance:   req.DeliveryDistance,
			Address:    req.DeliveryAddress,
			IsExpress:  req.IsExpressDelivery,
		})
		if err != nil {
			logger.Warn("Delivery collaborator unavailable, skipping delivery", zap.Error(err))
			outcome.DeliverySkipped = true
		} else {
			deliveryCharge = quote.TotalCharge
		}
	}
	outcome.DeliveryCharge = deliveryCharge

	finalTotal := afterLoyalty + deliveryCharge
	outcome.FinalTotal = finalTotal

	amountForApproval := finalTotal
	if req.TotalAmount != nil {
		amountForApproval = *req.TotalAmount
	}

	// Step 7: finance approval. The request returns PENDING immediately;
	// the saga observes the out-of-band decision by polling until a
	// terminal status or the wait deadline. No stock is held yet, so a
	// non-approved outcome aborts without compensation.
	request, err := co.approvals.RequestApproval(ctx, req.CustomerID, amountForApproval, "Purchase")
	if err != nil {
		return co.failWithPricing(outcome, "approval_request",
			"Failed to submit finance approval request")
	}
	outcome.FinanceRequestID = request.RequestID

	decided, err := co.awaitDecision(ctx, request.RequestID)
	if err != nil {
		return co.failWithPricing(outcome, "approval_timeout",
			"Finance approval did not complete in time")
	}
	if decided.Status != models.FinanceStatusApproved {
		return co.failWithPricing(outcome, "approval_rejected", "Finance approval rejected")
	}

	// Step 8: reserve stock per item. From here on, failure means
	// compensation: cancel whatever was created.
	reservationIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		reservation, err := co.engine.Reserve(ctx, item.ProductCode, item.Quantity,
			"Reserved for order: "+orderID)
		if err != nil {
			logger.Warn("Reservation failed, compensating",
				zap.String("product_code", item.ProductCode), zap.Error(err))
			co.compensate(ctx, orderID, reservationIDs)
			return co.failWithPricing(outcome, "reservation_failed",
				fmt.Sprintf("Failed to reserve inventory for product: %s", item.ProductCode))
		}
		reservationIDs = append(reservationIDs, reservation.ID)
	}

	// Step 9: confirm every reservation. Confirm is the point of no return
	// per item; on failure only still-pending reservations can be
	// cancelled, already-confirmed items stay deducted.
	for i, id := range reservationIDs {
		if _, err := co.engine.Confirm(ctx, id, "Confirmed via purchase workflow"); err != nil {
			logger.Error("Confirm failed, compensating remaining reservations",
				zap.String("reservation_id", id),
				zap.Int("confirmed_count", i),
				zap.Error(err))
			co.compensate(ctx, orderID, reservationIDs)
			return co.failWithPricing(outcome, "confirm_failed",
				"Failed to confirm reservation; purchase rolled back")
		}
	}

	// Step 10: award loyalty points, best-effort.
	record, err := co.customers.RecordPurchase(ctx, req.CustomerID, orderID, finalTotal, itemsSummary(req.Items))
	if err != nil {
		logger.Warn("Failed to record loyalty purchase", zap.Error(err))
	} else if record != nil {
		outcome.LoyaltyPointsEarned = record.PointsEarned
		if record.Tier != "" {
			outcome.LoyaltyTier = record.Tier
		}
	}

	// Step 11: completion event, fire-and-forget.
	co.publishCompleted(ctx, orderID, req, storeID, finalTotal,
		outcome.PromotionalDiscount+loyaltyDiscount)

	util.PurchasesCompletedTotal.Inc()
	logger.Info("Purchase completed", zap.Float64("final_total", finalTotal))

	outcome.Success = true
	outcome.Message = "Purchase completed successfully"
	return outcome
}

// awaitDecision polls the finance request until it reaches a terminal
// status or the wait deadline passes.
func (co *Coordinator) awaitDecision(ctx context.Context, requestID string) (*models.FinanceRequest, error) {
	deadline := time.Now().Add(co.approvalWaitTimeout)
	ticker := time.NewTicker(co.approvalPollInterval)
	defer ticker.Stop()

	for {
		request, err := co.approvals.GetRequest(ctx, requestID)
		if err == nil && request.IsTerminal() {
			return request, nil
		}
		if err != nil {
			co.logger.Warn("Failed to poll finance request",
				zap.String("request_id", requestID), zap.Error(err))
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("finance request %s still pending after %s", requestID, co.approvalWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// compensate cancels every reservation still cancellable. Failures here are
// logged only; they never change the already-decided saga outcome.
func (co *Coordinator) compensate(ctx context.Context, orderID string, reservationIDs []string) {
	if len(reservationIDs) == 0 {
		return
	}
	util.CompensationsTotal.Inc()

	for _, id := range reservationIDs {
		if _, err := co.engine.Cancel(ctx, id, "Purchase workflow failed for order "+orderID); err != nil {
			co.logger.Error("Compensation cancel failed",
				zap.String("order_id", orderID),
				zap.String("reservation_id", id),
				zap.Error(err))
		}
	}
}

func (co *Coordinator) publishCompleted(ctx context.Context, orderID string, req *PurchaseRequest, storeID string, total, discount float64) {
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "CARD"
	}

	event := &models.PurchaseCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePurchaseCompleted,
			Timestamp: time.Now(),
		},
		OrderID:        orderID,
		CustomerID:     req.CustomerID,
		StoreID:        storeID,
		TotalAmount:    total,
		DiscountAmount: discount,
		PaymentMethod:  paymentMethod,
		Items:          itemsSummary(req.Items),
	}
	if err := co.events.PublishPurchaseCompleted(ctx, event); err != nil {
		co.logger.Error("Failed to publish purchase-completed event",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

func (co *Coordinator) fail(orderID, reason, message string) *models.PurchaseOutcome {
	util.PurchasesFailedTotal.WithLabelValues(reason).Inc()
	return &models.PurchaseOutcome{
		Success: false,
		OrderID: orderID,
		Message: message,
	}
}

// failWithPricing preserves the pricing breakdown accumulated so far on the
// failure response.
func (co *Coordinator) failWithPricing(outcome *models.PurchaseOutcome, reason, message string) *models.PurchaseOutcome {
	util.PurchasesFailedTotal.WithLabelValues(reason).Inc()
	outcome.Success = false
	outcome.Message = message
	return outcome
}

func itemsSummary(items []models.PurchaseItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", item.ProductCode, item.Quantity))
	}
	return strings.Join(parts, ", ")
}
