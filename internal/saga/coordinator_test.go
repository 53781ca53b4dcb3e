package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"purchase-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	available map[string]int

	reserveFailFor string
	confirmFailFor string

	reserved  []*models.Reservation
	confirmed []string
	cancelled []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{available: make(map[string]int)}
}

func (fe *fakeEngine) Available(_ context.Context, productCode string) (int, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	v, ok := fe.available[productCode]
	if !ok {
		return 0, &models.NotFoundError{Kind: "inventory", ID: productCode}
	}
	return v, nil
}

func (fe *fakeEngine) Reserve(_ context.Context, productCode string, quantity int, notes string) (*models.Reservation, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if productCode == fe.reserveFailFor {
		return nil, &models.InsufficientStockError{ProductCode: productCode, Available: 0, Requested: quantity}
	}
	r := &models.Reservation{
		ID:          uuid.New().String(),
		ProductCode: productCode,
		Quantity:    quantity,
		Status:      models.ReservationStatusPending,
		Notes:       notes,
	}
	fe.reserved = append(fe.reserved, r)
	return r, nil
}

func (fe *fakeEngine) Confirm(_ context.Context, reservationID, _ string) (*models.Reservation, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	for _, r := range fe.reserved {
		if r.ID == reservationID {
			if r.ProductCode == fe.confirmFailFor {
				return nil, errors.New("confirm failed")
			}
			r.Status = models.ReservationStatusConfirmed
			fe.confirmed = append(fe.confirmed, reservationID)
			return r, nil
		}
	}
	return nil, &models.NotFoundError{Kind: "reservation", ID: reservationID}
}

func (fe *fakeEngine) Cancel(_ context.Context, reservationID, _ string) (*models.Reservation, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	for _, r := range fe.reserved {
		if r.ID == reservationID {
			if r.Status != models.ReservationStatusPending {
				return nil, &models.StateConflictError{Kind: "reservation", ID: reservationID, CurrentStatus: r.Status}
			}
			r.Status = models.ReservationStatusCancelled
			fe.cancelled = append(fe.cancelled, reservationID)
			return r, nil
		}
	}
	return nil, &models.NotFoundError{Kind: "reservation", ID: reservationID}
}

type fakeApprovals struct {
	mu           sync.Mutex
	decideTo     string // status GetRequest resolves to; empty means stays PENDING
	requests     map[string]*models.FinanceRequest
	requestCount int
}

func newFakeApprovals(decideTo string) *fakeApprovals {
	return &fakeApprovals{decideTo: decideTo, requests: make(map[string]*models.FinanceRequest)}
}

func (fa *fakeApprovals) RequestApproval(_ context.Context, customerID string, amount float64, _ string) (*models.FinanceRequest, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.requestCount++
	fr := &models.FinanceRequest{
		RequestID:  uuid.New().String(),
		CustomerID: customerID,
		Amount:     amount,
		Status:     models.FinanceStatusPending,
	}
	fa.requests[fr.RequestID] = fr
	return fr, nil
}

func (fa *fakeApprovals) GetRequest(_ context.Context, requestID string) (*models.FinanceRequest, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fr, ok := fa.requests[requestID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "finance request", ID: requestID}
	}
	cp := *fr
	if fa.decideTo != "" {
		cp.Status = fa.decideTo
	}
	return &cp, nil
}

type fakeCustomers struct {
	known          map[string]bool
	registerFails  bool
	loyaltyErr     error
	discount       int
	tier           string
	recordErr      error
	pointsEarned   int
	registered     []string
	recordedOrders []string
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{known: map[string]bool{"CUST-1": true}, tier: "GOLD", discount: 10, pointsEarned: 50}
}

func (fc *fakeCustomers) Exists(_ context.Context, customerID string) (bool, error) {
	return fc.known[customerID], nil
}

func (fc *fakeCustomers) AutoRegister(_ context.Context, customerID, _ string) error {
	if fc.registerFails {
		return errors.New("registration failed")
	}
	fc.known[customerID] = true
	fc.registered = append(fc.registered, customerID)
	return nil
}

func (fc *fakeCustomers) LoyaltyDiscount(_ context.Context, _ string) (*LoyaltyInfo, error) {
	if fc.loyaltyErr != nil {
		return nil, fc.loyaltyErr
	}
	return &LoyaltyInfo{DiscountPercentage: fc.discount, Tier: fc.tier}, nil
}

func (fc *fakeCustomers) RecordPurchase(_ context.Context, _, orderID string, _ float64, _ string) (*LoyaltyRecord, error) {
	if fc.recordErr != nil {
		return nil, fc.recordErr
	}
	fc.recordedOrders = append(fc.recordedOrders, orderID)
	return &LoyaltyRecord{PointsEarned: fc.pointsEarned, Tier: fc.tier}, nil
}

type fakeStores struct{ known map[string]bool }

func (fs *fakeStores) Exists(_ context.Context, storeID string) (bool, error) {
	return fs.known[storeID], nil
}

type fakePricing struct {
	err    error
	result *PricingResult
}

func (fp *fakePricing) PriceOrder(_ context.Context, items []models.PurchaseItem) (*PricingResult, error) {
	if fp.err != nil {
		return nil, fp.err
	}
	if fp.result != nil {
		return fp.result, nil
	}
	var subtotal float64
	for _, item := range items {
		subtotal += float64(item.Quantity) * 100
	}
	return &PricingResult{Subtotal: subtotal, FinalTotal: subtotal}, nil
}

type fakeDelivery struct {
	err    error
	charge float64
}

func (fd *fakeDelivery) Charge(_ context.Context, _ *DeliveryQuoteRequest) (*DeliveryResult, error) {
	if fd.err != nil {
		return nil, fd.err
	}
	return &DeliveryResult{TotalCharge: fd.charge}, nil
}

type fakeSagaPublisher struct {
	mu        sync.Mutex
	completed []*models.PurchaseCompletedEvent
}

func (fp *fakeSagaPublisher) PublishPurchaseCompleted(_ context.Context, event *models.PurchaseCompletedEvent) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.completed = append(fp.completed, event)
	return nil
}

type sagaFixture struct {
	engine    *fakeEngine
	approvals *fakeApprovals
	customers *fakeCustomers
	stores    *fakeStores
	pricing   *fakePricing
	delivery  *fakeDelivery
	publisher *fakeSagaPublisher
}

func newSagaFixture() *sagaFixture {
	engine := newFakeEngine()
	engine.available["P-100"] = 50
	engine.available["P-200"] = 50
	return &sagaFixture{
		engine:    engine,
		approvals: newFakeApprovals(models.FinanceStatusApproved),
		customers: newFakeCustomers(),
		stores:    &fakeStores{known: map[string]bool{"STORE-001": true}},
		pricing:   &fakePricing{},
		delivery:  &fakeDelivery{charge: 15},
		publisher: &fakeSagaPublisher{},
	}
}

func (f *sagaFixture) coordinator() *Coordinator {
	return NewCoordinator(
		f.engine, f.approvals, f.customers, f.stores, f.pricing, f.delivery, f.publisher,
		time.Millisecond, 100*time.Millisecond,
	)
}

func basicRequest() *PurchaseRequest {
	return &PurchaseRequest{
		CustomerID: "CUST-1",
		StoreID:    "STORE-001",
		Items: []models.PurchaseItem{
			{ProductCode: "P-100", Quantity: 2},
			{ProductCode: "P-200", Quantity: 1},
		},
	}
}

func TestProcessPurchaseHappyPath(t *testing.T) {
	f := newSagaFixture()
	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	require.True(t, outcome.Success, outcome.Message)
	assert.NotEmpty(t, outcome.OrderID)
	assert.NotEmpty(t, outcome.FinanceRequestID)

	// Subtotal 300, 10% loyalty discount, no delivery requested.
	assert.Equal(t, 300.0, outcome.Subtotal)
	assert.Equal(t, 30.0, outcome.LoyaltyDiscount)
	assert.Equal(t, "GOLD", outcome.LoyaltyTier)
	assert.Equal(t, 270.0, outcome.FinalTotal)
	assert.Equal(t, 50, outcome.LoyaltyPointsEarned)

	assert.Len(t, f.engine.reserved, 2)
	assert.Len(t, f.engine.confirmed, 2)
	assert.Empty(t, f.engine.cancelled)

	require.Len(t, f.publisher.completed, 1)
	assert.Equal(t, outcome.OrderID, f.publisher.completed[0].OrderID)
	assert.Contains(t, f.publisher.completed[0].Items, "P-100 x2")
}

func TestProcessPurchaseWithDelivery(t *testing.T) {
	f := newSagaFixture()
	req := basicRequest()
	req.RequiresDelivery = true
	req.DeliveryDistance = 12

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	require.True(t, outcome.Success)
	assert.Equal(t, 15.0, outcome.DeliveryCharge)
	assert.False(t, outcome.DeliverySkipped)
	assert.Equal(t, 285.0, outcome.FinalTotal)
}

func TestDeliveryFailureSkipsDelivery(t *testing.T) {
	f := newSagaFixture()
	f.delivery.err = errors.New("delivery service down")
	req := basicRequest()
	req.RequiresDelivery = true

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	require.True(t, outcome.Success, "delivery outage must not fail the purchase")
	assert.True(t, outcome.DeliverySkipped)
	assert.Equal(t, 0.0, outcome.DeliveryCharge)
}

func TestUnknownCustomerIsAutoRegistered(t *testing.T) {
	f := newSagaFixture()
	req := basicRequest()
	req.CustomerID = "CUST-NEW"
	req.CustomerName = "New Customer"

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	require.True(t, outcome.Success)
	assert.Contains(t, f.customers.registered, "CUST-NEW")
}

func TestRegistrationFailureAborts(t *testing.T) {
	f := newSagaFixture()
	f.customers.registerFails = true
	req := basicRequest()
	req.CustomerID = "CUST-NEW"

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "register")
	assert.Empty(t, f.engine.reserved)
}

func TestUnknownStoreAborts(t *testing.T) {
	f := newSagaFixture()
	req := basicRequest()
	req.StoreID = "STORE-404"

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "Store not found")
	assert.Empty(t, f.engine.reserved)
}

func TestInsufficientAvailabilityAbortsBeforeReserving(t *testing.T) {
	f := newSagaFixture()
	f.engine.available["P-200"] = 0

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "Insufficient inventory")
	assert.Empty(t, f.engine.reserved, "nothing held, nothing to compensate")
	assert.Equal(t, 0, f.approvals.requestCount, "no approval requested for unfulfillable orders")
}

func TestPricingFallbackToCallerTotal(t *testing.T) {
	f := newSagaFixture()
	f.pricing.err = errors.New("pricing down")
	f.customers.discount = 0
	req := basicRequest()
	total := 250.0
	req.TotalAmount = &total

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	require.True(t, outcome.Success)
	assert.Equal(t, 250.0, outcome.Subtotal)
	assert.Equal(t, 250.0, outcome.FinalTotal)
}

func TestPricingDownWithoutCallerTotalAborts(t *testing.T) {
	f := newSagaFixture()
	f.pricing.err = errors.New("pricing down")

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "Pricing service unavailable")
}

func TestLoyaltyFailureDefaultsToNoDiscount(t *testing.T) {
	f := newSagaFixture()
	f.customers.loyaltyErr = errors.New("loyalty down")
	f.customers.recordErr = errors.New("loyalty down")

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	require.True(t, outcome.Success)
	assert.Equal(t, 0.0, outcome.LoyaltyDiscount)
	assert.Equal(t, "BRONZE", outcome.LoyaltyTier)
	assert.Equal(t, 300.0, outcome.FinalTotal)
	assert.Equal(t, 0, outcome.LoyaltyPointsEarned)
}

func TestRejectedApprovalAbortsWithoutReservations(t *testing.T) {
	f := newSagaFixture()
	f.approvals.decideTo = models.FinanceStatusRejected

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "rejected")
	assert.NotEmpty(t, outcome.FinanceRequestID)
	assert.Empty(t, f.engine.reserved)
	assert.Empty(t, f.engine.cancelled, "nothing reserved means nothing to compensate")
}

func TestPendingApprovalTimesOut(t *testing.T) {
	f := newSagaFixture()
	f.approvals.decideTo = "" // decision never arrives

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "did not complete in time")
	assert.Empty(t, f.engine.reserved)
}

func TestPartialReservationIsCompensated(t *testing.T) {
	f := newSagaFixture()
	f.engine.reserveFailFor = "P-200" // first item reserves, second fails

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	assert.False(t, outcome.Success)
	require.Len(t, f.engine.reserved, 1)
	assert.Len(t, f.engine.cancelled, 1, "the successful hold must be released")
	assert.Empty(t, f.engine.confirmed)
}

func TestConfirmFailureCancelsRemainingHolds(t *testing.T) {
	f := newSagaFixture()
	f.engine.confirmFailFor = "P-200" // first confirm succeeds, second fails

	outcome := f.coordinator().ProcessPurchase(context.Background(), basicRequest())

	assert.False(t, outcome.Success)
	assert.Len(t, f.engine.confirmed, 1, "confirm is the point of no return per item")
	assert.Len(t, f.engine.cancelled, 1, "only the still-pending hold is released")
}

func TestDefaultStoreApplied(t *testing.T) {
	f := newSagaFixture()
	req := basicRequest()
	req.StoreID = ""

	outcome := f.coordinator().ProcessPurchase(context.Background(), req)

	require.True(t, outcome.Success)
	require.Len(t, f.publisher.completed, 1)
	assert.Equal(t, "STORE-001", f.publisher.completed[0].StoreID)
}

func TestItemsSummary(t *testing.T) {
	items := []models.PurchaseItem{
		{ProductCode: "P-1", Quantity: 2},
		{ProductCode: "P-2", Quantity: 1},
	}
	assert.Equal(t, "P-1 x2, P-2 x1", itemsSummary(items))
	assert.Equal(t, "", itemsSummary(nil))
}
