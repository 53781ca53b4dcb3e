package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"purchase-service/internal/models"
	"purchase-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence surface the engine mutates stock through. The
// mutating methods are transactional: ReserveStock and FinalizeReservation
// hold the product's row lock (FOR UPDATE) for the whole mutation, and
// FinalizeReservation compare-and-swaps the reservation out of PENDING, so
// the counters stay safe across service instances. Implemented by the
// Postgres store.
type Store interface {
	GetInventory(ctx context.Context, productCode string) (*models.Inventory, error)
	CreateInventory(ctx context.Context, inv *models.Inventory) error
	AddStock(ctx context.Context, productCode string, quantity int) (*models.Inventory, error)
	ReserveStock(ctx context.Context, r *models.Reservation) (*models.Inventory, error)
	FinalizeReservation(ctx context.Context, r *models.Reservation, deduct bool) (*models.Inventory, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListExpiredReservations(ctx context.Context) ([]models.Reservation, error)
	ListReservationsByProduct(ctx context.Context, productCode string) ([]models.Reservation, error)
	ListReservationsByStatus(ctx context.Context, status string) ([]models.Reservation, error)
	AppendLedger(ctx context.Context, entry *models.LedgerEntry) error
}

// AvailabilityCache is the read-side snapshot the purchase flow consults for
// non-mutating availability checks. Refreshes are best-effort.
type AvailabilityCache interface {
	SetAvailability(ctx context.Context, productCode string, quantity, reserved int) error
	GetAvailability(ctx context.Context, productCode string) (int, bool, error)
}

// LowStockPublisher emits low-stock alerts. Emission failures never fail the
// mutation that triggered them.
type LowStockPublisher interface {
	PublishLowStock(ctx context.Context, event *models.LowStockEvent) error
}

// Engine owns stock counters and reservation records. Mutations for one
// product are serialized in-process through a per-product lock on top of the
// store's row locks, so concurrent reservations can never jointly exceed
// available stock.
type Engine struct {
	store  Store
	cache  AvailabilityCache
	events LowStockPublisher
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewEngine creates a reservation engine. cache and events may be nil.
func NewEngine(store Store, cache AvailabilityCache, events LowStockPublisher, ttl time.Duration) *Engine {
	return &Engine{
		store:  store,
		cache:  cache,
		events: events,
		ttl:    ttl,
		logger: util.GetLogger(),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// productLock returns the mutex serializing mutations for one product
func (e *Engine) productLock(productCode string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[productCode]
	if !ok {
		l = &sync.Mutex{}
		e.locks[productCode] = l
	}
	return l
}

// Reserve places a hold on stock. The availability check, the reserved
// increment and the reservation insert commit as one transaction; the hold
// expires after the configured TTL unless confirmed or cancelled.
func (e *Engine) Reserve(ctx context.Context, productCode string, quantity int, notes string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "Engine.Reserve")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %d", quantity)
	}

	start := time.Now()
	defer func() {
		util.ReservationLatency.Observe(time.Since(start).Seconds())
	}()

	lock := e.productLock(productCode)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	reservation := &models.Reservation{
		ID:          uuid.New().String(),
		ProductCode: productCode,
		Quantity:    quantity,
		Status:      models.ReservationStatusPending,
		Notes:       notes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.ttl),
	}

	inv, err := e.store.ReserveStock(ctx, reservation)
	if err != nil {
		util.ReservationsFailedTotal.WithLabelValues(reserveFailReason(err)).Inc()
		return nil, err
	}

	e.appendLedger(ctx, productCode, models.LedgerTypeReservation, quantity,
		inv.ReservedQuantity-quantity, inv.ReservedQuantity, reservation.ID)

	util.ReservationsCreatedTotal.Inc()
	e.logger.Info("Created reservation",
		zap.String("reservation_id", reservation.ID),
		zap.String("product_code", productCode),
		zap.Int("quantity", quantity),
		zap.Time("expires_at", reservation.ExpiresAt))

	e.afterMutation(ctx, inv, inv.AvailableQuantity()+quantity)
	return reservation, nil
}

func reserveFailReason(err error) string {
	switch err.(type) {
	case *models.InsufficientStockError:
		return "insufficient_stock"
	case *models.NotFoundError:
		return "not_found"
	default:
		return "store_error"
	}
}

// Confirm consumes a pending reservation, permanently deducting stock. This
// is the only operation that removes quantity.
func (e *Engine) Confirm(ctx context.Context, reservationID, notes string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "Engine.Confirm")
	defer span.End()

	reservation, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	lock := e.productLock(reservation.ProductCode)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent cancel or sweep may have won.
	reservation, err = e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.Status != models.ReservationStatusPending {
		return nil, &models.StateConflictError{
			Kind:          "reservation",
			ID:            reservationID,
			CurrentStatus: reservation.Status,
		}
	}

	if e.now().After(reservation.ExpiresAt) {
		return nil, &models.ExpiredError{ReservationID: reservationID}
	}

	processed := e.now()
	reservation.Status = models.ReservationStatusConfirmed
	reservation.ProcessedAt = &processed
	if notes != "" {
		reservation.Notes = notes
	}

	inv, err := e.store.FinalizeReservation(ctx, reservation, true)
	if err != nil {
		return nil, err
	}

	e.appendLedger(ctx, reservation.ProductCode, models.LedgerTypeSale,
		reservation.Quantity, inv.Quantity+reservation.Quantity, inv.Quantity, reservationID)

	util.ReservationsConfirmedTotal.Inc()
	e.logger.Info("Confirmed reservation",
		zap.String("reservation_id", reservationID),
		zap.String("product_code", reservation.ProductCode))

	// Confirm drops quantity and reserved by the same amount, so
	// availability is unchanged and no low-stock alert fires.
	e.afterMutation(ctx, inv, inv.AvailableQuantity())
	return reservation, nil
}

// Cancel releases a pending reservation without deducting stock
func (e *Engine) Cancel(ctx context.Context, reservationID, reason string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "Engine.Cancel")
	defer span.End()

	reservation, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	lock := e.productLock(reservation.ProductCode)
	lock.Lock()
	defer lock.Unlock()

	reservation, err = e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.Status != models.ReservationStatusPending {
		return nil, &models.StateConflictError{
			Kind:          "reservation",
			ID:            reservationID,
			CurrentStatus: reservation.Status,
		}
	}

	processed := e.now()
	reservation.Status = models.ReservationStatusCancelled
	reservation.ProcessedAt = &processed
	if reason == "" {
		reason = "No reason provided"
	}
	reservation.Notes = "Cancelled: " + reason

	inv, err := e.store.FinalizeReservation(ctx, reservation, false)
	if err != nil {
		return nil, err
	}

	e.appendLedger(ctx, reservation.ProductCode, models.LedgerTypeAdjustment,
		reservation.Quantity, inv.ReservedQuantity+reservation.Quantity, inv.ReservedQuantity, reservationID)

	util.ReservationsCancelledTotal.Inc()
	e.logger.Info("Cancelled reservation",
		zap.String("reservation_id", reservationID),
		zap.String("reason", reason))

	e.afterMutation(ctx, inv, inv.AvailableQuantity()-reservation.Quantity)
	return reservation, nil
}

// SweepExpired releases every pending reservation past its expiry time and
// returns how many were released. Each candidate's status is re-read under
// the product lock just before mutating, and the store's finalize is a
// compare-and-swap on PENDING, so a race with a concurrent confirm or
// cancel cannot double-release stock. Per-item failures are logged and the
// batch continues.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "Engine.SweepExpired")
	defer span.End()

	expired, err := e.store.ListExpiredReservations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	count := 0
	for i := range expired {
		if e.sweepOne(ctx, expired[i].ID) {
			count++
		}
	}

	if count > 0 {
		e.logger.Info("Released expired reservations", zap.Int("count", count))
	}
	return count, nil
}

// sweepOne expires a single reservation, reporting whether stock was
// released
func (e *Engine) sweepOne(ctx context.Context, reservationID string) bool {
	reservation, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		e.logger.Error("Sweep failed to load reservation",
			zap.String("reservation_id", reservationID), zap.Error(err))
		return false
	}

	lock := e.productLock(reservation.ProductCode)
	lock.Lock()
	defer lock.Unlock()

	// CAS guard: skip if a confirm or cancel got here first.
	reservation, err = e.store.GetReservation(ctx, reservationID)
	if err != nil {
		e.logger.Error("Sweep failed to re-read reservation",
			zap.String("reservation_id", reservationID), zap.Error(err))
		return false
	}
	if reservation.Status != models.ReservationStatusPending {
		return false
	}
	if !e.now().After(reservation.ExpiresAt) {
		return false
	}

	processed := e.now()
	reservation.Status = models.ReservationStatusExpired
	reservation.ProcessedAt = &processed
	reservation.Notes = "Auto-expired by system"

	inv, err := e.store.FinalizeReservation(ctx, reservation, false)
	if err != nil {
		e.logger.Error("Sweep failed to expire reservation",
			zap.String("reservation_id", reservationID), zap.Error(err))
		return false
	}

	e.appendLedger(ctx, reservation.ProductCode, models.LedgerTypeAdjustment,
		reservation.Quantity, inv.ReservedQuantity+reservation.Quantity, inv.ReservedQuantity, reservationID)

	util.ReservationsExpiredTotal.Inc()
	e.afterMutation(ctx, inv, inv.AvailableQuantity()-reservation.Quantity)
	return true
}

// Available returns current available stock for a product, preferring the
// cache snapshot and falling back to the store.
func (e *Engine) Available(ctx context.Context, productCode string) (int, error) {
	if e.cache != nil {
		available, hit, err := e.cache.GetAvailability(ctx, productCode)
		if err != nil {
			e.logger.Warn("Availability cache read failed, falling back to store",
				zap.String("product_code", productCode), zap.Error(err))
		} else if hit {
			return available, nil
		}
	}

	inv, err := e.store.GetInventory(ctx, productCode)
	if err != nil {
		return 0, err
	}
	return inv.AvailableQuantity(), nil
}

// GetInventory retrieves the inventory record for a product
func (e *Engine) GetInventory(ctx context.Context, productCode string) (*models.Inventory, error) {
	return e.store.GetInventory(ctx, productCode)
}

// GetReservation retrieves a reservation by ID
func (e *Engine) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return e.store.GetReservation(ctx, reservationID)
}

// ListReservationsByProduct retrieves reservations for a product
func (e *Engine) ListReservationsByProduct(ctx context.Context, productCode string) ([]models.Reservation, error) {
	return e.store.ListReservationsByProduct(ctx, productCode)
}

// ListReservationsByStatus retrieves reservations in a given status
func (e *Engine) ListReservationsByStatus(ctx context.Context, status string) ([]models.Reservation, error) {
	return e.store.ListReservationsByStatus(ctx, status)
}

// CreateInventory registers a new product's stock record
func (e *Engine) CreateInventory(ctx context.Context, productCode, storeID string, quantity, lowStockThreshold int) (*models.Inventory, error) {
	inv := &models.Inventory{
		ProductCode:       productCode,
		StoreID:           storeID,
		Quantity:          quantity,
		ReservedQuantity:  0,
		LowStockThreshold: lowStockThreshold,
	}
	if err := e.store.CreateInventory(ctx, inv); err != nil {
		return nil, err
	}

	e.appendLedger(ctx, productCode, models.LedgerTypeRestock, quantity, 0, quantity, "")
	e.afterMutation(ctx, inv, 0)
	return inv, nil
}

// Restock increases total quantity for a product
func (e *Engine) Restock(ctx context.Context, productCode string, quantity int) (*models.Inventory, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("restock quantity must be positive, got %d", quantity)
	}

	lock := e.productLock(productCode)
	lock.Lock()
	defer lock.Unlock()

	inv, err := e.store.AddStock(ctx, productCode, quantity)
	if err != nil {
		return nil, err
	}

	e.appendLedger(ctx, productCode, models.LedgerTypeRestock, quantity,
		inv.Quantity-quantity, inv.Quantity, "")
	e.afterMutation(ctx, inv, inv.AvailableQuantity()-quantity)
	return inv, nil
}

// SyncCache seeds the availability cache from the store
func (e *Engine) SyncCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}

	lister, ok := e.store.(interface {
		ListInventory(ctx context.Context) ([]models.Inventory, error)
	})
	if !ok {
		return nil
	}

	records, err := lister.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}

	for i := range records {
		inv := &records[i]
		if err := e.cache.SetAvailability(ctx, inv.ProductCode, inv.Quantity, inv.ReservedQuantity); err != nil {
			e.logger.Error("Failed to seed availability cache",
				zap.String("product_code", inv.ProductCode), zap.Error(err))
		}
	}

	e.logger.Info("Availability cache synced", zap.Int("count", len(records)))
	return nil
}

// afterMutation refreshes the availability cache and emits a low-stock alert
// when the mutation changed availability onto or below the threshold.
// Confirm leaves availability untouched, so an at-threshold product does not
// re-alert on every sale. Both effects are best-effort.
func (e *Engine) afterMutation(ctx context.Context, inv *models.Inventory, previousAvailable int) {
	if e.cache != nil {
		if err := e.cache.SetAvailability(ctx, inv.ProductCode, inv.Quantity, inv.ReservedQuantity); err != nil {
			e.logger.Warn("Failed to refresh availability cache",
				zap.String("product_code", inv.ProductCode), zap.Error(err))
		}
	}

	if e.events != nil && inv.AvailableQuantity() != previousAvailable && inv.IsLowStock() {
		event := &models.LowStockEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeLowStock,
				Timestamp: e.now(),
			},
			ProductCode:       inv.ProductCode,
			StoreID:           inv.StoreID,
			AvailableQuantity: inv.AvailableQuantity(),
			LowStockThreshold: inv.LowStockThreshold,
		}
		if err := e.events.PublishLowStock(ctx, event); err != nil {
			e.logger.Error("Failed to publish low-stock event",
				zap.String("product_code", inv.ProductCode), zap.Error(err))
		} else {
			util.LowStockEventsTotal.Inc()
		}
	}
}

// appendLedger records an audit entry, logging but never propagating
// failures
func (e *Engine) appendLedger(ctx context.Context, productCode, entryType string, quantity, previous, current int, referenceID string) {
	entry := &models.LedgerEntry{
		ProductCode:      productCode,
		EntryType:        entryType,
		Quantity:         quantity,
		PreviousQuantity: previous,
		NewQuantity:      current,
		ReferenceID:      referenceID,
	}
	if err := e.store.AppendLedger(ctx, entry); err != nil {
		e.logger.Error("Failed to append stock ledger entry",
			zap.String("product_code", productCode), zap.Error(err))
	}
}
