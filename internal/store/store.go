package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"purchase-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetInventory retrieves the inventory record for a product
func (s *Store) GetInventory(ctx context.Context, productCode string) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv,
		"SELECT * FROM inventory WHERE product_code = $1", productCode)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "inventory", ID: productCode}
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInventory retrieves all inventory records
func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	var records []models.Inventory
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM inventory ORDER BY product_code")
	return records, err
}

// CreateInventory inserts a new inventory record
func (s *Store) CreateInventory(ctx context.Context, inv *models.Inventory) error {
	query := `
		INSERT INTO inventory (product_code, store_id, quantity, reserved_quantity, low_stock_threshold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING updated_at`

	return s.db.GetContext(ctx, &inv.UpdatedAt, query,
		inv.ProductCode, inv.StoreID, inv.Quantity, inv.ReservedQuantity, inv.LowStockThreshold)
}

// AddStock atomically increases total quantity for a product and returns
// the updated record.
func (s *Store) AddStock(ctx context.Context, productCode string, quantity int) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv,
		`UPDATE inventory
		 SET quantity = quantity + $1, updated_at = NOW()
		 WHERE product_code = $2
		 RETURNING *`,
		quantity, productCode)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "inventory", ID: productCode}
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ReserveStock places a hold within a transaction (FOR UPDATE lock). The
// availability check, the reserved increment and the reservation insert
// commit as one unit, so concurrent instances cannot jointly oversell and a
// crash cannot leak the reserved counter.
func (s *Store) ReserveStock(ctx context.Context, r *models.Reservation) (*models.Inventory, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var inv models.Inventory
	err = tx.GetContext(ctx, &inv,
		"SELECT * FROM inventory WHERE product_code = $1 FOR UPDATE", r.ProductCode)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "inventory", ID: r.ProductCode}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}

	if inv.AvailableQuantity() < r.Quantity {
		return nil, &models.InsufficientStockError{
			ProductCode: r.ProductCode,
			Available:   inv.AvailableQuantity(),
			Requested:   r.Quantity,
		}
	}

	inv.ReservedQuantity += r.Quantity
	_, err = tx.ExecContext(ctx,
		"UPDATE inventory SET reserved_quantity = $1, updated_at = NOW() WHERE product_code = $2",
		inv.ReservedQuantity, r.ProductCode)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (reservation_id, product_code, quantity, status, notes, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ProductCode, r.Quantity, r.Status, r.Notes, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// FinalizeReservation moves a PENDING reservation to the terminal status
// carried on r and adjusts the stock counters, all within a transaction
// holding the product's row lock. The reservation update is a compare-and-
// swap on status = PENDING; a reservation that already left PENDING returns
// StateConflictError with its current status, which makes duplicate
// finalizations safe across processes. deduct selects confirm semantics
// (quantity and reserved both drop) versus cancel/expire semantics (reserved
// drops, clamped at zero).
func (s *Store) FinalizeReservation(ctx context.Context, r *models.Reservation, deduct bool) (*models.Inventory, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var inv models.Inventory
	err = tx.GetContext(ctx, &inv,
		"SELECT * FROM inventory WHERE product_code = $1 FOR UPDATE", r.ProductCode)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "inventory", ID: r.ProductCode}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = $1, notes = $2, processed_at = $3
		 WHERE reservation_id = $4 AND status = $5`,
		r.Status, r.Notes, r.ProcessedAt, r.ID, models.ReservationStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		var current string
		err = tx.GetContext(ctx, &current,
			"SELECT status FROM reservations WHERE reservation_id = $1", r.ID)
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Kind: "reservation", ID: r.ID}
		}
		if err != nil {
			return nil, err
		}
		return nil, &models.StateConflictError{
			Kind:          "reservation",
			ID:            r.ID,
			CurrentStatus: current,
		}
	}

	if deduct {
		inv.Quantity -= r.Quantity
		inv.ReservedQuantity -= r.Quantity
	} else {
		inv.ReservedQuantity -= r.Quantity
		if inv.ReservedQuantity < 0 {
			inv.ReservedQuantity = 0
		}
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE inventory SET quantity = $1, reserved_quantity = $2, updated_at = NOW() WHERE product_code = $3",
		inv.Quantity, inv.ReservedQuantity, r.ProductCode)
	if err != nil {
		return nil, fmt.Errorf("failed to save inventory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// AppendLedger records one inventory mutation in the stock ledger
func (s *Store) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO stock_ledger (product_code, entry_type, quantity, previous_quantity, new_quantity, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, entry, query,
		entry.ProductCode, entry.EntryType, entry.Quantity,
		entry.PreviousQuantity, entry.NewQuantity, entry.ReferenceID)
}
