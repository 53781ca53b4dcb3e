package models

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable marks a call that failed because a dependency timed
// out, refused the connection, or the circuit breaker is open.
var ErrServiceUnavailable = errors.New("external service unavailable")

// InsufficientStockError is returned when a reservation asks for more than
// the available quantity.
type InsufficientStockError struct {
	ProductCode string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available=%d, requested=%d",
		e.ProductCode, e.Available, e.Requested)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StateConflictError is returned when confirm, cancel or a decision targets
// a record that is no longer PENDING. It is the idempotency guard, not an
// exceptional condition: callers log it and move on.
type StateConflictError struct {
	Kind          string
	ID            string
	CurrentStatus string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s is not PENDING (current status: %s)",
		e.Kind, e.ID, e.CurrentStatus)
}

// ExpiredError is returned when a confirm targets a reservation past its
// expiry time.
type ExpiredError struct {
	ReservationID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("reservation %s has expired", e.ReservationID)
}
