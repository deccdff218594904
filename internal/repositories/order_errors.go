package repositories

import (
	"fmt"

	domain "github.com/northmart/api/internal/domain"
)

// OrderErrorCode enumerates repository error causes for order operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorNumberTaken indicates the order number is already registered.
	OrderErrorNumberTaken OrderErrorCode = "order_number_taken"
	// OrderErrorCartChanged indicates the cart mutated between snapshot and commit.
	OrderErrorCartChanged OrderErrorCode = "order_cart_changed"
	// OrderErrorStatusChanged indicates the compare-and-set transition lost the race.
	OrderErrorStatusChanged OrderErrorCode = "order_status_changed"
	// OrderErrorInvalidInput indicates the caller supplied invalid arguments.
	OrderErrorInvalidInput OrderErrorCode = "order_invalid_input"
)

// OrderError wraps order-specific failures with machine readable codes. For
// OrderErrorStatusChanged, Current carries the status found in storage so
// callers can decide whether the intent was already satisfied.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Current domain.OrderStatus
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
