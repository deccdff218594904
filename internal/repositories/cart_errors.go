package repositories

import "fmt"

// CartErrorCode enumerates repository error causes for cart operations.
type CartErrorCode string

const (
	// CartErrorUnknown represents an unspecified failure.
	CartErrorUnknown CartErrorCode = "cart_unknown"
	// CartErrorProductNotFound indicates the referenced product document is missing.
	CartErrorProductNotFound CartErrorCode = "cart_product_not_found"
	// CartErrorLineNotFound indicates the cart has no line for the product.
	CartErrorLineNotFound CartErrorCode = "cart_line_not_found"
	// CartErrorInvalidMutation indicates the caller supplied invalid arguments.
	CartErrorInvalidMutation CartErrorCode = "cart_invalid_mutation"
)

// CartError wraps cart-specific failures with machine readable codes.
type CartError struct {
	Op      string
	Code    CartErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CartError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CartError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCartError constructs a typed cart error.
func NewCartError(code CartErrorCode, message string, err error) *CartError {
	if message == "" {
		message = string(code)
	}
	return &CartError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
