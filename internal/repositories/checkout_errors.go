package repositories

import "fmt"

// CheckoutErrorCode enumerates repository error causes for the checkout
// transaction.
type CheckoutErrorCode string

const (
	// CheckoutErrorUnknown represents an unspecified failure.
	CheckoutErrorUnknown CheckoutErrorCode = "checkout_unknown"
	// CheckoutErrorStockShort indicates a variant's stock no longer covers the
	// merged requirement; Available holds the stock observed in-transaction.
	CheckoutErrorStockShort CheckoutErrorCode = "checkout_stock_short"
	// CheckoutErrorVariantMissing indicates a required stock document vanished
	// between validation and commit.
	CheckoutErrorVariantMissing CheckoutErrorCode = "checkout_variant_missing"
	// CheckoutErrorCodeExists indicates the generated order code collided.
	CheckoutErrorCodeExists CheckoutErrorCode = "checkout_code_exists"
	// CheckoutErrorIdempotencyExists indicates another request already bound
	// the (scope, key) pair.
	CheckoutErrorIdempotencyExists CheckoutErrorCode = "checkout_idempotency_exists"
)

// CheckoutError wraps checkout-transaction failures with machine readable
// codes plus the variant detail needed for shortage payloads.
type CheckoutError struct {
	Op        string
	Code      CheckoutErrorCode
	VariantID string
	Requested int
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCheckoutError constructs a typed checkout error.
func NewCheckoutError(code CheckoutErrorCode, message string, err error) *CheckoutError {
	if message == "" {
		message = string(code)
	}
	return &CheckoutError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
