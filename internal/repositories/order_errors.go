package repositories

import (
	"fmt"

	"github.com/oiy-sale/api/internal/domain"
)

// OrderErrorCode enumerates repository error causes for order lifecycle
// operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates no order exists under the given code.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorStatusConflict indicates the order's current status is not in
	// the transition's allowed predecessor set; Status carries the status
	// observed in-transaction.
	OrderErrorStatusConflict OrderErrorCode = "order_status_conflict"
	// OrderErrorPaymentStatusConflict indicates the payment status forbids the
	// operation.
	OrderErrorPaymentStatusConflict OrderErrorCode = "order_payment_status_conflict"
	// OrderErrorDuplicateTransaction indicates the external transaction id is
	// already attached to another payment.
	OrderErrorDuplicateTransaction OrderErrorCode = "order_duplicate_transaction"
)

// OrderError wraps order lifecycle failures with machine readable codes.
type OrderError struct {
	Op            string
	Code          OrderErrorCode
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Message       string
	Err           error
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
