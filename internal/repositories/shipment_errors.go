package repositories

import (
	"fmt"

	"github.com/oiy-sale/api/internal/domain"
)

// ShipmentErrorCode enumerates repository error causes for shipment
// operations.
type ShipmentErrorCode string

const (
	// ShipmentErrorUnknown represents an unspecified failure.
	ShipmentErrorUnknown ShipmentErrorCode = "shipment_unknown"
	// ShipmentErrorNotFound indicates the order has no shipment row yet.
	ShipmentErrorNotFound ShipmentErrorCode = "shipment_not_found"
	// ShipmentErrorExists indicates the order already has a shipment row.
	ShipmentErrorExists ShipmentErrorCode = "shipment_exists"
	// ShipmentErrorStatusConflict indicates the shipment's current status
	// forbids the operation; Status carries the status observed in-transaction.
	ShipmentErrorStatusConflict ShipmentErrorCode = "shipment_status_conflict"
)

// ShipmentError wraps shipment failures with machine readable codes.
type ShipmentError struct {
	Op      string
	Code    ShipmentErrorCode
	Status  domain.ShipmentStatus
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ShipmentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *ShipmentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewShipmentError constructs a typed shipment error.
func NewShipmentError(code ShipmentErrorCode, message string, err error) *ShipmentError {
	if message == "" {
		message = string(code)
	}
	return &ShipmentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
