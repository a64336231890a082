package repositories

import (
	"context"
	"time"

	"github.com/oiy-sale/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Orders() OrderRepository
	Idempotency() IdempotencyRepository
	Payments() PaymentRepository
	Shipments() ShipmentRepository
	Teams() TeamRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads the variant and combo snapshot used by checkout.
// Lookups are batched; missing ids are simply absent from the result map.
type CatalogRepository interface {
	GetVariants(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error)
	GetCombos(ctx context.Context, ids []string) (map[string]domain.Combo, error)
}

// CreateOrderRequest carries everything the checkout transaction commits
// atomically: the fully built order, the merged per-variant stock
// requirements, and the idempotency record binding the caller's key.
type CreateOrderRequest struct {
	Order             domain.Order
	StockRequirements map[string]int
	Idempotency       domain.IdempotencyRecord
}

// OrderTransitionRequest describes one guarded lifecycle transition. The
// repository re-reads the order inside the transaction, verifies the current
// status is in Allowed, applies the mutation and appends the audit entry in
// the same transaction.
type OrderTransitionRequest struct {
	Code    string
	Allowed []domain.OrderStatus
	Target  domain.OrderStatus
	Now     time.Time

	SetPaidAt                 *time.Time
	SetFulfilledAt            *time.Time
	SetCancelledAt            *time.Time
	SetDeliveryFailedAt       *time.Time
	CancelReason              string
	DeliveryFailCode          string
	Note                      string
	IncrementDeliveryAttempts bool

	Audit domain.AuditLogEntry
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	TeamID        string
	Search        string
}

// OrderRepository persists orders, their embedded items and their lifecycle.
type OrderRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Order, error)
	List(ctx context.Context, filter OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// CreateWithReservation commits the checkout triad in one transaction:
	// conditional stock decrements, the order document, and the idempotency
	// record. Typed CheckoutError values signal shortages and key races.
	CreateWithReservation(ctx context.Context, req CreateOrderRequest) (domain.Order, error)
	Transition(ctx context.Context, req OrderTransitionRequest) (domain.Order, error)
	// Delete removes the order and its dependent documents. Not a lifecycle
	// transition; reserved for the administrative escape hatch.
	Delete(ctx context.Context, code string) error
}

// IdempotencyRepository reads the checkout idempotency ledger. Writes happen
// only inside OrderRepository.CreateWithReservation.
type IdempotencyRepository interface {
	Find(ctx context.Context, scope, key string) (domain.IdempotencyRecord, error)
}

// ConfirmPaymentRequest records an externally confirmed payment fact and
// advances the order in one transaction.
type ConfirmPaymentRequest struct {
	OrderCode     string
	Payment       domain.Payment
	Allowed       []domain.OrderStatus
	RequireStatus []domain.PaymentStatus
	Target        domain.OrderStatus
	PaidAt        time.Time
	Now           time.Time
	Audit         domain.AuditLogEntry
}

// ConfirmPaymentResult returns the updated order and stored payment.
type ConfirmPaymentResult struct {
	Order   domain.Order
	Payment domain.Payment
}

// PaymentRepository persists payment facts tied to orders.
type PaymentRepository interface {
	Confirm(ctx context.Context, req ConfirmPaymentRequest) (ConfirmPaymentResult, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// ShipmentOutcome selects the terminal state of a completion request.
type ShipmentOutcome string

const (
	// ShipmentOutcomeDelivered completes the shipment and fulfils the order.
	ShipmentOutcomeDelivered ShipmentOutcome = "delivered"
	// ShipmentOutcomeFailed fails the shipment and flags the order for retry.
	ShipmentOutcomeFailed ShipmentOutcome = "failed"
)

// ShipmentAssignee is the courier snapshot written by an assignment
// mutation. An empty UserID clears the assignee fields.
type ShipmentAssignee struct {
	UserID string
	Name   string
	Phone  string
}

// ShipmentTransitionRequest advances one shipment between non-terminal
// statuses. The repository re-reads the shipment inside a transaction,
// verifies the current status is in Allowed, applies the mutation and
// appends the audit entry atomically. Completion (DELIVERED/FAILED) goes
// through ShipmentCompletionRequest instead because it also moves the
// parent order.
type ShipmentTransitionRequest struct {
	OrderID   string
	Allowed   []domain.ShipmentStatus
	Target    domain.ShipmentStatus
	Assignee  *ShipmentAssignee
	PickupETA *time.Time
	Now       time.Time
	Audit     domain.AuditLogEntry
}

// ShipmentCompletionRequest finishes a delivery attempt. The repository
// updates the shipment and the parent order atomically, appending the audit
// entry in the same transaction.
type ShipmentCompletionRequest struct {
	OrderCode  string
	Outcome    ShipmentOutcome
	Now        time.Time
	ReasonCode string
	Note       string
	Audit      domain.AuditLogEntry
}

// ShipmentCompletionResult returns both documents as committed.
type ShipmentCompletionResult struct {
	Shipment domain.Shipment
	Order    domain.Order
}

// ShipmentRepository persists delivery tasks.
type ShipmentRepository interface {
	FindByOrderID(ctx context.Context, orderID string) (domain.Shipment, error)
	// Create materializes the PENDING row on first touch. Conflicts when the
	// order already has a shipment.
	Create(ctx context.Context, shipment domain.Shipment) error
	// Transition guards assignment and start-of-delivery mutations with an
	// in-transaction status re-check; concurrent claims lose with a typed
	// status conflict instead of overwriting each other.
	Transition(ctx context.Context, req ShipmentTransitionRequest) (domain.Shipment, error)
	Complete(ctx context.Context, req ShipmentCompletionRequest) (ShipmentCompletionResult, error)
	ListUnassigned(ctx context.Context, teamIDs []string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error)
	ListByAssignee(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error)
}

// TeamRepository reads delivery team membership.
type TeamRepository interface {
	FindMember(ctx context.Context, teamID, userID string) (domain.TeamMember, error)
}

// AuditLogRepository appends and lists immutable audit entries. Entries
// written alongside a state change go through the owning repository's
// transaction instead.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByEntity(ctx context.Context, entityType, entityID string, pager domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository verifies the persistence layer is reachable.
type HealthRepository interface {
	Check(ctx context.Context) error
}
