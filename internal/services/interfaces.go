package services

import (
	"context"
	"time"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/platform/auth"
)

// Type aliases expose domain models to the services package without reversing
// dependency direction.
type (
	Pagination        = domain.Pagination
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	PaymentStatus     = domain.PaymentStatus
	Payment           = domain.Payment
	Shipment          = domain.Shipment
	ShipmentStatus    = domain.ShipmentStatus
	AuditLogEntry     = domain.AuditLogEntry
	ComponentSnapshot = domain.ComponentSnapshot
)

// CheckoutLine is one requested cart line. Exactly one of VariantID or
// ComboID is set; PriceVersion echoes the price token the storefront
// displayed. ClientPriceVND is the unit price the shopper last saw, carried
// only so stale-price rejections can report what changed.
type CheckoutLine struct {
	VariantID      string
	ComboID        string
	Quantity       int
	PriceVersion   int64
	ClientPriceVND *int64
}

// VariantLine builds a line referencing a single product variant.
func VariantLine(variantID string, quantity int, priceVersion int64) CheckoutLine {
	return CheckoutLine{VariantID: variantID, Quantity: quantity, PriceVersion: priceVersion}
}

// ComboLine builds a line referencing a combo bundle.
func ComboLine(comboID string, quantity int, priceVersion int64) CheckoutLine {
	return CheckoutLine{ComboID: comboID, Quantity: quantity, PriceVersion: priceVersion}
}

// CheckoutCommand carries a complete checkout request.
type CheckoutCommand struct {
	CustomerName     string
	CustomerPhone    string
	CustomerEmail    string
	TeamID           string
	FulfilmentType   domain.FulfilmentType
	PaymentMethod    domain.PaymentMethod
	Note             string
	IdempotencyScope string
	IdempotencyKey   string
	Lines            []CheckoutLine
}

// CheckoutResult returns the committed order. Replayed is true when the
// idempotency ledger resolved the request to a previously created order.
type CheckoutResult struct {
	Order    Order
	Replayed bool
}

// CheckoutService turns validated cart lines into exactly one order.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// ConfirmPaymentCommand records an externally verified bank transfer.
// PaidAt is an RFC 3339 timestamp; empty means "now".
type ConfirmPaymentCommand struct {
	OrderCode     string
	AmountVND     int64
	TransactionID string
	PaidAt        string
	Force         bool
	Note          string
	Actor         auth.Identity
}

// CompleteFulfilmentCommand closes out a pickup order. FulfilledAt is an
// RFC 3339 timestamp; empty means "now".
type CompleteFulfilmentCommand struct {
	OrderCode   string
	FulfilledAt string
	Actor       auth.Identity
}

// CancelOrderCommand cancels an order before it is fulfilled.
type CancelOrderCommand struct {
	OrderCode string
	Reason    string
	Actor     auth.Identity
}

// FailDeliveryCommand records a failed delivery attempt at the order level.
type FailDeliveryCommand struct {
	OrderCode  string
	ReasonCode string
	Note       string
	Actor      auth.Identity
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	TeamID        string
	Search        string
	Pagination    Pagination
}

// PaymentIntent is the VietQR transfer instruction for a pending order.
type PaymentIntent struct {
	BankBIN         string
	BankAccountNo   string
	BankAccountName string
	AmountVND       int64
	Memo            string
}

// OrderService drives the order lifecycle state machine. Every transition is
// guarded and audited atomically with the status write.
type OrderService interface {
	GetOrder(ctx context.Context, code string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	StartFulfilment(ctx context.Context, code string, actor auth.Identity) (Order, error)
	FailDelivery(ctx context.Context, cmd FailDeliveryCommand) (Order, error)
	RetryDelivery(ctx context.Context, code string, actor auth.Identity) (Order, error)
	CompleteFulfilment(ctx context.Context, cmd CompleteFulfilmentCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, code string, actor auth.Identity) error
	PaymentIntent(ctx context.Context, code string) (PaymentIntent, error)
}

// ShipmentCommand addresses one order's delivery task on behalf of an actor.
// PickupETA is an optional RFC 3339 estimate, honoured when the operation
// schedules a pickup.
type ShipmentCommand struct {
	OrderCode string
	PickupETA string
	Actor     auth.Identity
}

// AssignShipmentCommand lets a team manager hand a delivery to a member,
// optionally with a pickup ETA.
type AssignShipmentCommand struct {
	OrderCode      string
	AssigneeUserID string
	PickupETA      string
	Actor          auth.Identity
}

// FailShipmentCommand finishes a delivery attempt unsuccessfully.
type FailShipmentCommand struct {
	OrderCode  string
	ReasonCode string
	Note       string
	Actor      auth.Identity
}

// ShipmentService manages delivery tasks for orders fulfilled by volunteer
// teams. All operations are scoped to the actor's teams unless the actor is
// a global admin.
type ShipmentService interface {
	GetForOrder(ctx context.Context, cmd ShipmentCommand) (Shipment, error)
	SelfAssign(ctx context.Context, cmd ShipmentCommand) (Shipment, error)
	Unassign(ctx context.Context, cmd ShipmentCommand) (Shipment, error)
	Assign(ctx context.Context, cmd AssignShipmentCommand) (Shipment, error)
	StartDelivery(ctx context.Context, cmd ShipmentCommand) (Shipment, error)
	MarkDelivered(ctx context.Context, cmd ShipmentCommand) (Shipment, error)
	MarkFailed(ctx context.Context, cmd FailShipmentCommand) (Shipment, error)
	ListUnassigned(ctx context.Context, actor auth.Identity, pager Pagination) (domain.CursorPage[Shipment], error)
	ListMine(ctx context.Context, actor auth.Identity, pager Pagination) (domain.CursorPage[Shipment], error)
}

// AuditRecord is the payload accepted by the audit writer.
type AuditRecord struct {
	ActorUserID string
	Action      string
	EntityType  string
	EntityID    string
	Details     map[string]any
	OccurredAt  time.Time
}

// AuditLogService persists audit entries outside lifecycle transactions.
// Record is best-effort: failures are logged, never returned, so audit
// plumbing cannot break the primary mutation.
type AuditLogService interface {
	Record(ctx context.Context, record AuditRecord)
	ListByEntity(ctx context.Context, entityType, entityID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error)
}

// OrderEvent notifies downstream consumers of order lifecycle changes.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderCode     string    `json:"orderCode"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderEventPublisher fans order lifecycle events out to interested systems.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// SystemService reports process health for probes.
type SystemService interface {
	Healthz(ctx context.Context) error
}
