package domain

import (
	"time"
)

// Pagination defines standard paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results plus the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// PaymentStatus tracks the payment side of an order, independent of fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been confirmed yet.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusSuccess indicates a confirmed payment covering the order.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	// PaymentStatusFailed indicates the payment attempt was rejected.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusRefunded indicates a confirmed payment was returned.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusCreated indicates the order exists but payment is unconfirmed.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPaid indicates payment was confirmed and fulfilment may start.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusFulfilling indicates the order is being prepared or delivered.
	OrderStatusFulfilling OrderStatus = "FULFILLING"
	// OrderStatusDeliveryFailed indicates the latest delivery attempt failed.
	OrderStatusDeliveryFailed OrderStatus = "DELIVERY_FAILED"
	// OrderStatusFulfilled indicates the order reached the customer.
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// FulfilmentType describes how the customer receives the order.
type FulfilmentType string

const (
	// FulfilmentPickupSchool hands the order over at the school booth.
	FulfilmentPickupSchool FulfilmentType = "PICKUP_SCHOOL"
	// FulfilmentDelivery ships the order via a volunteer team.
	FulfilmentDelivery FulfilmentType = "DELIVERY"
)

// PaymentMethod enumerates the supported ways customers pay.
type PaymentMethod string

const (
	// PaymentMethodVietQR expects a bank transfer via VietQR code.
	PaymentMethodVietQR PaymentMethod = "VIETQR"
	// PaymentMethodCash records a cash handover at pickup.
	PaymentMethodCash PaymentMethod = "CASH"
)

// LineKind distinguishes the two kinds of order lines.
type LineKind string

const (
	// LineKindVariant marks a line referencing a single product variant.
	LineKindVariant LineKind = "variant"
	// LineKindCombo marks a line referencing a combo bundle.
	LineKindCombo LineKind = "combo"
)

// Order is the durable record created by checkout and driven through the
// fulfilment lifecycle. Code is immutable and globally unique; GrandTotalVND
// never changes after creation.
type Order struct {
	ID               string
	Code             string
	CustomerName     string
	CustomerPhone    string
	CustomerEmail    string
	TeamID           string
	FulfilmentType   FulfilmentType
	PaymentMethod    PaymentMethod
	PaymentReference string
	PaymentStatus    PaymentStatus
	Status           OrderStatus
	Title            string
	GrandTotalVND    int64
	DeliveryAttempts int
	Items            []OrderItem
	Note             string

	PaidAt           *time.Time
	FulfilledAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     string
	DeliveryFailedAt *time.Time
	DeliveryFailCode string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem snapshots one cart line at order-creation time so historical
// orders are unaffected by later catalog changes.
type OrderItem struct {
	Kind          LineKind
	VariantID     string
	ComboID       string
	TitleSnapshot string
	UnitPriceVND  int64
	Quantity      int
	LineTotalVND  int64
	Components    []ComponentSnapshot
}

// ComponentSnapshot freezes one combo component as priced at checkout.
type ComponentSnapshot struct {
	VariantID    string
	SKU          string
	Quantity     int
	UnitPriceVND int64
	PriceVersion int64
}

// ProductVariant is a sellable unit with its own price and stock.
// PriceVersion is an opaque token bumped on any price change; it is only ever
// compared for equality.
type ProductVariant struct {
	ID           string
	SKU          string
	Title        string
	PriceVND     int64
	PriceVersion int64
	Stock        int
	Active       bool
}

// ComboPricingStrategy selects how a combo's unit price is derived.
type ComboPricingStrategy string

const (
	// ComboFixedPrice uses the combo's configured list price.
	ComboFixedPrice ComboPricingStrategy = "FIXED_PRICE"
	// ComboSumComponents charges the component total verbatim.
	ComboSumComponents ComboPricingStrategy = "SUM_COMPONENTS"
	// ComboSumMinusAmount subtracts a flat discount from the component total.
	ComboSumMinusAmount ComboPricingStrategy = "SUM_MINUS_AMOUNT"
	// ComboSumMinusPercent applies a percentage discount to the component total.
	ComboSumMinusPercent ComboPricingStrategy = "SUM_MINUS_PERCENT"
)

// Combo bundles component variants under one derived price.
type Combo struct {
	ID              string
	Title           string
	Active          bool
	PricingStrategy ComboPricingStrategy
	ListPriceVND    int64
	AmountOffVND    int64
	PercentOff      int
	PriceVersion    int64
	Components      []ComboComponent
}

// ComboComponent names one variant inside a combo with its quantity and an
// optional per-component price override.
type ComboComponent struct {
	VariantID        string
	Quantity         int
	PriceOverrideVND *int64
}

// IdempotencyRecord permanently binds a caller-supplied (scope, key) pair to
// the order it produced. Unique on the pair.
type IdempotencyRecord struct {
	Scope     string
	Key       string
	OrderCode string
	CreatedAt time.Time
}

// Payment records one confirmed payment fact against an order.
type Payment struct {
	ID            string
	OrderID       string
	OrderCode     string
	AmountVND     int64
	TransactionID string
	Status        PaymentStatus
	Note          string
	PaidAt        *time.Time
	CreatedAt     time.Time
}

// ShipmentStatus enumerates delivery task states.
type ShipmentStatus string

const (
	// ShipmentStatusPending indicates nobody has claimed the delivery yet.
	ShipmentStatusPending ShipmentStatus = "PENDING"
	// ShipmentStatusAssigned indicates a courier holds the delivery.
	ShipmentStatusAssigned ShipmentStatus = "ASSIGNED"
	// ShipmentStatusInTransit indicates the courier is on the way.
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	// ShipmentStatusDelivered indicates the order reached the customer. Terminal.
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	// ShipmentStatusFailed indicates the delivery attempt failed. Terminal.
	ShipmentStatusFailed ShipmentStatus = "FAILED"
)

// Shipment is the delivery task tracking who physically delivers one order.
type Shipment struct {
	ID             string
	OrderID        string
	OrderCode      string
	TeamID         string
	Status         ShipmentStatus
	AssignedUserID string
	AssignedName   string
	AssignedPhone  string
	PickupETA      *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Completed reports whether the shipment reached a terminal state.
func (s Shipment) Completed() bool {
	return s.Status == ShipmentStatusDelivered || s.Status == ShipmentStatusFailed
}

// TeamRole enumerates membership roles inside a delivery team.
type TeamRole string

const (
	// TeamRoleMember is a regular courier.
	TeamRoleMember TeamRole = "member"
	// TeamRoleManager may assign shipments to other members.
	TeamRoleManager TeamRole = "manager"
)

// Team groups volunteer couriers handling deliveries for a set of orders.
type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// TeamMember records one user's membership and role in a team.
type TeamMember struct {
	TeamID    string
	UserID    string
	Name      string
	Phone     string
	Role      TeamRole
	CreatedAt time.Time
}

// AuditLogEntry is an append-only record of a lifecycle-changing action.
// ActorUserID is empty for system-initiated actions.
type AuditLogEntry struct {
	ID          string
	ActorUserID string
	Action      string
	EntityType  string
	EntityID    string
	Details     map[string]any
	CreatedAt   time.Time
}
