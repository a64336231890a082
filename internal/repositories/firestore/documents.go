package firestore

import (
	"strings"
	"time"

	"github.com/oiy-sale/api/internal/domain"
)

const (
	variantsCollection        = "variants"
	combosCollection          = "combos"
	ordersCollection          = "orders"
	idempotencyKeysCollection = "idempotencyKeys"
	paymentsCollection        = "payments"
	paymentTxIndexCollection  = "paymentTxIndex"
	shipmentsCollection       = "shipments"
	teamsCollection           = "teams"
	teamMembersCollection     = "members"
	auditLogsCollection       = "auditLogs"
)

type variantDocument struct {
	SKU          string `firestore:"sku"`
	Title        string `firestore:"title"`
	PriceVND     int64  `firestore:"priceVnd"`
	PriceVersion int64  `firestore:"priceVersion"`
	Stock        int    `firestore:"stock"`
	Active       bool   `firestore:"active"`
}

func (d variantDocument) toDomain(id string) domain.ProductVariant {
	return domain.ProductVariant{
		ID:           id,
		SKU:          strings.TrimSpace(d.SKU),
		Title:        strings.TrimSpace(d.Title),
		PriceVND:     d.PriceVND,
		PriceVersion: d.PriceVersion,
		Stock:        d.Stock,
		Active:       d.Active,
	}
}

type comboComponentDocument struct {
	VariantRef       string `firestore:"variantRef"`
	Quantity         int    `firestore:"qty"`
	PriceOverrideVND *int64 `firestore:"priceOverrideVnd,omitempty"`
}

type comboDocument struct {
	Title           string                   `firestore:"title"`
	Active          bool                     `firestore:"active"`
	PricingStrategy string                   `firestore:"pricingStrategy"`
	ListPriceVND    int64                    `firestore:"listPriceVnd"`
	AmountOffVND    int64                    `firestore:"amountOffVnd"`
	PercentOff      int                      `firestore:"percentOff"`
	PriceVersion    int64                    `firestore:"priceVersion"`
	Components      []comboComponentDocument `firestore:"components"`
}

func (d comboDocument) toDomain(id string) domain.Combo {
	components := make([]domain.ComboComponent, len(d.Components))
	for i, component := range d.Components {
		components[i] = domain.ComboComponent{
			VariantID:        strings.TrimSpace(component.VariantRef),
			Quantity:         component.Quantity,
			PriceOverrideVND: component.PriceOverrideVND,
		}
	}
	return domain.Combo{
		ID:              id,
		Title:           strings.TrimSpace(d.Title),
		Active:          d.Active,
		PricingStrategy: domain.ComboPricingStrategy(strings.TrimSpace(d.PricingStrategy)),
		ListPriceVND:    d.ListPriceVND,
		AmountOffVND:    d.AmountOffVND,
		PercentOff:      d.PercentOff,
		PriceVersion:    d.PriceVersion,
		Components:      components,
	}
}

type componentSnapshotDocument struct {
	VariantRef   string `firestore:"variantRef"`
	SKU          string `firestore:"sku"`
	Quantity     int    `firestore:"qty"`
	UnitPriceVND int64  `firestore:"unitPriceVnd"`
	PriceVersion int64  `firestore:"priceVersion"`
}

type orderItemDocument struct {
	Kind         string                      `firestore:"kind"`
	VariantRef   string                      `firestore:"variantRef,omitempty"`
	ComboRef     string                      `firestore:"comboRef,omitempty"`
	Title        string                      `firestore:"title"`
	UnitPriceVND int64                       `firestore:"unitPriceVnd"`
	Quantity     int                         `firestore:"qty"`
	LineTotalVND int64                       `firestore:"lineTotalVnd"`
	Components   []componentSnapshotDocument `firestore:"components,omitempty"`
}

// orderDocument is keyed by the human-facing order code so code uniqueness is
// enforced by the document id itself.
type orderDocument struct {
	OrderID          string              `firestore:"orderId"`
	Code             string              `firestore:"code"`
	CustomerName     string              `firestore:"customerName"`
	CustomerPhone    string              `firestore:"customerPhone"`
	CustomerEmail    string              `firestore:"customerEmail,omitempty"`
	TeamRef          string              `firestore:"teamRef,omitempty"`
	FulfilmentType   string              `firestore:"fulfilmentType"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentReference string              `firestore:"paymentReference"`
	PaymentStatus    string              `firestore:"paymentStatus"`
	Status           string              `firestore:"status"`
	Title            string              `firestore:"title"`
	GrandTotalVND    int64               `firestore:"grandTotalVnd"`
	DeliveryAttempts int                 `firestore:"deliveryAttempts"`
	Items            []orderItemDocument `firestore:"items"`
	Note             string              `firestore:"note,omitempty"`
	PaidAt           *time.Time          `firestore:"paidAt,omitempty"`
	FulfilledAt      *time.Time          `firestore:"fulfilledAt,omitempty"`
	CancelledAt      *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason     string              `firestore:"cancelReason,omitempty"`
	DeliveryFailedAt *time.Time          `firestore:"deliveryFailedAt,omitempty"`
	DeliveryFailCode string              `firestore:"deliveryFailCode,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		components := make([]componentSnapshotDocument, len(item.Components))
		for j, component := range item.Components {
			components[j] = componentSnapshotDocument{
				VariantRef:   strings.TrimSpace(component.VariantID),
				SKU:          strings.TrimSpace(component.SKU),
				Quantity:     component.Quantity,
				UnitPriceVND: component.UnitPriceVND,
				PriceVersion: component.PriceVersion,
			}
		}
		items[i] = orderItemDocument{
			Kind:         string(item.Kind),
			VariantRef:   strings.TrimSpace(item.VariantID),
			ComboRef:     strings.TrimSpace(item.ComboID),
			Title:        strings.TrimSpace(item.TitleSnapshot),
			UnitPriceVND: item.UnitPriceVND,
			Quantity:     item.Quantity,
			LineTotalVND: item.LineTotalVND,
			Components:   components,
		}
	}
	return orderDocument{
		OrderID:          strings.TrimSpace(order.ID),
		Code:             strings.TrimSpace(order.Code),
		CustomerName:     strings.TrimSpace(order.CustomerName),
		CustomerPhone:    strings.TrimSpace(order.CustomerPhone),
		CustomerEmail:    strings.TrimSpace(order.CustomerEmail),
		TeamRef:          strings.TrimSpace(order.TeamID),
		FulfilmentType:   string(order.FulfilmentType),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: strings.TrimSpace(order.PaymentReference),
		PaymentStatus:    string(order.PaymentStatus),
		Status:           string(order.Status),
		Title:            strings.TrimSpace(order.Title),
		GrandTotalVND:    order.GrandTotalVND,
		DeliveryAttempts: order.DeliveryAttempts,
		Items:            items,
		Note:             strings.TrimSpace(order.Note),
		PaidAt:           utcOrNil(order.PaidAt),
		FulfilledAt:      utcOrNil(order.FulfilledAt),
		CancelledAt:      utcOrNil(order.CancelledAt),
		CancelReason:     strings.TrimSpace(order.CancelReason),
		DeliveryFailedAt: utcOrNil(order.DeliveryFailedAt),
		DeliveryFailCode: strings.TrimSpace(order.DeliveryFailCode),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(code string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		components := make([]domain.ComponentSnapshot, len(item.Components))
		for j, component := range item.Components {
			components[j] = domain.ComponentSnapshot{
				VariantID:    strings.TrimSpace(component.VariantRef),
				SKU:          strings.TrimSpace(component.SKU),
				Quantity:     component.Quantity,
				UnitPriceVND: component.UnitPriceVND,
				PriceVersion: component.PriceVersion,
			}
		}
		items[i] = domain.OrderItem{
			Kind:          domain.LineKind(item.Kind),
			VariantID:     strings.TrimSpace(item.VariantRef),
			ComboID:       strings.TrimSpace(item.ComboRef),
			TitleSnapshot: strings.TrimSpace(item.Title),
			UnitPriceVND:  item.UnitPriceVND,
			Quantity:      item.Quantity,
			LineTotalVND:  item.LineTotalVND,
			Components:    components,
		}
	}
	return domain.Order{
		ID:               strings.TrimSpace(d.OrderID),
		Code:             code,
		CustomerName:     strings.TrimSpace(d.CustomerName),
		CustomerPhone:    strings.TrimSpace(d.CustomerPhone),
		CustomerEmail:    strings.TrimSpace(d.CustomerEmail),
		TeamID:           strings.TrimSpace(d.TeamRef),
		FulfilmentType:   domain.FulfilmentType(d.FulfilmentType),
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentReference: strings.TrimSpace(d.PaymentReference),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		Status:           domain.OrderStatus(d.Status),
		Title:            strings.TrimSpace(d.Title),
		GrandTotalVND:    d.GrandTotalVND,
		DeliveryAttempts: d.DeliveryAttempts,
		Items:            items,
		Note:             strings.TrimSpace(d.Note),
		PaidAt:           d.PaidAt,
		FulfilledAt:      d.FulfilledAt,
		CancelledAt:      d.CancelledAt,
		CancelReason:     strings.TrimSpace(d.CancelReason),
		DeliveryFailedAt: d.DeliveryFailedAt,
		DeliveryFailCode: strings.TrimSpace(d.DeliveryFailCode),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// idempotencyDocument is keyed by "<scope>#<key>" so the pair is unique by
// construction.
type idempotencyDocument struct {
	Scope     string    `firestore:"scope"`
	Key       string    `firestore:"key"`
	OrderCode string    `firestore:"orderCode"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newIdempotencyDocument(record domain.IdempotencyRecord) idempotencyDocument {
	return idempotencyDocument{
		Scope:     strings.TrimSpace(record.Scope),
		Key:       strings.TrimSpace(record.Key),
		OrderCode: strings.TrimSpace(record.OrderCode),
		CreatedAt: record.CreatedAt.UTC(),
	}
}

func (d idempotencyDocument) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Scope:     strings.TrimSpace(d.Scope),
		Key:       strings.TrimSpace(d.Key),
		OrderCode: strings.TrimSpace(d.OrderCode),
		CreatedAt: d.CreatedAt,
	}
}

func idempotencyDocID(scope, key string) string {
	return strings.TrimSpace(scope) + "#" + strings.TrimSpace(key)
}

type paymentDocument struct {
	OrderRef      string     `firestore:"orderRef"`
	OrderCode     string     `firestore:"orderCode"`
	AmountVND     int64      `firestore:"amountVnd"`
	TransactionID string     `firestore:"transactionId,omitempty"`
	Status        string     `firestore:"status"`
	Note          string     `firestore:"note,omitempty"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderRef:      strings.TrimSpace(payment.OrderID),
		OrderCode:     strings.TrimSpace(payment.OrderCode),
		AmountVND:     payment.AmountVND,
		TransactionID: strings.TrimSpace(payment.TransactionID),
		Status:        string(payment.Status),
		Note:          strings.TrimSpace(payment.Note),
		PaidAt:        utcOrNil(payment.PaidAt),
		CreatedAt:     payment.CreatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:            id,
		OrderID:       strings.TrimSpace(d.OrderRef),
		OrderCode:     strings.TrimSpace(d.OrderCode),
		AmountVND:     d.AmountVND,
		TransactionID: strings.TrimSpace(d.TransactionID),
		Status:        domain.PaymentStatus(d.Status),
		Note:          strings.TrimSpace(d.Note),
		PaidAt:        d.PaidAt,
		CreatedAt:     d.CreatedAt,
	}
}

// paymentTxIndexDocument is keyed by the external transaction id; creating it
// alongside the payment rejects duplicate confirmations.
type paymentTxIndexDocument struct {
	OrderCode  string    `firestore:"orderCode"`
	PaymentRef string    `firestore:"paymentRef"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

// shipmentDocument is keyed by the parent order id; one delivery task per
// order.
type shipmentDocument struct {
	ShipmentID    string     `firestore:"shipmentId"`
	OrderCode     string     `firestore:"orderCode"`
	TeamRef       string     `firestore:"teamRef,omitempty"`
	Status        string     `firestore:"status"`
	AssignedRef   string     `firestore:"assignedRef,omitempty"`
	AssignedName  string     `firestore:"assignedName,omitempty"`
	AssignedPhone string     `firestore:"assignedPhone,omitempty"`
	PickupETA     *time.Time `firestore:"pickupEta,omitempty"`
	DeliveredAt   *time.Time `firestore:"deliveredAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func newShipmentDocument(shipment domain.Shipment) shipmentDocument {
	return shipmentDocument{
		ShipmentID:    strings.TrimSpace(shipment.ID),
		OrderCode:     strings.TrimSpace(shipment.OrderCode),
		TeamRef:       strings.TrimSpace(shipment.TeamID),
		Status:        string(shipment.Status),
		AssignedRef:   strings.TrimSpace(shipment.AssignedUserID),
		AssignedName:  strings.TrimSpace(shipment.AssignedName),
		AssignedPhone: strings.TrimSpace(shipment.AssignedPhone),
		PickupETA:     utcOrNil(shipment.PickupETA),
		DeliveredAt:   utcOrNil(shipment.DeliveredAt),
		CreatedAt:     shipment.CreatedAt.UTC(),
		UpdatedAt:     shipment.UpdatedAt.UTC(),
	}
}

func (d shipmentDocument) toDomain(orderID string) domain.Shipment {
	return domain.Shipment{
		ID:             strings.TrimSpace(d.ShipmentID),
		OrderID:        orderID,
		OrderCode:      strings.TrimSpace(d.OrderCode),
		TeamID:         strings.TrimSpace(d.TeamRef),
		Status:         domain.ShipmentStatus(d.Status),
		AssignedUserID: strings.TrimSpace(d.AssignedRef),
		AssignedName:   strings.TrimSpace(d.AssignedName),
		AssignedPhone:  strings.TrimSpace(d.AssignedPhone),
		PickupETA:      d.PickupETA,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type teamMemberDocument struct {
	Name      string    `firestore:"name"`
	Phone     string    `firestore:"phone,omitempty"`
	Role      string    `firestore:"role"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d teamMemberDocument) toDomain(teamID, userID string) domain.TeamMember {
	return domain.TeamMember{
		TeamID:    teamID,
		UserID:    userID,
		Name:      strings.TrimSpace(d.Name),
		Phone:     strings.TrimSpace(d.Phone),
		Role:      domain.TeamRole(strings.TrimSpace(d.Role)),
		CreatedAt: d.CreatedAt,
	}
}

type auditLogDocument struct {
	ActorRef   string         `firestore:"actorRef,omitempty"`
	Action     string         `firestore:"action"`
	EntityType string         `firestore:"entityType"`
	EntityRef  string         `firestore:"entityRef"`
	Details    map[string]any `firestore:"details,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		ActorRef:   strings.TrimSpace(entry.ActorUserID),
		Action:     strings.TrimSpace(entry.Action),
		EntityType: strings.TrimSpace(entry.EntityType),
		EntityRef:  strings.TrimSpace(entry.EntityID),
		Details:    entry.Details,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:          id,
		ActorUserID: strings.TrimSpace(d.ActorRef),
		Action:      strings.TrimSpace(d.Action),
		EntityType:  strings.TrimSpace(d.EntityType),
		EntityID:    strings.TrimSpace(d.EntityRef),
		Details:     d.Details,
		CreatedAt:   d.CreatedAt,
	}
}

func utcOrNil(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}
