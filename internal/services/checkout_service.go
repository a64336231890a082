package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/repositories"
)

const (
	defaultOrderCodePrefix   = "OIY-26"
	defaultOrderCodeAttempts = 5
	defaultCheckoutMaxLines  = 50

	eventOrderCreated = "order.created"
)

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid arguments.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrInvalidVariant indicates an unknown or inactive variant reference.
	ErrInvalidVariant = errors.New("checkout: invalid variant")
	// ErrInvalidCombo indicates an unknown, inactive or unpriceable combo reference.
	ErrInvalidCombo = errors.New("checkout: invalid combo")
	// ErrNoValidItems indicates no line survived validation.
	ErrNoValidItems = errors.New("checkout: no valid items")
	// ErrPriceChanged indicates displayed prices are stale; details list every
	// stale line so the storefront can refresh them all at once.
	ErrPriceChanged = errors.New("checkout: price changed")
	// ErrOutOfStock indicates merged stock requirements exceed availability.
	ErrOutOfStock = errors.New("checkout: out of stock")
	// ErrIdempotencyInProgress indicates another request holds the idempotency
	// key but its order is not readable yet.
	ErrIdempotencyInProgress = errors.New("checkout: idempotency key in progress")
	// ErrOrderCodeExhausted indicates code generation kept colliding.
	ErrOrderCodeExhausted = errors.New("checkout: order code attempts exhausted")
)

// PriceChangedItem names one line whose displayed price version is stale.
// OldPriceVND echoes the unit price the shopper last saw when the request
// carried one; NewPriceVND is the current unit price.
type PriceChangedItem struct {
	VariantID   string
	ComboID     string
	OldPriceVND *int64
	NewPriceVND int64
}

// PriceChangedError carries every stale line of a checkout request.
type PriceChangedError struct {
	Items []PriceChangedItem
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("checkout: price changed for %d item(s)", len(e.Items))
}

func (e *PriceChangedError) Unwrap() error { return ErrPriceChanged }

// OutOfStockItem names one variant whose stock no longer covers the merged
// requirement.
type OutOfStockItem struct {
	VariantID string
	Requested int
	Available int
}

// OutOfStockError carries every shortage of a checkout request.
type OutOfStockError struct {
	Items []OutOfStockItem
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("checkout: %d variant(s) out of stock", len(e.Items))
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// CheckoutServiceDeps bundles the collaborators required to construct a
// checkout service.
type CheckoutServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Orders      repositories.OrderRepository
	Idempotency repositories.IdempotencyRepository
	Audit       AuditLogService
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	OrderCodePrefix   string
	OrderCodeAttempts int
	MaxLines          int
}

type checkoutService struct {
	catalog     repositories.CatalogRepository
	orders      repositories.OrderRepository
	idempotency repositories.IdempotencyRepository
	audit       AuditLogService
	events      OrderEventPublisher
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)

	codePrefix   string
	codeAttempts int
	maxLines     int
}

// NewCheckoutService wires dependencies into a concrete CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("checkout service: idempotency repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	prefix := strings.TrimSpace(deps.OrderCodePrefix)
	if prefix == "" {
		prefix = defaultOrderCodePrefix
	}
	attempts := deps.OrderCodeAttempts
	if attempts <= 0 {
		attempts = defaultOrderCodeAttempts
	}
	maxLines := deps.MaxLines
	if maxLines <= 0 {
		maxLines = defaultCheckoutMaxLines
	}

	return &checkoutService{
		catalog:      deps.Catalog,
		orders:       deps.Orders,
		idempotency:  deps.Idempotency,
		audit:        deps.Audit,
		events:       deps.Events,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
		codePrefix:   prefix,
		codeAttempts: attempts,
		maxLines:     maxLines,
	}, nil
}

func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cmd, err := s.normalize(cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	if cmd.IdempotencyKey != "" {
		record, err := s.idempotency.Find(ctx, cmd.IdempotencyScope, cmd.IdempotencyKey)
		if err == nil {
			return s.replay(ctx, record)
		}
		if !isNotFound(err) {
			return CheckoutResult{}, err
		}
	}

	items, requirements, err := s.resolveLines(ctx, cmd.Lines)
	if err != nil {
		return CheckoutResult{}, err
	}

	var grandTotal int64
	for _, item := range items {
		grandTotal += item.LineTotalVND
	}

	now := s.clock()
	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, err := domain.NewOrderCode(s.codePrefix)
		if err != nil {
			return CheckoutResult{}, err
		}

		order := domain.Order{
			ID:               "ord_" + s.newID(),
			Code:             code,
			CustomerName:     cmd.CustomerName,
			CustomerPhone:    cmd.CustomerPhone,
			CustomerEmail:    cmd.CustomerEmail,
			TeamID:           cmd.TeamID,
			FulfilmentType:   cmd.FulfilmentType,
			PaymentMethod:    cmd.PaymentMethod,
			PaymentReference: code,
			PaymentStatus:    domain.PaymentStatusPending,
			Status:           domain.OrderStatusCreated,
			Title:            orderTitle(items),
			GrandTotalVND:    grandTotal,
			Items:            items,
			Note:             cmd.Note,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		req := repositories.CreateOrderRequest{
			Order:             order,
			StockRequirements: requirements,
		}
		if cmd.IdempotencyKey != "" {
			req.Idempotency = domain.IdempotencyRecord{
				Scope:     cmd.IdempotencyScope,
				Key:       cmd.IdempotencyKey,
				OrderCode: code,
				CreatedAt: now,
			}
		}

		created, err := s.orders.CreateWithReservation(ctx, req)
		if err == nil {
			s.recordCreated(ctx, created)
			return CheckoutResult{Order: created}, nil
		}

		var checkoutErr *repositories.CheckoutError
		if !errors.As(err, &checkoutErr) {
			return CheckoutResult{}, err
		}
		switch checkoutErr.Code {
		case repositories.CheckoutErrorCodeExists:
			s.logger(ctx, "checkout.code_collision", map[string]any{"code": code, "attempt": attempt + 1})
			continue
		case repositories.CheckoutErrorIdempotencyExists:
			// Another request won the key race; replay its order.
			record, err := s.idempotency.Find(ctx, cmd.IdempotencyScope, cmd.IdempotencyKey)
			if err != nil {
				return CheckoutResult{}, fmt.Errorf("%w: %s", ErrIdempotencyInProgress, cmd.IdempotencyKey)
			}
			return s.replay(ctx, record)
		case repositories.CheckoutErrorStockShort:
			return CheckoutResult{}, &OutOfStockError{Items: []OutOfStockItem{{
				VariantID: checkoutErr.VariantID,
				Requested: checkoutErr.Requested,
				Available: checkoutErr.Available,
			}}}
		case repositories.CheckoutErrorVariantMissing:
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrInvalidVariant, checkoutErr.VariantID)
		default:
			return CheckoutResult{}, err
		}
	}

	return CheckoutResult{}, ErrOrderCodeExhausted
}

func (s *checkoutService) normalize(cmd CheckoutCommand) (CheckoutCommand, error) {
	cmd.CustomerName = strings.TrimSpace(cmd.CustomerName)
	cmd.CustomerPhone = strings.TrimSpace(cmd.CustomerPhone)
	cmd.CustomerEmail = strings.TrimSpace(cmd.CustomerEmail)
	cmd.TeamID = strings.TrimSpace(cmd.TeamID)
	cmd.Note = strings.TrimSpace(cmd.Note)
	cmd.IdempotencyScope = strings.TrimSpace(cmd.IdempotencyScope)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if (cmd.IdempotencyScope == "") != (cmd.IdempotencyKey == "") {
		return cmd, fmt.Errorf("%w: idempotency scope and key must be supplied together", ErrCheckoutInvalidInput)
	}

	if cmd.CustomerName == "" {
		return cmd, fmt.Errorf("%w: customer name is required", ErrCheckoutInvalidInput)
	}
	if cmd.CustomerPhone == "" {
		return cmd, fmt.Errorf("%w: customer phone is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return cmd, ErrNoValidItems
	}
	if len(cmd.Lines) > s.maxLines {
		return cmd, fmt.Errorf("%w: at most %d lines per order", ErrCheckoutInvalidInput, s.maxLines)
	}

	switch cmd.FulfilmentType {
	case "":
		cmd.FulfilmentType = domain.FulfilmentPickupSchool
	case domain.FulfilmentPickupSchool, domain.FulfilmentDelivery:
	default:
		return cmd, fmt.Errorf("%w: unknown fulfilment type %q", ErrCheckoutInvalidInput, cmd.FulfilmentType)
	}
	switch cmd.PaymentMethod {
	case "":
		cmd.PaymentMethod = domain.PaymentMethodVietQR
	case domain.PaymentMethodVietQR, domain.PaymentMethodCash:
	default:
		return cmd, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	for i, line := range cmd.Lines {
		variantID := strings.TrimSpace(line.VariantID)
		comboID := strings.TrimSpace(line.ComboID)
		if (variantID == "") == (comboID == "") {
			return cmd, fmt.Errorf("%w: line %d must reference exactly one variant or combo", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return cmd, fmt.Errorf("%w: line %d quantity must be positive", ErrCheckoutInvalidInput, i)
		}
		cmd.Lines[i].VariantID = variantID
		cmd.Lines[i].ComboID = comboID
	}
	return cmd, nil
}

// resolveLines validates every line against one catalog snapshot, returning
// priced order items and the merged per-variant stock requirements.
func (s *checkoutService) resolveLines(ctx context.Context, lines []CheckoutLine) ([]domain.OrderItem, map[string]int, error) {
	var comboIDs, variantIDs []string
	for _, line := range lines {
		if line.ComboID != "" {
			comboIDs = append(comboIDs, line.ComboID)
		} else {
			variantIDs = append(variantIDs, line.VariantID)
		}
	}

	combos, err := s.catalog.GetCombos(ctx, comboIDs)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range comboIDs {
		combo, ok := combos[id]
		if !ok || !combo.Active {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidCombo, id)
		}
		for _, component := range combo.Components {
			variantIDs = append(variantIDs, component.VariantID)
		}
	}

	variants, err := s.catalog.GetVariants(ctx, variantIDs)
	if err != nil {
		return nil, nil, err
	}

	var stale []PriceChangedItem
	items := make([]domain.OrderItem, 0, len(lines))
	requirements := make(map[string]int)

	for _, line := range lines {
		if line.ComboID != "" {
			combo := combos[line.ComboID]
			for _, component := range combo.Components {
				variant, ok := variants[component.VariantID]
				if !ok || !variant.Active {
					return nil, nil, fmt.Errorf("%w: %s references variant %s", ErrInvalidCombo, line.ComboID, component.VariantID)
				}
			}
			price, err := domain.PriceCombo(combo, variants)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidCombo, combo.ID, err)
			}
			if line.PriceVersion != combo.PriceVersion {
				stale = append(stale, PriceChangedItem{
					ComboID:     combo.ID,
					OldPriceVND: line.ClientPriceVND,
					NewPriceVND: price.UnitPriceVND,
				})
				continue
			}
			items = append(items, domain.OrderItem{
				Kind:          domain.LineKindCombo,
				ComboID:       combo.ID,
				TitleSnapshot: combo.Title,
				UnitPriceVND:  price.UnitPriceVND,
				Quantity:      line.Quantity,
				LineTotalVND:  price.UnitPriceVND * int64(line.Quantity),
				Components:    price.Components,
			})
			for _, component := range combo.Components {
				requirements[component.VariantID] += component.Quantity * line.Quantity
			}
			continue
		}

		variant, ok := variants[line.VariantID]
		if !ok || !variant.Active {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidVariant, line.VariantID)
		}
		if line.PriceVersion != variant.PriceVersion {
			stale = append(stale, PriceChangedItem{
				VariantID:   variant.ID,
				OldPriceVND: line.ClientPriceVND,
				NewPriceVND: variant.PriceVND,
			})
			continue
		}
		items = append(items, domain.OrderItem{
			Kind:          domain.LineKindVariant,
			VariantID:     variant.ID,
			TitleSnapshot: variant.Title,
			UnitPriceVND:  variant.PriceVND,
			Quantity:      line.Quantity,
			LineTotalVND:  variant.PriceVND * int64(line.Quantity),
		})
		requirements[variant.ID] += line.Quantity
	}

	if len(stale) > 0 {
		return nil, nil, &PriceChangedError{Items: stale}
	}
	if len(items) == 0 {
		return nil, nil, ErrNoValidItems
	}

	// One batched availability check against the snapshot; the commit
	// transaction re-checks under isolation.
	shortageIDs := make([]string, 0, len(requirements))
	for variantID, required := range requirements {
		if variants[variantID].Stock < required {
			shortageIDs = append(shortageIDs, variantID)
		}
	}
	if len(shortageIDs) > 0 {
		sort.Strings(shortageIDs)
		shortages := make([]OutOfStockItem, 0, len(shortageIDs))
		for _, variantID := range shortageIDs {
			shortages = append(shortages, OutOfStockItem{
				VariantID: variantID,
				Requested: requirements[variantID],
				Available: variants[variantID].Stock,
			})
		}
		return nil, nil, &OutOfStockError{Items: shortages}
	}

	return items, requirements, nil
}

func (s *checkoutService) replay(ctx context.Context, record domain.IdempotencyRecord) (CheckoutResult, error) {
	order, err := s.orders.FindByCode(ctx, record.OrderCode)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: order %s", ErrIdempotencyInProgress, record.OrderCode)
	}
	return CheckoutResult{Order: order, Replayed: true}, nil
}

func (s *checkoutService) recordCreated(ctx context.Context, order domain.Order) {
	if s.audit != nil {
		s.audit.Record(ctx, AuditRecord{
			Action:     auditActionCreateOrder,
			EntityType: auditEntityOrder,
			EntityID:   order.Code,
			Details: map[string]any{
				"grandTotalVnd": order.GrandTotalVND,
				"items":         len(order.Items),
			},
			OccurredAt: order.CreatedAt,
		})
	}
	if s.events != nil {
		err := s.events.PublishOrderEvent(ctx, OrderEvent{
			Type:          eventOrderCreated,
			OrderCode:     order.Code,
			Status:        string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			OccurredAt:    order.CreatedAt,
		})
		if err != nil {
			s.logger(ctx, "checkout.event_publish_failed", map[string]any{"code": order.Code, "error": err.Error()})
		}
	}
}

func orderTitle(items []domain.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) == 1 {
		return items[0].TitleSnapshot
	}
	return fmt.Sprintf("%s +%d mục", items[0].TitleSnapshot, len(items)-1)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return true
	}
	var orderErr *repositories.OrderError
	return errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound
}
