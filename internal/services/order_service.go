package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/platform/auth"
	"github.com/oiy-sale/api/internal/repositories"
)

const (
	auditEntityOrder    = "order"
	auditEntityShipment = "shipment"

	auditActionCreateOrder         = "CREATE_ORDER"
	auditActionConfirmPayment      = "CONFIRM_PAYMENT"
	auditActionForceConfirmPayment = "FORCE_CONFIRM_PAYMENT"
	auditActionFulfilmentStart     = "FULFILMENT_START"
	auditActionFulfilmentFail      = "FULFILMENT_FAIL"
	auditActionFulfilmentRetry     = "FULFILMENT_RETRY"
	auditActionFulfilmentComplete  = "FULFILMENT_COMPLETE"
	auditActionCancelOrder         = "CANCEL_ORDER"
	auditActionDeleteOrder         = "DELETE_ORDER"

	eventOrderPaid           = "order.paid"
	eventOrderFulfilling     = "order.fulfilling"
	eventOrderDeliveryFailed = "order.delivery_failed"
	eventOrderFulfilled      = "order.fulfilled"
	eventOrderCancelled      = "order.cancelled"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates no order exists under the given code.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrInvalidStatusTransition indicates the requested transition is not in
	// the lifecycle table; details carry the observed and target statuses.
	ErrInvalidStatusTransition = errors.New("order: invalid status transition")
	// ErrAmountMismatch indicates the confirmed amount differs from the grand
	// total and force was not set.
	ErrAmountMismatch = errors.New("order: amount mismatch")
	// ErrDuplicateTransaction indicates the external transaction id was
	// already recorded against some payment.
	ErrDuplicateTransaction = errors.New("order: duplicate transaction id")
	// ErrInvalidTimestamp indicates a supplied timestamp is not RFC 3339.
	ErrInvalidTimestamp = errors.New("order: invalid timestamp")
	// ErrCancelReasonRequired indicates cancellation without a reason.
	ErrCancelReasonRequired = errors.New("order: cancel reason is required")
	// ErrBankNotConfigured indicates payment intents cannot be produced
	// because no receiving account is configured.
	ErrBankNotConfigured = errors.New("order: bank account not configured")
	// ErrOrderNotPending indicates the order no longer awaits payment.
	ErrOrderNotPending = errors.New("order: not awaiting payment")
)

// InvalidTransitionError reports the lifecycle conflict observed inside the
// transition transaction.
type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: transition %s -> %s is not allowed", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// BankAccount holds the receiving account surfaced in payment intents.
type BankAccount struct {
	BIN         string
	AccountNo   string
	AccountName string
}

func (b BankAccount) configured() bool {
	return strings.TrimSpace(b.BIN) != "" && strings.TrimSpace(b.AccountNo) != ""
}

// OrderServiceDeps bundles the collaborators required to construct an order
// service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	Audit       AuditLogService
	Events      OrderEventPublisher
	Bank        BankAccount
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	payments repositories.PaymentRepository
	audit    AuditLogService
	events   OrderEventPublisher
	bank     BankAccount
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment repository is required")
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

	return &orderService{
		orders:   deps.Orders,
		payments: deps.Payments,
		audit:    deps.Audit,
		events:   deps.Events,
		bank:     deps.Bank,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, code string) (Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.mapOrderError(err, domain.OrderStatus(""))
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	return s.orders.List(ctx, repositories.OrderFilter{
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		TeamID:        strings.TrimSpace(filter.TeamID),
		Search:        strings.TrimSpace(filter.Search),
	}, filter.Pagination)
}

func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	code := strings.TrimSpace(cmd.OrderCode)
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	if cmd.AmountVND <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrOrderInvalidInput)
	}

	now := s.clock()
	paidAt := now
	if raw := strings.TrimSpace(cmd.PaidAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		paidAt = parsed.UTC()
	}

	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.mapOrderError(err, domain.OrderStatusPaid)
	}
	if !cmd.Force && cmd.AmountVND != order.GrandTotalVND {
		return Order{}, fmt.Errorf("%w: got %d, order total is %d", ErrAmountMismatch, cmd.AmountVND, order.GrandTotalVND)
	}

	action := auditActionConfirmPayment
	if cmd.Force {
		action = auditActionForceConfirmPayment
	}

	payment := domain.Payment{
		ID:            "pay_" + s.newID(),
		AmountVND:     cmd.AmountVND,
		TransactionID: strings.TrimSpace(cmd.TransactionID),
		Status:        domain.PaymentStatusSuccess,
		Note:          strings.TrimSpace(cmd.Note),
		PaidAt:        &paidAt,
		CreatedAt:     now,
	}

	result, err := s.payments.Confirm(ctx, repositories.ConfirmPaymentRequest{
		OrderCode:     code,
		Payment:       payment,
		Allowed:       []domain.OrderStatus{domain.OrderStatusCreated},
		RequireStatus: []domain.PaymentStatus{domain.PaymentStatusPending},
		Target:        domain.OrderStatusPaid,
		PaidAt:        paidAt,
		Now:           now,
		Audit: s.auditEntry(cmd.Actor, action, code, now, map[string]any{
			"amountVnd":     cmd.AmountVND,
			"transactionId": payment.TransactionID,
			"force":         cmd.Force,
		}),
	})
	if err != nil {
		return Order{}, s.mapOrderError(err, domain.OrderStatusPaid)
	}

	s.publish(ctx, eventOrderPaid, result.Order, now)
	return result.Order, nil
}

func (s *orderService) StartFulfilment(ctx context.Context, code string, actor auth.Identity) (Order, error) {
	return s.transition(ctx, transitionSpec{
		code:    code,
		allowed: []domain.OrderStatus{domain.OrderStatusPaid},
		target:  domain.OrderStatusFulfilling,
		action:  auditActionFulfilmentStart,
		event:   eventOrderFulfilling,
		actor:   actor,
	})
}

func (s *orderService) FailDelivery(ctx context.Context, cmd FailDeliveryCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.ReasonCode)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: delivery failure reason code is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionSpec{
		code:              cmd.OrderCode,
		allowed:           []domain.OrderStatus{domain.OrderStatusFulfilling},
		target:            domain.OrderStatusDeliveryFailed,
		action:            auditActionFulfilmentFail,
		event:             eventOrderDeliveryFailed,
		actor:             cmd.Actor,
		deliveryFailCode:  reason,
		note:              cmd.Note,
		incrementAttempts: true,
		details:           map[string]any{"reasonCode": reason},
	})
}

func (s *orderService) RetryDelivery(ctx context.Context, code string, actor auth.Identity) (Order, error) {
	return s.transition(ctx, transitionSpec{
		code:    code,
		allowed: []domain.OrderStatus{domain.OrderStatusDeliveryFailed},
		target:  domain.OrderStatusFulfilling,
		action:  auditActionFulfilmentRetry,
		event:   eventOrderFulfilling,
		actor:   actor,
	})
}

func (s *orderService) CompleteFulfilment(ctx context.Context, cmd CompleteFulfilmentCommand) (Order, error) {
	spec := transitionSpec{
		code:         cmd.OrderCode,
		allowed:      []domain.OrderStatus{domain.OrderStatusFulfilling},
		target:       domain.OrderStatusFulfilled,
		action:       auditActionFulfilmentComplete,
		event:        eventOrderFulfilled,
		actor:        cmd.Actor,
		setFulfilled: true,
	}
	if raw := strings.TrimSpace(cmd.FulfilledAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		at := parsed.UTC()
		spec.fulfilledAt = &at
	}
	return s.transition(ctx, spec)
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, ErrCancelReasonRequired
	}
	return s.transition(ctx, transitionSpec{
		code: cmd.OrderCode,
		allowed: []domain.OrderStatus{
			domain.OrderStatusCreated,
			domain.OrderStatusPaid,
			domain.OrderStatusFulfilling,
			domain.OrderStatusDeliveryFailed,
		},
		target:       domain.OrderStatusCancelled,
		action:       auditActionCancelOrder,
		event:        eventOrderCancelled,
		actor:        cmd.Actor,
		cancelReason: reason,
		setCancelled: true,
		details:      map[string]any{"reason": reason},
	})
}

func (s *orderService) DeleteOrder(ctx context.Context, code string, actor auth.Identity) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, code); err != nil {
		return s.mapOrderError(err, domain.OrderStatus(""))
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditRecord{
			ActorUserID: actor.UID,
			Action:      auditActionDeleteOrder,
			EntityType:  auditEntityOrder,
			EntityID:    code,
			OccurredAt:  s.clock(),
		})
	}
	return nil
}

func (s *orderService) PaymentIntent(ctx context.Context, code string) (PaymentIntent, error) {
	if !s.bank.configured() {
		return PaymentIntent{}, ErrBankNotConfigured
	}
	order, err := s.GetOrder(ctx, code)
	if err != nil {
		return PaymentIntent{}, err
	}
	if order.Status != domain.OrderStatusCreated || order.PaymentStatus != domain.PaymentStatusPending {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is %s/%s", ErrOrderNotPending, order.Code, order.Status, order.PaymentStatus)
	}
	return PaymentIntent{
		BankBIN:         s.bank.BIN,
		BankAccountNo:   s.bank.AccountNo,
		BankAccountName: s.bank.AccountName,
		AmountVND:       order.GrandTotalVND,
		Memo:            order.PaymentReference,
	}, nil
}

type transitionSpec struct {
	code              string
	allowed           []domain.OrderStatus
	target            domain.OrderStatus
	action            string
	event             string
	actor             auth.Identity
	cancelReason      string
	deliveryFailCode  string
	note              string
	setFulfilled      bool
	fulfilledAt       *time.Time
	setCancelled      bool
	incrementAttempts bool
	details           map[string]any
}

func (s *orderService) transition(ctx context.Context, spec transitionSpec) (Order, error) {
	code := strings.TrimSpace(spec.code)
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	req := repositories.OrderTransitionRequest{
		Code:                      code,
		Allowed:                   spec.allowed,
		Target:                    spec.target,
		Now:                       now,
		CancelReason:              spec.cancelReason,
		DeliveryFailCode:          spec.deliveryFailCode,
		Note:                      strings.TrimSpace(spec.note),
		IncrementDeliveryAttempts: spec.incrementAttempts,
		Audit:                     s.auditEntry(spec.actor, spec.action, code, now, spec.details),
	}
	if spec.setFulfilled {
		at := now
		if spec.fulfilledAt != nil {
			at = *spec.fulfilledAt
		}
		req.SetFulfilledAt = &at
	}
	if spec.setCancelled {
		req.SetCancelledAt = &now
	}
	if spec.target == domain.OrderStatusDeliveryFailed {
		req.SetDeliveryFailedAt = &now
	}

	order, err := s.orders.Transition(ctx, req)
	if err != nil {
		return Order{}, s.mapOrderError(err, spec.target)
	}

	s.publish(ctx, spec.event, order, now)
	return order, nil
}

func (s *orderService) auditEntry(actor auth.Identity, action, code string, now time.Time, details map[string]any) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:          "alg_" + s.newID(),
		ActorUserID: actor.UID,
		Action:      action,
		EntityType:  auditEntityOrder,
		EntityID:    code,
		Details:     details,
		CreatedAt:   now,
	}
}

func (s *orderService) publish(ctx context.Context, event string, order domain.Order, now time.Time) {
	if s.events == nil || event == "" {
		return
	}
	err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:          event,
		OrderCode:     order.Code,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		OccurredAt:    now,
	})
	if err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{"code": order.Code, "event": event, "error": err.Error()})
	}
}

func (s *orderService) mapOrderError(err error, target domain.OrderStatus) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorStatusConflict:
			return &InvalidTransitionError{From: orderErr.Status, To: target}
		case repositories.OrderErrorPaymentStatusConflict:
			return fmt.Errorf("%w: payment status %s", ErrOrderNotPending, orderErr.PaymentStatus)
		case repositories.OrderErrorDuplicateTransaction:
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, orderErr.Message)
		}
	}
	return err
}
