package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/platform/auth"
	"github.com/oiy-sale/api/internal/repositories"
)

type stubPaymentRepo struct {
	confirmFn func(ctx context.Context, req repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error)
	listFn    func(ctx context.Context, orderID string) ([]domain.Payment, error)
}

func (s *stubPaymentRepo) Confirm(ctx context.Context, req repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, req)
	}
	return repositories.ConfirmPaymentResult{}, errors.New("not implemented")
}

func (s *stubPaymentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

func newOrderServiceForTest(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Payments == nil {
		deps.Payments = &stubPaymentRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("id")
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func pendingOrder(code string) domain.Order {
	return domain.Order{
		ID:               "ord_1",
		Code:             code,
		Status:           domain.OrderStatusCreated,
		PaymentStatus:    domain.PaymentStatusPending,
		PaymentReference: code,
		GrandTotalVND:    190_000,
	}
}

func TestConfirmPaymentRecordsFactAndAdvancesOrder(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, code string) (domain.Order, error) {
			return pendingOrder(code), nil
		},
	}
	var captured repositories.ConfirmPaymentRequest
	payments := &stubPaymentRepo{
		confirmFn: func(_ context.Context, req repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error) {
			captured = req
			order := pendingOrder(req.OrderCode)
			order.Status = req.Target
			order.PaymentStatus = domain.PaymentStatusSuccess
			return repositories.ConfirmPaymentResult{Order: order, Payment: req.Payment}, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newOrderServiceForTest(t, OrderServiceDeps{
		Orders:   orders,
		Payments: payments,
		Events:   events,
		Clock:    func() time.Time { return now },
	})

	order, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderCode:     "OIY-26-AAAAA",
		AmountVND:     190_000,
		TransactionID: "FT-2026-001",
		Actor:         auth.Identity{UID: "staff-1"},
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", order.Status)
	}

	if captured.Target != domain.OrderStatusPaid {
		t.Fatalf("expected target PAID, got %s", captured.Target)
	}
	if len(captured.Allowed) != 1 || captured.Allowed[0] != domain.OrderStatusCreated {
		t.Fatalf("expected allowed [CREATED], got %v", captured.Allowed)
	}
	if len(captured.RequireStatus) != 1 || captured.RequireStatus[0] != domain.PaymentStatusPending {
		t.Fatalf("expected payment guard [PENDING], got %v", captured.RequireStatus)
	}
	if !strings.HasPrefix(captured.Payment.ID, "pay_") {
		t.Fatalf("unexpected payment id %s", captured.Payment.ID)
	}
	if captured.Payment.Status != domain.PaymentStatusSuccess {
		t.Fatalf("expected SUCCESS payment, got %s", captured.Payment.Status)
	}
	if captured.Audit.Action != "CONFIRM_PAYMENT" || captured.Audit.EntityID != "OIY-26-AAAAA" {
		t.Fatalf("unexpected audit entry %+v", captured.Audit)
	}
	if captured.Audit.ActorUserID != "staff-1" {
		t.Fatalf("expected actor staff-1, got %s", captured.Audit.ActorUserID)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %+v", events.events)
	}
}

func TestConfirmPaymentAmountMismatch(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, code string) (domain.Order, error) {
			return pendingOrder(code), nil
		},
	}
	confirmed := false
	payments := &stubPaymentRepo{
		confirmFn: func(_ context.Context, req repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error) {
			confirmed = true
			return repositories.ConfirmPaymentResult{Order: pendingOrder(req.OrderCode), Payment: req.Payment}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Payments: payments})

	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderCode: "OIY-26-AAAAA",
		AmountVND: 150_000,
	})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if confirmed {
		t.Fatalf("confirm must not run on mismatch")
	}
}

func TestConfirmPaymentForceOverridesAmount(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, code string) (domain.Order, error) {
			return pendingOrder(code), nil
		},
	}
	var captured repositories.ConfirmPaymentRequest
	payments := &stubPaymentRepo{
		confirmFn: func(_ context.Context, req repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error) {
			captured = req
			return repositories.ConfirmPaymentResult{Order: pendingOrder(req.OrderCode), Payment: req.Payment}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Payments: payments})

	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderCode: "OIY-26-AAAAA",
		AmountVND: 150_000,
		Force:     true,
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if captured.Audit.Action != "FORCE_CONFIRM_PAYMENT" {
		t.Fatalf("expected FORCE_CONFIRM_PAYMENT audit, got %s", captured.Audit.Action)
	}
	if captured.Payment.AmountVND != 150_000 {
		t.Fatalf("expected recorded amount 150000, got %d", captured.Payment.AmountVND)
	}
}

func TestConfirmPaymentRejectsBadTimestamp(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})
	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderCode: "OIY-26-AAAAA",
		AmountVND: 190_000,
		PaidAt:    "yesterday",
	})
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestConfirmPaymentDuplicateTransaction(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, code string) (domain.Order, error) {
			return pendingOrder(code), nil
		},
	}
	payments := &stubPaymentRepo{
		confirmFn: func(context.Context, repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error) {
			return repositories.ConfirmPaymentResult{}, &repositories.OrderError{
				Code:    repositories.OrderErrorDuplicateTransaction,
				Message: "transaction FT-001 already recorded",
			}
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Payments: payments})

	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderCode:     "OIY-26-AAAAA",
		AmountVND:     190_000,
		TransactionID: "FT-001",
	})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestStartFulfilmentGuardsAndAudits(t *testing.T) {
	var captured repositories.OrderTransitionRequest
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
			captured = req
			order := pendingOrder(req.Code)
			order.Status = req.Target
			return order, nil
		},
	}
	events := &captureOrderEvents{}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Events: events})

	order, err := svc.StartFulfilment(context.Background(), "OIY-26-AAAAA", auth.Identity{UID: "staff-1"})
	if err != nil {
		t.Fatalf("StartFulfilment: %v", err)
	}
	if order.Status != domain.OrderStatusFulfilling {
		t.Fatalf("expected FULFILLING, got %s", order.Status)
	}
	if len(captured.Allowed) != 1 || captured.Allowed[0] != domain.OrderStatusPaid {
		t.Fatalf("expected allowed [PAID], got %v", captured.Allowed)
	}
	if captured.Audit.Action != "FULFILMENT_START" {
		t.Fatalf("unexpected audit action %s", captured.Audit.Action)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.fulfilling" {
		t.Fatalf("expected order.fulfilling event, got %+v", events.events)
	}
}

func TestTransitionConflictCarriesStatuses(t *testing.T) {
	orders := &stubOrderRepo{
		transitionFn: func(context.Context, repositories.OrderTransitionRequest) (domain.Order, error) {
			return domain.Order{}, &repositories.OrderError{
				Code:   repositories.OrderErrorStatusConflict,
				Status: domain.OrderStatusCreated,
			}
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	_, err := svc.StartFulfilment(context.Background(), "OIY-26-AAAAA", auth.Identity{})
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected wrap of ErrInvalidStatusTransition")
	}
	if transitionErr.From != domain.OrderStatusCreated || transitionErr.To != domain.OrderStatusFulfilling {
		t.Fatalf("unexpected transition detail %+v", transitionErr)
	}
}

func TestFailDeliveryIncrementsAttempts(t *testing.T) {
	var captured repositories.OrderTransitionRequest
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
			captured = req
			order := pendingOrder(req.Code)
			order.Status = req.Target
			order.DeliveryAttempts = 1
			return order, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	order, err := svc.FailDelivery(context.Background(), FailDeliveryCommand{
		OrderCode:  "OIY-26-AAAAA",
		ReasonCode: "NO_ANSWER",
		Note:       "gọi 3 lần không nghe máy",
	})
	if err != nil {
		t.Fatalf("FailDelivery: %v", err)
	}
	if order.DeliveryAttempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", order.DeliveryAttempts)
	}
	if !captured.IncrementDeliveryAttempts {
		t.Fatalf("expected attempts increment")
	}
	if captured.DeliveryFailCode != "NO_ANSWER" {
		t.Fatalf("expected reason NO_ANSWER, got %s", captured.DeliveryFailCode)
	}
	if captured.SetDeliveryFailedAt == nil {
		t.Fatalf("expected deliveryFailedAt to be set")
	}
	if captured.Target != domain.OrderStatusDeliveryFailed {
		t.Fatalf("expected DELIVERY_FAILED, got %s", captured.Target)
	}
}

func TestFailDeliveryRequiresReason(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})
	_, err := svc.FailDelivery(context.Background(), FailDeliveryCommand{OrderCode: "OIY-26-AAAAA"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestRetryDeliveryRequiresFailedState(t *testing.T) {
	var captured repositories.OrderTransitionRequest
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
			captured = req
			return pendingOrder(req.Code), nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.RetryDelivery(context.Background(), "OIY-26-AAAAA", auth.Identity{}); err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}
	if len(captured.Allowed) != 1 || captured.Allowed[0] != domain.OrderStatusDeliveryFailed {
		t.Fatalf("expected allowed [DELIVERY_FAILED], got %v", captured.Allowed)
	}
	if captured.Target != domain.OrderStatusFulfilling {
		t.Fatalf("expected FULFILLING, got %s", captured.Target)
	}
	if captured.Audit.Action != "FULFILMENT_RETRY" {
		t.Fatalf("unexpected audit action %s", captured.Audit.Action)
	}
}

func TestCompleteFulfilmentStampsTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var captured repositories.OrderTransitionRequest
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
			captured = req
			return pendingOrder(req.Code), nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Clock: func() time.Time { return now }})

	if _, err := svc.CompleteFulfilment(context.Background(), CompleteFulfilmentCommand{OrderCode: "OIY-26-AAAAA"}); err != nil {
		t.Fatalf("CompleteFulfilment: %v", err)
	}
	if captured.SetFulfilledAt == nil || !captured.SetFulfilledAt.Equal(now) {
		t.Fatalf("expected fulfilledAt %s, got %v", now, captured.SetFulfilledAt)
	}
	if captured.Target != domain.OrderStatusFulfilled {
		t.Fatalf("expected FULFILLED, got %s", captured.Target)
	}
}

func TestCompleteFulfilmentHonoursSuppliedTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var captured repositories.OrderTransitionRequest
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
			captured = req
			return pendingOrder(req.Code), nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Clock: func() time.Time { return now }})

	_, err := svc.CompleteFulfilment(context.Background(), CompleteFulfilmentCommand{
		OrderCode:   "OIY-26-AAAAA",
		FulfilledAt: "2026-03-01T18:30:00+07:00",
	})
	if err != nil {
		t.Fatalf("CompleteFulfilment: %v", err)
	}
	want := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
	if captured.SetFulfilledAt == nil || !captured.SetFulfilledAt.Equal(want) {
		t.Fatalf("expected fulfilledAt %s, got %v", want, captured.SetFulfilledAt)
	}
}

func TestCompleteFulfilmentRejectsBadTimestamp(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})
	_, err := svc.CompleteFulfilment(context.Background(), CompleteFulfilmentCommand{
		OrderCode:   "OIY-26-AAAAA",
		FulfilledAt: "yesterday evening",
	})
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestCancelOrderRequiresReason(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})
	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderCode: "OIY-26-AAAAA"})
	if !errors.Is(err, ErrCancelReasonRequired) {
		t.Fatalf("expected ErrCancelReasonRequired, got %v", err)
	}
}

func TestCancelOrderAllowsEveryNonTerminalState(t *testing.T) {
	var captured repositories.OrderTransitionRequest
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
			captured = req
			return pendingOrder(req.Code), nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderCode: "OIY-26-AAAAA",
		Reason:    "khách đổi ý",
	}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	want := []domain.OrderStatus{
		domain.OrderStatusCreated,
		domain.OrderStatusPaid,
		domain.OrderStatusFulfilling,
		domain.OrderStatusDeliveryFailed,
	}
	if len(captured.Allowed) != len(want) {
		t.Fatalf("expected %d allowed states, got %v", len(want), captured.Allowed)
	}
	for i, status := range want {
		if captured.Allowed[i] != status {
			t.Fatalf("expected allowed[%d]=%s, got %s", i, status, captured.Allowed[i])
		}
	}
	if captured.CancelReason != "khách đổi ý" {
		t.Fatalf("expected cancel reason, got %q", captured.CancelReason)
	}
	if captured.SetCancelledAt == nil {
		t.Fatalf("expected cancelledAt to be set")
	}
}

func TestDeleteOrderRecordsAudit(t *testing.T) {
	deleted := ""
	orders := &stubOrderRepo{
		deleteFn: func(_ context.Context, code string) error {
			deleted = code
			return nil
		},
	}
	audit := &captureAuditService{}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Audit: audit})

	if err := svc.DeleteOrder(context.Background(), "OIY-26-AAAAA", auth.Identity{UID: "admin-1"}); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if deleted != "OIY-26-AAAAA" {
		t.Fatalf("expected delete of OIY-26-AAAAA, got %s", deleted)
	}
	if len(audit.records) != 1 || audit.records[0].Action != "DELETE_ORDER" {
		t.Fatalf("expected DELETE_ORDER audit record, got %+v", audit.records)
	}
	if audit.records[0].ActorUserID != "admin-1" {
		t.Fatalf("expected actor admin-1, got %s", audit.records[0].ActorUserID)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})
	_, err := svc.GetOrder(context.Background(), "OIY-26-XXXXX")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestPaymentIntentProducesTransferInstruction(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, code string) (domain.Order, error) {
			return pendingOrder(code), nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{
		Orders: orders,
		Bank:   BankAccount{BIN: "970436", AccountNo: "0123456789", AccountName: "QUY TU THIEN OIY"},
	})

	intent, err := svc.PaymentIntent(context.Background(), "OIY-26-AAAAA")
	if err != nil {
		t.Fatalf("PaymentIntent: %v", err)
	}
	if intent.AmountVND != 190_000 {
		t.Fatalf("expected amount 190000, got %d", intent.AmountVND)
	}
	if intent.Memo != "OIY-26-AAAAA" {
		t.Fatalf("expected memo to be the payment reference, got %s", intent.Memo)
	}
	if intent.BankBIN != "970436" {
		t.Fatalf("unexpected bank BIN %s", intent.BankBIN)
	}
}

func TestPaymentIntentRequiresConfiguredBank(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})
	_, err := svc.PaymentIntent(context.Background(), "OIY-26-AAAAA")
	if !errors.Is(err, ErrBankNotConfigured) {
		t.Fatalf("expected ErrBankNotConfigured, got %v", err)
	}
}

func TestPaymentIntentRejectsNonPendingOrder(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, code string) (domain.Order, error) {
			order := pendingOrder(code)
			order.Status = domain.OrderStatusPaid
			order.PaymentStatus = domain.PaymentStatusSuccess
			return order, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{
		Orders: orders,
		Bank:   BankAccount{BIN: "970436", AccountNo: "0123456789"},
	})

	_, err := svc.PaymentIntent(context.Background(), "OIY-26-AAAAA")
	if !errors.Is(err, ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending, got %v", err)
	}
}
