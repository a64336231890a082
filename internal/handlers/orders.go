package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/platform/auth"
	"github.com/oiy-sale/api/internal/platform/httpx"
	"github.com/oiy-sale/api/internal/services"
)

const maxOrderRequestBody = 8 * 1024

type componentResponse struct {
	VariantID    string `json:"variantId"`
	SKU          string `json:"sku,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPriceVND int64  `json:"unitPriceVnd"`
	PriceVersion int64  `json:"priceVersion"`
}

type orderItemResponse struct {
	Kind         string              `json:"kind"`
	VariantID    string              `json:"variantId,omitempty"`
	ComboID      string              `json:"comboId,omitempty"`
	Title        string              `json:"title"`
	UnitPriceVND int64               `json:"unitPriceVnd"`
	Quantity     int                 `json:"quantity"`
	LineTotalVND int64               `json:"lineTotalVnd"`
	Components   []componentResponse `json:"components,omitempty"`
}

type orderResponse struct {
	Code             string              `json:"code"`
	CustomerName     string              `json:"customerName"`
	CustomerPhone    string              `json:"customerPhone"`
	CustomerEmail    string              `json:"customerEmail,omitempty"`
	TeamID           string              `json:"teamId,omitempty"`
	FulfilmentType   string              `json:"fulfilmentType"`
	PaymentMethod    string              `json:"paymentMethod"`
	PaymentReference string              `json:"paymentReference"`
	PaymentStatus    string              `json:"paymentStatus"`
	Status           string              `json:"status"`
	Title            string              `json:"title,omitempty"`
	GrandTotalVND    int64               `json:"grandTotalVnd"`
	DeliveryAttempts int                 `json:"deliveryAttempts"`
	Items            []orderItemResponse `json:"items"`
	Note             string              `json:"note,omitempty"`
	PaidAt           string              `json:"paidAt,omitempty"`
	FulfilledAt      string              `json:"fulfilledAt,omitempty"`
	CancelledAt      string              `json:"cancelledAt,omitempty"`
	CancelReason     string              `json:"cancelReason,omitempty"`
	DeliveryFailedAt string              `json:"deliveryFailedAt,omitempty"`
	DeliveryFailCode string              `json:"deliveryFailCode,omitempty"`
	CreatedAt        string              `json:"createdAt"`
	UpdatedAt        string              `json:"updatedAt"`
}

func newOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		components := make([]componentResponse, 0, len(item.Components))
		for _, component := range item.Components {
			components = append(components, componentResponse{
				VariantID:    component.VariantID,
				SKU:          component.SKU,
				Quantity:     component.Quantity,
				UnitPriceVND: component.UnitPriceVND,
				PriceVersion: component.PriceVersion,
			})
		}
		items = append(items, orderItemResponse{
			Kind:         string(item.Kind),
			VariantID:    item.VariantID,
			ComboID:      item.ComboID,
			Title:        item.TitleSnapshot,
			UnitPriceVND: item.UnitPriceVND,
			Quantity:     item.Quantity,
			LineTotalVND: item.LineTotalVND,
			Components:   components,
		})
	}
	return orderResponse{
		Code:             order.Code,
		CustomerName:     order.CustomerName,
		CustomerPhone:    order.CustomerPhone,
		CustomerEmail:    order.CustomerEmail,
		TeamID:           order.TeamID,
		FulfilmentType:   string(order.FulfilmentType),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: order.PaymentReference,
		PaymentStatus:    string(order.PaymentStatus),
		Status:           string(order.Status),
		Title:            order.Title,
		GrandTotalVND:    order.GrandTotalVND,
		DeliveryAttempts: order.DeliveryAttempts,
		Items:            items,
		Note:             order.Note,
		PaidAt:           formatTimePtr(order.PaidAt),
		FulfilledAt:      formatTimePtr(order.FulfilledAt),
		CancelledAt:      formatTimePtr(order.CancelledAt),
		CancelReason:     order.CancelReason,
		DeliveryFailedAt: formatTimePtr(order.DeliveryFailedAt),
		DeliveryFailCode: order.DeliveryFailCode,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
}

// OrderHandlers exposes public order lookup endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs public order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers public order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{code}", h.getOrder)
	r.Get("/{code}/payment-intent", h.getPaymentIntent)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

type paymentIntentResponse struct {
	BankBIN         string `json:"bankBin"`
	BankAccountNo   string `json:"bankAccountNo"`
	BankAccountName string `json:"bankAccountName,omitempty"`
	AmountVND       int64  `json:"amountVnd"`
	Memo            string `json:"memo"`
}

func (h *OrderHandlers) getPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	intent, err := h.orders.PaymentIntent(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
		BankBIN:         intent.BankBIN,
		BankAccountNo:   intent.BankAccountNo,
		BankAccountName: intent.BankAccountName,
		AmountVND:       intent.AmountVND,
		Memo:            intent.Memo,
	})
}

// AdminOrderHandlers exposes the staff order management endpoints.
type AdminOrderHandlers struct {
	orders services.OrderService
	audit  services.AuditLogService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(orders services.OrderService, audit services.AuditLogService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders, audit: audit}
}

// Routes registers admin order endpoints under the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{code}", h.getOrder)
	r.Get("/orders/{code}/audit-logs", h.listAuditLogs)
	r.Post("/orders/{code}/confirm-payment", h.confirmPayment)
	r.Post("/orders/{code}/start-fulfilment", h.startFulfilment)
	r.Post("/orders/{code}/fail-fulfilment", h.failFulfilment)
	r.Post("/orders/{code}/retry-fulfilment", h.retryFulfilment)
	r.Post("/orders/{code}/complete-fulfilment", h.completeFulfilment)
	r.Post("/orders/{code}/cancel", h.cancelOrder)
	r.Delete("/orders/{code}", h.deleteOrder)
}

type orderListResponse struct {
	Items         []orderResponse `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := services.OrderListFilter{
		TeamID:     strings.TrimSpace(q.Get("teamId")),
		Search:     strings.TrimSpace(q.Get("search")),
		Pagination: parsePagination(r),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.OrderStatus(raw)
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("paymentStatus")); raw != "" {
		status := domain.PaymentStatus(raw)
		filter.PaymentStatus = &status
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, newOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

type auditLogResponse struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actorUserId,omitempty"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   string         `json:"createdAt"`
}

type auditLogListResponse struct {
	Items         []auditLogResponse `json:"items"`
	NextPageToken string             `json:"nextPageToken,omitempty"`
}

func (h *AdminOrderHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("AUDIT_UNAVAILABLE", "audit log service unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := h.audit.ListByEntity(ctx, "order", chi.URLParam(r, "code"), parsePagination(r))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]auditLogResponse, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditLogResponse{
			ID:          entry.ID,
			ActorUserID: entry.ActorUserID,
			Action:      entry.Action,
			EntityType:  entry.EntityType,
			EntityID:    entry.EntityID,
			Details:     entry.Details,
			CreatedAt:   formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{Items: items, NextPageToken: page.NextPageToken})
}

type confirmPaymentRequest struct {
	AmountVND     int64  `json:"amountVnd"`
	TransactionID string `json:"transactionId,omitempty"`
	PaidAt        string `json:"paidAt,omitempty"`
	Force         bool   `json:"force,omitempty"`
	Note          string `json:"note,omitempty"`
}

func (h *AdminOrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req confirmPaymentRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderCode:     chi.URLParam(r, "code"),
		AmountVND:     req.AmountVND,
		TransactionID: req.TransactionID,
		PaidAt:        req.PaidAt,
		Force:         req.Force,
		Note:          req.Note,
		Actor:         actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func (h *AdminOrderHandlers) startFulfilment(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.orders.StartFulfilment)
}

func (h *AdminOrderHandlers) retryFulfilment(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.orders.RetryDelivery)
}

type completeFulfilmentRequest struct {
	FulfilledAt string `json:"fulfilledAt,omitempty"`
}

func (h *AdminOrderHandlers) completeFulfilment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
		return
	}
	var req completeFulfilmentRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CompleteFulfilment(ctx, services.CompleteFulfilmentCommand{
		OrderCode:   chi.URLParam(r, "code"),
		FulfilledAt: req.FulfilledAt,
		Actor:       actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func (h *AdminOrderHandlers) simpleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, string, auth.Identity) (domain.Order, error)) {
	ctx := r.Context()
	order, err := op(ctx, chi.URLParam(r, "code"), actorFromContext(ctx))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

type failFulfilmentRequest struct {
	ReasonCode string `json:"reasonCode"`
	Note       string `json:"note,omitempty"`
}

func (h *AdminOrderHandlers) failFulfilment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req failFulfilmentRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.FailDelivery(ctx, services.FailDeliveryCommand{
		OrderCode:  chi.URLParam(r, "code"),
		ReasonCode: req.ReasonCode,
		Note:       req.Note,
		Actor:      actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cancelOrderRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderCode: chi.URLParam(r, "code"),
		Reason:    req.Reason,
		Actor:     actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.orders.DeleteOrder(ctx, chi.URLParam(r, "code"), actorFromContext(ctx)); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeOrderBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func actorFromContext(ctx context.Context) auth.Identity {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		return *identity
	}
	return auth.Identity{}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var transitionErr *services.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound))
	case errors.As(err, &transitionErr):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_STATUS_TRANSITION", transitionErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{"from": string(transitionErr.From), "to": string(transitionErr.To)}))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("AMOUNT_MISMATCH", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDuplicateTransaction):
		httpx.WriteError(ctx, w, httpx.NewError("DUPLICATE_TRANSACTION_ID", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTimestamp):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_TIMESTAMP", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCancelReasonRequired):
		httpx.WriteError(ctx, w, httpx.NewError("CANCEL_REASON_REQUIRED", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBankNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("PAYMENT_ACCOUNT_NOT_CONFIGURED", "no receiving bank account configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderNotPending):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NOT_PENDING", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrAuditInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_ERROR", "failed to process order request", http.StatusInternalServerError))
	}
}
