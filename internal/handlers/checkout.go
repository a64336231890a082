package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/platform/httpx"
	"github.com/oiy-sale/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes the storefront checkout endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
}

type checkoutLineRequest struct {
	VariantID      string `json:"variantId,omitempty"`
	ComboID        string `json:"comboId,omitempty"`
	Quantity       int    `json:"quantity"`
	PriceVersion   int64  `json:"priceVersion"`
	ClientPriceVND *int64 `json:"clientPriceVnd,omitempty"`
}

type checkoutRequest struct {
	CustomerName     string                `json:"customerName"`
	CustomerPhone    string                `json:"customerPhone"`
	CustomerEmail    string                `json:"customerEmail,omitempty"`
	TeamID           string                `json:"teamId,omitempty"`
	FulfilmentType   string                `json:"fulfilmentType,omitempty"`
	PaymentMethod    string                `json:"paymentMethod,omitempty"`
	Note             string                `json:"note,omitempty"`
	IdempotencyScope string                `json:"idempotencyScope,omitempty"`
	IdempotencyKey   string                `json:"idempotencyKey,omitempty"`
	Items            []checkoutLineRequest `json:"items"`
}

type checkoutResponse struct {
	Order    orderResponse `json:"order"`
	Replayed bool          `json:"replayed"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("CHECKOUT_UNAVAILABLE", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	lines := make([]services.CheckoutLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.CheckoutLine{
			VariantID:      strings.TrimSpace(item.VariantID),
			ComboID:        strings.TrimSpace(item.ComboID),
			Quantity:       item.Quantity,
			PriceVersion:   item.PriceVersion,
			ClientPriceVND: item.ClientPriceVND,
		})
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerEmail:    req.CustomerEmail,
		TeamID:           req.TeamID,
		FulfilmentType:   domain.FulfilmentType(strings.TrimSpace(req.FulfilmentType)),
		PaymentMethod:    domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		Note:             req.Note,
		IdempotencyScope: req.IdempotencyScope,
		IdempotencyKey:   req.IdempotencyKey,
		Lines:            lines,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, checkoutResponse{
		Order:    newOrderResponse(result.Order),
		Replayed: result.Replayed,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var priceErr *services.PriceChangedError
	var stockErr *services.OutOfStockError
	switch {
	case errors.As(err, &priceErr):
		items := make([]map[string]any, 0, len(priceErr.Items))
		for _, item := range priceErr.Items {
			entry := map[string]any{
				"newPriceVnd": item.NewPriceVND,
			}
			if item.OldPriceVND != nil {
				entry["oldPriceVnd"] = *item.OldPriceVND
			} else {
				entry["oldPriceVnd"] = nil
			}
			if item.VariantID != "" {
				entry["variantId"] = item.VariantID
			}
			if item.ComboID != "" {
				entry["comboId"] = item.ComboID
			}
			items = append(items, entry)
		}
		httpx.WriteError(ctx, w, httpx.NewError("PRICE_CHANGED", "displayed prices are stale", http.StatusConflict).
			WithDetails(map[string]any{"items": items}))
	case errors.As(err, &stockErr):
		items := make([]map[string]any, 0, len(stockErr.Items))
		for _, item := range stockErr.Items {
			items = append(items, map[string]any{
				"variantId": item.VariantID,
				"requested": item.Requested,
				"available": item.Available,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError("OUT_OF_STOCK", "insufficient stock for requested items", http.StatusConflict).
			WithDetails(map[string]any{"items": items}))
	case errors.Is(err, services.ErrInvalidVariant):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_VARIANT", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidCombo):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_COMBO", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNoValidItems):
		httpx.WriteError(ctx, w, httpx.NewError("NO_VALID_ITEMS", "no valid items in checkout request", http.StatusBadRequest))
	case errors.Is(err, services.ErrIdempotencyInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("IDEMPOTENCY_IN_PROGRESS", "a request with this idempotency key is still being processed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderCodeExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("CHECKOUT_UNAVAILABLE", "could not allocate an order code; retry", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("CHECKOUT_ERROR", "failed to process checkout request", http.StatusInternalServerError))
	}
}
