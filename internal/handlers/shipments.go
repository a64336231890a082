package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/platform/httpx"
	"github.com/oiy-sale/api/internal/services"
)

const maxShipmentRequestBody = 8 * 1024

type shipmentResponse struct {
	ID             string `json:"id"`
	OrderCode      string `json:"orderCode"`
	TeamID         string `json:"teamId,omitempty"`
	Status         string `json:"status"`
	AssignedUserID string `json:"assignedUserId,omitempty"`
	AssignedName   string `json:"assignedName,omitempty"`
	AssignedPhone  string `json:"assignedPhone,omitempty"`
	PickupETA      string `json:"pickupEta,omitempty"`
	DeliveredAt    string `json:"deliveredAt,omitempty"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

func newShipmentResponse(shipment domain.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:             shipment.ID,
		OrderCode:      shipment.OrderCode,
		TeamID:         shipment.TeamID,
		Status:         string(shipment.Status),
		AssignedUserID: shipment.AssignedUserID,
		AssignedName:   shipment.AssignedName,
		AssignedPhone:  shipment.AssignedPhone,
		PickupETA:      formatTimePtr(shipment.PickupETA),
		DeliveredAt:    formatTimePtr(shipment.DeliveredAt),
		CreatedAt:      formatTime(shipment.CreatedAt),
		UpdatedAt:      formatTime(shipment.UpdatedAt),
	}
}

// ShipmentHandlers exposes the team delivery endpoints.
type ShipmentHandlers struct {
	shipments services.ShipmentService
}

// NewShipmentHandlers constructs team shipment handlers.
func NewShipmentHandlers(shipments services.ShipmentService) *ShipmentHandlers {
	return &ShipmentHandlers{shipments: shipments}
}

// Routes registers team endpoints under the provided router.
func (h *ShipmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/shipments/unassigned", h.listUnassigned)
	r.Get("/shipments/mine", h.listMine)
	r.Get("/orders/{code}/shipment", h.getForOrder)
	r.Post("/orders/{code}/shipment/assign-self", h.selfAssign)
	r.Post("/orders/{code}/shipment/unassign", h.unassign)
	r.Post("/orders/{code}/shipment/assign", h.assign)
	r.Post("/orders/{code}/shipment/start-delivery", h.startDelivery)
	r.Post("/orders/{code}/shipment/delivered", h.markDelivered)
	r.Post("/orders/{code}/shipment/failed", h.markFailed)
}

type shipmentListResponse struct {
	Items         []shipmentResponse `json:"items"`
	NextPageToken string             `json:"nextPageToken,omitempty"`
}

func (h *ShipmentHandlers) listUnassigned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := h.shipments.ListUnassigned(ctx, actorFromContext(ctx), parsePagination(r))
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}
	writeShipmentPage(w, page)
}

func (h *ShipmentHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := h.shipments.ListMine(ctx, actorFromContext(ctx), parsePagination(r))
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}
	writeShipmentPage(w, page)
}

func writeShipmentPage(w http.ResponseWriter, page domain.CursorPage[domain.Shipment]) {
	items := make([]shipmentResponse, 0, len(page.Items))
	for _, shipment := range page.Items {
		items = append(items, newShipmentResponse(shipment))
	}
	writeJSONResponse(w, http.StatusOK, shipmentListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *ShipmentHandlers) getForOrder(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.shipments.GetForOrder)
}

func (h *ShipmentHandlers) selfAssign(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.shipments.SelfAssign)
}

func (h *ShipmentHandlers) unassign(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.shipments.Unassign)
}

type startDeliveryRequest struct {
	PickupETA string `json:"pickupEta,omitempty"`
}

func (h *ShipmentHandlers) startDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShipmentRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
		return
	}
	var req startDeliveryRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	shipment, err := h.shipments.StartDelivery(ctx, services.ShipmentCommand{
		OrderCode: chi.URLParam(r, "code"),
		PickupETA: req.PickupETA,
		Actor:     actorFromContext(ctx),
	})
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newShipmentResponse(shipment))
}

func (h *ShipmentHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.shipments.MarkDelivered)
}

func (h *ShipmentHandlers) simpleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, services.ShipmentCommand) (domain.Shipment, error)) {
	ctx := r.Context()
	shipment, err := op(ctx, services.ShipmentCommand{
		OrderCode: chi.URLParam(r, "code"),
		Actor:     actorFromContext(ctx),
	})
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newShipmentResponse(shipment))
}

type assignShipmentRequest struct {
	AssigneeUserID string `json:"assigneeUserId"`
	PickupETA      string `json:"pickupEta,omitempty"`
}

func (h *ShipmentHandlers) assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShipmentRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
		return
	}
	var req assignShipmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	shipment, err := h.shipments.Assign(ctx, services.AssignShipmentCommand{
		OrderCode:      chi.URLParam(r, "code"),
		AssigneeUserID: req.AssigneeUserID,
		PickupETA:      req.PickupETA,
		Actor:          actorFromContext(ctx),
	})
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newShipmentResponse(shipment))
}

type failShipmentRequest struct {
	ReasonCode string `json:"reasonCode"`
	Note       string `json:"note,omitempty"`
}

func (h *ShipmentHandlers) markFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShipmentRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
		return
	}
	var req failShipmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	shipment, err := h.shipments.MarkFailed(ctx, services.FailShipmentCommand{
		OrderCode:  chi.URLParam(r, "code"),
		ReasonCode: req.ReasonCode,
		Note:       req.Note,
		Actor:      actorFromContext(ctx),
	})
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newShipmentResponse(shipment))
}

func writeShipmentError(ctx context.Context, w http.ResponseWriter, err error) {
	var shipmentTransitionErr *services.ShipmentTransitionError
	var orderTransitionErr *services.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("SHIPMENT_NOT_FOUND", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNotDeliveryOrder):
		httpx.WriteError(ctx, w, httpx.NewError("NOT_DELIVERY_ORDER", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotInTeam):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NOT_IN_TEAM", "order is outside your teams", http.StatusForbidden))
	case errors.Is(err, services.ErrNotAssignee):
		httpx.WriteError(ctx, w, httpx.NewError("NOT_ASSIGNED_TO_YOU", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrShipmentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("NOT_TEAM_MANAGER", err.Error(), http.StatusForbidden))
	case errors.As(err, &shipmentTransitionErr):
		code := "SHIPMENT_STATUS_CONFLICT"
		from, to := shipmentTransitionErr.From, shipmentTransitionErr.To
		switch {
		case to == domain.ShipmentStatusPending && (from == domain.ShipmentStatusDelivered || from == domain.ShipmentStatusFailed):
			code = "CANNOT_UNASSIGN_COMPLETED_SHIPMENT"
		case to == domain.ShipmentStatusAssigned && (from == domain.ShipmentStatusAssigned || from == domain.ShipmentStatusInTransit):
			code = "ALREADY_ASSIGNED"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, shipmentTransitionErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{"from": string(shipmentTransitionErr.From), "to": string(shipmentTransitionErr.To)}))
	case errors.As(err, &orderTransitionErr):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_STATUS_TRANSITION", orderTransitionErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{"from": string(orderTransitionErr.From), "to": string(orderTransitionErr.To)}))
	case errors.Is(err, services.ErrAssigneeNotInTeam):
		httpx.WriteError(ctx, w, httpx.NewError("ASSIGNEE_NOT_IN_TEAM", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShipmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_REQUEST", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("SHIPMENT_ERROR", "failed to process shipment request", http.StatusInternalServerError))
	}
}
