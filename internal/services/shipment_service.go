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
	auditActionShipmentAssign   = "SHIPMENT_ASSIGN"
	auditActionShipmentUnassign = "SHIPMENT_UNASSIGN"
	auditActionShipmentStart    = "SHIPMENT_START"
)

var (
	// ErrShipmentInvalidInput signals the caller provided invalid arguments.
	ErrShipmentInvalidInput = errors.New("shipment: invalid input")
	// ErrShipmentNotFound indicates the order has no delivery task.
	ErrShipmentNotFound = errors.New("shipment: not found")
	// ErrNotDeliveryOrder indicates the order is fulfilled by pickup and
	// never gets a delivery task.
	ErrNotDeliveryOrder = errors.New("shipment: order is not fulfilled by delivery")
	// ErrOrderNotInTeam indicates the actor's teams do not cover the order.
	ErrOrderNotInTeam = errors.New("shipment: order is outside the actor's teams")
	// ErrNotAssignee indicates the actor does not hold the delivery.
	ErrNotAssignee = errors.New("shipment: actor is not the assignee")
	// ErrAssigneeNotInTeam indicates the requested assignee is not a member
	// of the order's team.
	ErrAssigneeNotInTeam = errors.New("shipment: assignee is not in the order's team")
	// ErrShipmentForbidden indicates the actor lacks the team role for the
	// operation.
	ErrShipmentForbidden = errors.New("shipment: operation not permitted")
	// ErrShipmentStatusConflict indicates the shipment's current status does
	// not allow the requested change.
	ErrShipmentStatusConflict = errors.New("shipment: status conflict")
)

// ShipmentTransitionError reports which status blocked a shipment change.
type ShipmentTransitionError struct {
	From domain.ShipmentStatus
	To   domain.ShipmentStatus
}

func (e *ShipmentTransitionError) Error() string {
	return fmt.Sprintf("shipment: transition %s -> %s is not allowed", e.From, e.To)
}

func (e *ShipmentTransitionError) Unwrap() error { return ErrShipmentStatusConflict }

// ShipmentServiceDeps bundles the collaborators required to construct a
// shipment service.
type ShipmentServiceDeps struct {
	Shipments   repositories.ShipmentRepository
	Orders      repositories.OrderRepository
	Teams       repositories.TeamRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type shipmentService struct {
	shipments repositories.ShipmentRepository
	orders    repositories.OrderRepository
	teams     repositories.TeamRepository
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewShipmentService wires dependencies into a concrete ShipmentService.
func NewShipmentService(deps ShipmentServiceDeps) (ShipmentService, error) {
	if deps.Shipments == nil {
		return nil, errors.New("shipment service: shipment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("shipment service: order repository is required")
	}
	if deps.Teams == nil {
		return nil, errors.New("shipment service: team repository is required")
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

	return &shipmentService{
		shipments: deps.Shipments,
		orders:    deps.Orders,
		teams:     deps.Teams,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *shipmentService) GetForOrder(ctx context.Context, cmd ShipmentCommand) (Shipment, error) {
	order, err := s.loadScopedOrder(ctx, cmd.OrderCode, cmd.Actor)
	if err != nil {
		return Shipment{}, err
	}
	return s.findOrMaterialize(ctx, order)
}

func (s *shipmentService) SelfAssign(ctx context.Context, cmd ShipmentCommand) (Shipment, error) {
	order, err := s.loadScopedOrder(ctx, cmd.OrderCode, cmd.Actor)
	if err != nil {
		return Shipment{}, err
	}
	shipment, err := s.findOrMaterialize(ctx, order)
	if err != nil {
		return Shipment{}, err
	}
	if shipment.AssignedUserID != "" && shipment.AssignedUserID != cmd.Actor.UID {
		return Shipment{}, &ShipmentTransitionError{From: shipment.Status, To: domain.ShipmentStatusAssigned}
	}
	// Claiming again is a no-op apart from refreshing the contact snapshot.
	allowed := []domain.ShipmentStatus{domain.ShipmentStatusPending}
	target := domain.ShipmentStatusAssigned
	if shipment.AssignedUserID == cmd.Actor.UID {
		if shipment.Completed() {
			return Shipment{}, &ShipmentTransitionError{From: shipment.Status, To: domain.ShipmentStatusAssigned}
		}
		allowed = []domain.ShipmentStatus{shipment.Status}
		target = shipment.Status
	}

	name, phone := s.memberContact(ctx, order.TeamID, cmd.Actor.UID)
	now := s.clock()
	updated, err := s.shipments.Transition(ctx, repositories.ShipmentTransitionRequest{
		OrderID: order.ID,
		Allowed: allowed,
		Target:  target,
		Assignee: &repositories.ShipmentAssignee{
			UserID: cmd.Actor.UID,
			Name:   name,
			Phone:  phone,
		},
		Now: now,
		Audit: s.auditEntry(cmd.Actor, auditActionShipmentAssign, order.Code, now,
			map[string]any{"assigneeUserId": cmd.Actor.UID}),
	})
	if err != nil {
		return Shipment{}, s.mapShipmentError(err, domain.ShipmentStatusAssigned)
	}
	return updated, nil
}

func (s *shipmentService) Unassign(ctx context.Context, cmd ShipmentCommand) (Shipment, error) {
	order, err := s.loadScopedOrder(ctx, cmd.OrderCode, cmd.Actor)
	if err != nil {
		return Shipment{}, err
	}
	shipment, err := s.findShipment(ctx, order)
	if err != nil {
		return Shipment{}, err
	}
	if shipment.Completed() {
		return Shipment{}, &ShipmentTransitionError{From: shipment.Status, To: domain.ShipmentStatusPending}
	}
	if err := s.requireAssignee(shipment, cmd.Actor); err != nil {
		return Shipment{}, err
	}

	now := s.clock()
	updated, err := s.shipments.Transition(ctx, repositories.ShipmentTransitionRequest{
		OrderID: order.ID,
		Allowed: []domain.ShipmentStatus{domain.ShipmentStatusAssigned, domain.ShipmentStatusInTransit},
		Target:  domain.ShipmentStatusPending,
		Now:     now,
		Audit: s.auditEntry(cmd.Actor, auditActionShipmentUnassign, order.Code, now,
			map[string]any{"releasedUserId": shipment.AssignedUserID}),
	})
	if err != nil {
		return Shipment{}, s.mapShipmentError(err, domain.ShipmentStatusPending)
	}
	return updated, nil
}

func (s *shipmentService) Assign(ctx context.Context, cmd AssignShipmentCommand) (Shipment, error) {
	assignee := strings.TrimSpace(cmd.AssigneeUserID)
	if assignee == "" {
		return Shipment{}, fmt.Errorf("%w: assignee user id is required", ErrShipmentInvalidInput)
	}
	order, err := s.loadScopedOrder(ctx, cmd.OrderCode, cmd.Actor)
	if err != nil {
		return Shipment{}, err
	}
	pickupETA, err := parsePickupETA(cmd.PickupETA)
	if err != nil {
		return Shipment{}, err
	}
	if !s.canManage(cmd.Actor, order.TeamID) {
		return Shipment{}, fmt.Errorf("%w: only a team manager may assign deliveries", ErrShipmentForbidden)
	}

	shipment, err := s.findOrMaterialize(ctx, order)
	if err != nil {
		return Shipment{}, err
	}
	if shipment.Status != domain.ShipmentStatusPending && shipment.Status != domain.ShipmentStatusAssigned {
		return Shipment{}, &ShipmentTransitionError{From: shipment.Status, To: domain.ShipmentStatusAssigned}
	}

	member, err := s.teams.FindMember(ctx, order.TeamID, assignee)
	if err != nil {
		if isNotFound(err) {
			return Shipment{}, fmt.Errorf("%w: user %s, team %s", ErrAssigneeNotInTeam, assignee, order.TeamID)
		}
		return Shipment{}, err
	}

	details := map[string]any{"assigneeUserId": member.UserID}
	if pickupETA != nil {
		details["pickupEta"] = pickupETA.Format(time.RFC3339)
	}
	now := s.clock()
	updated, err := s.shipments.Transition(ctx, repositories.ShipmentTransitionRequest{
		OrderID: order.ID,
		Allowed: []domain.ShipmentStatus{domain.ShipmentStatusPending, domain.ShipmentStatusAssigned},
		Target:  domain.ShipmentStatusAssigned,
		Assignee: &repositories.ShipmentAssignee{
			UserID: member.UserID,
			Name:   member.Name,
			Phone:  member.Phone,
		},
		PickupETA: pickupETA,
		Now:       now,
		Audit:     s.auditEntry(cmd.Actor, auditActionShipmentAssign, order.Code, now, details),
	})
	if err != nil {
		return Shipment{}, s.mapShipmentError(err, domain.ShipmentStatusAssigned)
	}
	return updated, nil
}

func (s *shipmentService) StartDelivery(ctx context.Context, cmd ShipmentCommand) (Shipment, error) {
	order, err := s.loadScopedOrder(ctx, cmd.OrderCode, cmd.Actor)
	if err != nil {
		return Shipment{}, err
	}
	shipment, err := s.findShipment(ctx, order)
	if err != nil {
		return Shipment{}, err
	}
	if err := s.requireAssignee(shipment, cmd.Actor); err != nil {
		return Shipment{}, err
	}
	pickupETA, err := parsePickupETA(cmd.PickupETA)
	if err != nil {
		return Shipment{}, err
	}

	now := s.clock()
	updated, err := s.shipments.Transition(ctx, repositories.ShipmentTransitionRequest{
		OrderID:   order.ID,
		Allowed:   []domain.ShipmentStatus{domain.ShipmentStatusAssigned},
		Target:    domain.ShipmentStatusInTransit,
		PickupETA: pickupETA,
		Now:       now,
		Audit:     s.auditEntry(cmd.Actor, auditActionShipmentStart, order.Code, now, nil),
	})
	if err != nil {
		return Shipment{}, s.mapShipmentError(err, domain.ShipmentStatusInTransit)
	}
	return updated, nil
}

func (s *shipmentService) MarkDelivered(ctx context.Context, cmd ShipmentCommand) (Shipment, error) {
	return s.complete(ctx, completionSpec{
		orderCode: cmd.OrderCode,
		actor:     cmd.Actor,
		outcome:   repositories.ShipmentOutcomeDelivered,
		action:    auditActionFulfilmentComplete,
	})
}

func (s *shipmentService) MarkFailed(ctx context.Context, cmd FailShipmentCommand) (Shipment, error) {
	reason := strings.TrimSpace(cmd.ReasonCode)
	if reason == "" {
		return Shipment{}, fmt.Errorf("%w: delivery failure reason code is required", ErrShipmentInvalidInput)
	}
	return s.complete(ctx, completionSpec{
		orderCode:  cmd.OrderCode,
		actor:      cmd.Actor,
		outcome:    repositories.ShipmentOutcomeFailed,
		action:     auditActionFulfilmentFail,
		reasonCode: reason,
		note:       cmd.Note,
	})
}

func (s *shipmentService) ListUnassigned(ctx context.Context, actor auth.Identity, pager Pagination) (domain.CursorPage[Shipment], error) {
	var teamIDs []string
	if !actor.IsAdmin() {
		if len(actor.TeamIDs) == 0 {
			return domain.CursorPage[Shipment]{Items: []Shipment{}}, nil
		}
		teamIDs = actor.TeamIDs
	}
	return s.shipments.ListUnassigned(ctx, teamIDs, pager)
}

func (s *shipmentService) ListMine(ctx context.Context, actor auth.Identity, pager Pagination) (domain.CursorPage[Shipment], error) {
	if strings.TrimSpace(actor.UID) == "" {
		return domain.CursorPage[Shipment]{}, fmt.Errorf("%w: actor is required", ErrShipmentInvalidInput)
	}
	return s.shipments.ListByAssignee(ctx, actor.UID, pager)
}

type completionSpec struct {
	orderCode  string
	actor      auth.Identity
	outcome    repositories.ShipmentOutcome
	action     string
	reasonCode string
	note       string
}

func (s *shipmentService) complete(ctx context.Context, spec completionSpec) (Shipment, error) {
	order, err := s.loadScopedOrder(ctx, spec.orderCode, spec.actor)
	if err != nil {
		return Shipment{}, err
	}
	shipment, err := s.findShipment(ctx, order)
	if err != nil {
		return Shipment{}, err
	}
	if err := s.requireAssignee(shipment, spec.actor); err != nil {
		return Shipment{}, err
	}

	now := s.clock()
	details := map[string]any{"outcome": string(spec.outcome), "shipmentId": shipment.ID}
	if spec.reasonCode != "" {
		details["reasonCode"] = spec.reasonCode
	}
	result, err := s.shipments.Complete(ctx, repositories.ShipmentCompletionRequest{
		OrderCode:  order.Code,
		Outcome:    spec.outcome,
		Now:        now,
		ReasonCode: spec.reasonCode,
		Note:       strings.TrimSpace(spec.note),
		Audit: domain.AuditLogEntry{
			ID:          "alg_" + s.newID(),
			ActorUserID: spec.actor.UID,
			Action:      spec.action,
			EntityType:  auditEntityOrder,
			EntityID:    order.Code,
			Details:     details,
			CreatedAt:   now,
		},
	})
	if err != nil {
		orderTarget := domain.OrderStatusFulfilled
		if spec.outcome == repositories.ShipmentOutcomeFailed {
			orderTarget = domain.OrderStatusDeliveryFailed
		}
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusConflict {
			return Shipment{}, &InvalidTransitionError{From: orderErr.Status, To: orderTarget}
		}
		target := domain.ShipmentStatusDelivered
		if spec.outcome == repositories.ShipmentOutcomeFailed {
			target = domain.ShipmentStatusFailed
		}
		return Shipment{}, s.mapShipmentError(err, target)
	}
	return result.Shipment, nil
}

// loadScopedOrder resolves the order and enforces team scoping. Admins see
// every order; everyone else must belong to the order's team.
func (s *shipmentService) loadScopedOrder(ctx context.Context, code string, actor auth.Identity) (domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, fmt.Errorf("%w: order code is required", ErrShipmentInvalidInput)
	}
	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
			return domain.Order{}, fmt.Errorf("%w: order %s", ErrShipmentNotFound, code)
		}
		return domain.Order{}, err
	}
	if order.FulfilmentType != domain.FulfilmentDelivery {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotDeliveryOrder, code)
	}
	if !actor.IsAdmin() && !actor.MemberOf(order.TeamID) {
		return domain.Order{}, fmt.Errorf("%w: order %s belongs to team %s", ErrOrderNotInTeam, code, order.TeamID)
	}
	return order, nil
}

func (s *shipmentService) findShipment(ctx context.Context, order domain.Order) (Shipment, error) {
	shipment, err := s.shipments.FindByOrderID(ctx, order.ID)
	if err != nil {
		return Shipment{}, s.mapShipmentError(err, domain.ShipmentStatus(""))
	}
	return shipment, nil
}

// findOrMaterialize lazily creates the PENDING delivery task the first time
// any shipment operation touches a delivery order without one. Lost creation
// races fall back to re-reading the winner's row.
func (s *shipmentService) findOrMaterialize(ctx context.Context, order domain.Order) (Shipment, error) {
	shipment, err := s.shipments.FindByOrderID(ctx, order.ID)
	if err == nil {
		return shipment, nil
	}
	if !s.isShipmentNotFound(err) {
		return Shipment{}, s.mapShipmentError(err, domain.ShipmentStatus(""))
	}

	now := s.clock()
	fresh := domain.Shipment{
		ID:        "shp_" + s.newID(),
		OrderID:   order.ID,
		OrderCode: order.Code,
		TeamID:    order.TeamID,
		Status:    domain.ShipmentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.shipments.Create(ctx, fresh); err != nil {
		var shipErr *repositories.ShipmentError
		if errors.As(err, &shipErr) && shipErr.Code == repositories.ShipmentErrorExists {
			return s.findShipment(ctx, order)
		}
		return Shipment{}, err
	}
	return fresh, nil
}

func (s *shipmentService) requireAssignee(shipment Shipment, actor auth.Identity) error {
	if shipment.AssignedUserID == "" {
		return fmt.Errorf("%w: delivery is unassigned", ErrNotAssignee)
	}
	if shipment.AssignedUserID != actor.UID && !actor.IsAdmin() {
		return fmt.Errorf("%w: delivery is held by %s", ErrNotAssignee, shipment.AssignedUserID)
	}
	return nil
}

func (s *shipmentService) canManage(actor auth.Identity, teamID string) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.TeamRole(teamID) == auth.TeamRoleManager
}

func (s *shipmentService) memberContact(ctx context.Context, teamID, userID string) (string, string) {
	member, err := s.teams.FindMember(ctx, teamID, userID)
	if err != nil {
		s.logger(ctx, "shipment.member_lookup_failed", map[string]any{"teamId": teamID, "userId": userID, "error": err.Error()})
		return "", ""
	}
	return member.Name, member.Phone
}

func (s *shipmentService) auditEntry(actor auth.Identity, action, code string, now time.Time, details map[string]any) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:          "alg_" + s.newID(),
		ActorUserID: actor.UID,
		Action:      action,
		EntityType:  auditEntityShipment,
		EntityID:    code,
		Details:     details,
		CreatedAt:   now,
	}
}

func parsePickupETA(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: pickup ETA must be RFC 3339, got %q", ErrShipmentInvalidInput, raw)
	}
	eta := parsed.UTC()
	return &eta, nil
}

func (s *shipmentService) isShipmentNotFound(err error) bool {
	var shipErr *repositories.ShipmentError
	if errors.As(err, &shipErr) {
		return shipErr.Code == repositories.ShipmentErrorNotFound
	}
	return isNotFound(err)
}

func (s *shipmentService) mapShipmentError(err error, target domain.ShipmentStatus) error {
	var shipErr *repositories.ShipmentError
	if errors.As(err, &shipErr) {
		switch shipErr.Code {
		case repositories.ShipmentErrorNotFound:
			return fmt.Errorf("%w: %s", ErrShipmentNotFound, shipErr.Message)
		case repositories.ShipmentErrorStatusConflict:
			return &ShipmentTransitionError{From: shipErr.Status, To: target}
		}
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusConflict {
		return &InvalidTransitionError{From: orderErr.Status, To: domain.OrderStatusFulfilled}
	}
	return err
}
