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

type stubShipmentRepo struct {
	findFn           func(ctx context.Context, orderID string) (domain.Shipment, error)
	createFn         func(ctx context.Context, shipment domain.Shipment) error
	transitionFn     func(ctx context.Context, req repositories.ShipmentTransitionRequest) (domain.Shipment, error)
	completeFn       func(ctx context.Context, req repositories.ShipmentCompletionRequest) (repositories.ShipmentCompletionResult, error)
	listUnassignedFn func(ctx context.Context, teamIDs []string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error)
	listAssigneeFn   func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error)
}

func (s *stubShipmentRepo) FindByOrderID(ctx context.Context, orderID string) (domain.Shipment, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Shipment{}, repositories.NewShipmentError(repositories.ShipmentErrorNotFound, "shipment not found", nil)
}

func (s *stubShipmentRepo) Create(ctx context.Context, shipment domain.Shipment) error {
	if s.createFn != nil {
		return s.createFn(ctx, shipment)
	}
	return nil
}

// Transition mimics the guarded write: re-read, check the allowed set,
// apply the mutation.
func (s *stubShipmentRepo) Transition(ctx context.Context, req repositories.ShipmentTransitionRequest) (domain.Shipment, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, req)
	}
	shipment, err := s.FindByOrderID(ctx, req.OrderID)
	if err != nil {
		return domain.Shipment{}, err
	}
	allowed := false
	for _, status := range req.Allowed {
		if shipment.Status == status {
			allowed = true
		}
	}
	if !allowed {
		return domain.Shipment{}, &repositories.ShipmentError{
			Code:   repositories.ShipmentErrorStatusConflict,
			Status: shipment.Status,
		}
	}
	shipment.Status = req.Target
	if req.Assignee != nil {
		shipment.AssignedUserID = req.Assignee.UserID
		shipment.AssignedName = req.Assignee.Name
		shipment.AssignedPhone = req.Assignee.Phone
	}
	if req.PickupETA != nil {
		shipment.PickupETA = req.PickupETA
	}
	if req.Target == domain.ShipmentStatusPending {
		shipment.AssignedUserID = ""
		shipment.AssignedName = ""
		shipment.AssignedPhone = ""
		shipment.PickupETA = nil
	}
	shipment.UpdatedAt = req.Now
	return shipment, nil
}

func (s *stubShipmentRepo) Complete(ctx context.Context, req repositories.ShipmentCompletionRequest) (repositories.ShipmentCompletionResult, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, req)
	}
	return repositories.ShipmentCompletionResult{}, errors.New("not implemented")
}

func (s *stubShipmentRepo) ListUnassigned(ctx context.Context, teamIDs []string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error) {
	if s.listUnassignedFn != nil {
		return s.listUnassignedFn(ctx, teamIDs, pager)
	}
	return domain.CursorPage[domain.Shipment]{}, nil
}

func (s *stubShipmentRepo) ListByAssignee(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error) {
	if s.listAssigneeFn != nil {
		return s.listAssigneeFn(ctx, userID, pager)
	}
	return domain.CursorPage[domain.Shipment]{}, nil
}

type stubTeamRepo struct {
	findMemberFn func(ctx context.Context, teamID, userID string) (domain.TeamMember, error)
}

func (s *stubTeamRepo) FindMember(ctx context.Context, teamID, userID string) (domain.TeamMember, error) {
	if s.findMemberFn != nil {
		return s.findMemberFn(ctx, teamID, userID)
	}
	return domain.TeamMember{}, repoNotFoundError{msg: "member not found"}
}

func deliveryOrder() domain.Order {
	return domain.Order{
		ID:             "ord_1",
		Code:           "OIY-26-AAAAA",
		TeamID:         "team-1",
		FulfilmentType: domain.FulfilmentDelivery,
		Status:         domain.OrderStatusFulfilling,
	}
}

func courier() auth.Identity {
	return auth.Identity{
		UID:     "user-1",
		TeamIDs: []string{"team-1"},
	}
}

func teamManager() auth.Identity {
	return auth.Identity{
		UID:       "mgr-1",
		TeamIDs:   []string{"team-1"},
		TeamRoles: map[string]string{"team-1": auth.TeamRoleManager},
	}
}

func newShipmentServiceForTest(t *testing.T, deps ShipmentServiceDeps) ShipmentService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return deliveryOrder(), nil
			},
		}
	}
	if deps.Shipments == nil {
		deps.Shipments = &stubShipmentRepo{}
	}
	if deps.Teams == nil {
		deps.Teams = &stubTeamRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC) }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("id")
	}
	svc, err := NewShipmentService(deps)
	if err != nil {
		t.Fatalf("NewShipmentService: %v", err)
	}
	return svc
}

func TestGetForOrderMaterializesPendingShipment(t *testing.T) {
	shipments := &stubShipmentRepo{}
	var created domain.Shipment
	shipments.createFn = func(_ context.Context, shipment domain.Shipment) error {
		created = shipment
		return nil
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	shipment, err := svc.GetForOrder(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("GetForOrder: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusPending {
		t.Fatalf("expected PENDING, got %s", shipment.Status)
	}
	if !strings.HasPrefix(created.ID, "shp_") {
		t.Fatalf("unexpected shipment id %s", created.ID)
	}
	if created.OrderID != "ord_1" || created.OrderCode != "OIY-26-AAAAA" || created.TeamID != "team-1" {
		t.Fatalf("unexpected shipment %+v", created)
	}
}

func TestGetForOrderRejectsPickupOrder(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			order := deliveryOrder()
			order.FulfilmentType = domain.FulfilmentPickupSchool
			return order, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Orders: orders})

	_, err := svc.GetForOrder(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if !errors.Is(err, ErrNotDeliveryOrder) {
		t.Fatalf("expected ErrNotDeliveryOrder, got %v", err)
	}
}

func TestGetForOrderEnforcesTeamScope(t *testing.T) {
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{})

	outsider := auth.Identity{UID: "user-9", TeamIDs: []string{"team-9"}}
	_, err := svc.GetForOrder(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: outsider})
	if !errors.Is(err, ErrOrderNotInTeam) {
		t.Fatalf("expected ErrOrderNotInTeam, got %v", err)
	}

	admin := auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
	if _, err := svc.GetForOrder(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: admin}); err != nil {
		t.Fatalf("expected admin bypass, got %v", err)
	}
}

func TestGetForOrderMaterializesBeforeFulfilling(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			order := deliveryOrder()
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
	}
	shipments := &stubShipmentRepo{}
	var created domain.Shipment
	shipments.createFn = func(_ context.Context, shipment domain.Shipment) error {
		created = shipment
		return nil
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Orders: orders, Shipments: shipments})

	shipment, err := svc.GetForOrder(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("GetForOrder: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusPending || created.OrderID != "ord_1" {
		t.Fatalf("expected materialized PENDING shipment, got %+v", shipment)
	}
}

func TestSelfAssignTakesPendingShipment(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", OrderCode: "OIY-26-AAAAA", TeamID: "team-1", Status: domain.ShipmentStatusPending}, nil
		},
	}
	var captured repositories.ShipmentTransitionRequest
	shipments.transitionFn = func(ctx context.Context, req repositories.ShipmentTransitionRequest) (domain.Shipment, error) {
		captured = req
		shipments.transitionFn = nil
		return shipments.Transition(ctx, req)
	}
	teams := &stubTeamRepo{
		findMemberFn: func(_ context.Context, teamID, userID string) (domain.TeamMember, error) {
			return domain.TeamMember{TeamID: teamID, UserID: userID, Name: "Minh", Phone: "0907654321"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments, Teams: teams})

	shipment, err := svc.SelfAssign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("SelfAssign: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusAssigned {
		t.Fatalf("expected ASSIGNED, got %s", shipment.Status)
	}
	if shipment.AssignedUserID != "user-1" || shipment.AssignedName != "Minh" || shipment.AssignedPhone != "0907654321" {
		t.Fatalf("unexpected assignee snapshot %+v", shipment)
	}
	if len(captured.Allowed) != 1 || captured.Allowed[0] != domain.ShipmentStatusPending {
		t.Fatalf("expected guarded PENDING claim, got %v", captured.Allowed)
	}
	if captured.Audit.Action != "SHIPMENT_ASSIGN" || captured.Audit.EntityType != "shipment" {
		t.Fatalf("expected SHIPMENT_ASSIGN audit in the transition, got %+v", captured.Audit)
	}
}

func TestSelfAssignRepeatedBySameCourier(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{
				ID: "shp_1", OrderID: "ord_1", OrderCode: "OIY-26-AAAAA", TeamID: "team-1",
				Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-1", AssignedName: "cũ",
			}, nil
		},
	}
	teams := &stubTeamRepo{
		findMemberFn: func(_ context.Context, teamID, userID string) (domain.TeamMember, error) {
			return domain.TeamMember{TeamID: teamID, UserID: userID, Name: "Minh", Phone: "0907654321"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments, Teams: teams})

	shipment, err := svc.SelfAssign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("repeated SelfAssign by holder: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusAssigned || shipment.AssignedUserID != "user-1" {
		t.Fatalf("unexpected shipment %+v", shipment)
	}
	if shipment.AssignedName != "Minh" {
		t.Fatalf("expected refreshed contact, got %q", shipment.AssignedName)
	}
}

func TestSelfAssignRejectsTakenShipment(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-2"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	_, err := svc.SelfAssign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	var transitionErr *ShipmentTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected ShipmentTransitionError, got %v", err)
	}
	if transitionErr.From != domain.ShipmentStatusAssigned {
		t.Fatalf("unexpected detail %+v", transitionErr)
	}
}

func TestSelfAssignLosesClaimRace(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusPending}, nil
		},
		transitionFn: func(context.Context, repositories.ShipmentTransitionRequest) (domain.Shipment, error) {
			// A concurrent courier claimed the shipment after our read.
			return domain.Shipment{}, &repositories.ShipmentError{
				Code:   repositories.ShipmentErrorStatusConflict,
				Status: domain.ShipmentStatusAssigned,
			}
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	_, err := svc.SelfAssign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	var transitionErr *ShipmentTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected ShipmentTransitionError, got %v", err)
	}
	if transitionErr.From != domain.ShipmentStatusAssigned || transitionErr.To != domain.ShipmentStatusAssigned {
		t.Fatalf("unexpected detail %+v", transitionErr)
	}
}

func TestUnassignByAssigneeReleasesShipment(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-1", AssignedName: "Minh"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	shipment, err := svc.Unassign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusPending {
		t.Fatalf("expected PENDING, got %s", shipment.Status)
	}
	if shipment.AssignedUserID != "" || shipment.AssignedName != "" {
		t.Fatalf("expected cleared assignee, got %+v", shipment)
	}
}

func TestUnassignWhileInTransit(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusInTransit, AssignedUserID: "user-1"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	shipment, err := svc.Unassign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("Unassign while IN_TRANSIT: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusPending || shipment.AssignedUserID != "" {
		t.Fatalf("expected released shipment, got %+v", shipment)
	}
}

func TestUnassignCompletedShipmentRejected(t *testing.T) {
	for _, status := range []domain.ShipmentStatus{domain.ShipmentStatusDelivered, domain.ShipmentStatusFailed} {
		shipments := &stubShipmentRepo{
			findFn: func(context.Context, string) (domain.Shipment, error) {
				return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: status, AssignedUserID: "user-1"}, nil
			},
		}
		svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

		_, err := svc.Unassign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
		var transitionErr *ShipmentTransitionError
		if !errors.As(err, &transitionErr) {
			t.Fatalf("%s: expected ShipmentTransitionError, got %v", status, err)
		}
		if transitionErr.From != status || transitionErr.To != domain.ShipmentStatusPending {
			t.Fatalf("%s: unexpected detail %+v", status, transitionErr)
		}
	}
}

func TestUnassignByOtherCourierRejected(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-2"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	_, err := svc.Unassign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("expected ErrNotAssignee, got %v", err)
	}
}

func TestUnassignByTeamManagerRejected(t *testing.T) {
	// Releasing a delivery is the assignee's call; the manager role does not
	// override it.
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-2"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	_, err := svc.Unassign(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: teamManager()})
	if !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("expected ErrNotAssignee, got %v", err)
	}
}

func TestAssignRequiresManager(t *testing.T) {
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{})

	_, err := svc.Assign(context.Background(), AssignShipmentCommand{
		OrderCode:      "OIY-26-AAAAA",
		AssigneeUserID: "user-2",
		Actor:          courier(),
	})
	if !errors.Is(err, ErrShipmentForbidden) {
		t.Fatalf("expected ErrShipmentForbidden, got %v", err)
	}
}

func TestAssignResolvesMemberContact(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", OrderCode: "OIY-26-AAAAA", Status: domain.ShipmentStatusPending}, nil
		},
	}
	teams := &stubTeamRepo{
		findMemberFn: func(_ context.Context, teamID, userID string) (domain.TeamMember, error) {
			if teamID != "team-1" || userID != "user-2" {
				t.Fatalf("unexpected member lookup %s/%s", teamID, userID)
			}
			return domain.TeamMember{TeamID: teamID, UserID: userID, Name: "Lan", Phone: "0909999999"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments, Teams: teams})

	shipment, err := svc.Assign(context.Background(), AssignShipmentCommand{
		OrderCode:      "OIY-26-AAAAA",
		AssigneeUserID: "user-2",
		Actor:          teamManager(),
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if shipment.AssignedUserID != "user-2" {
		t.Fatalf("expected assignee user-2, got %s", shipment.AssignedUserID)
	}
	if shipment.AssignedName != "Lan" || shipment.AssignedPhone != "0909999999" {
		t.Fatalf("unexpected contact snapshot %+v", shipment)
	}
}

func TestAssignStampsPickupETA(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusPending}, nil
		},
	}
	teams := &stubTeamRepo{
		findMemberFn: func(_ context.Context, teamID, userID string) (domain.TeamMember, error) {
			return domain.TeamMember{TeamID: teamID, UserID: userID, Name: "Lan"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments, Teams: teams})

	shipment, err := svc.Assign(context.Background(), AssignShipmentCommand{
		OrderCode:      "OIY-26-AAAAA",
		AssigneeUserID: "user-2",
		PickupETA:      "2026-03-03T10:30:00+07:00",
		Actor:          teamManager(),
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	want := time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC)
	if shipment.PickupETA == nil || !shipment.PickupETA.Equal(want) {
		t.Fatalf("expected pickup ETA %s, got %v", want, shipment.PickupETA)
	}
}

func TestAssignRejectsMalformedPickupETA(t *testing.T) {
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{})

	_, err := svc.Assign(context.Background(), AssignShipmentCommand{
		OrderCode:      "OIY-26-AAAAA",
		AssigneeUserID: "user-2",
		PickupETA:      "tomorrow",
		Actor:          teamManager(),
	})
	if !errors.Is(err, ErrShipmentInvalidInput) {
		t.Fatalf("expected ErrShipmentInvalidInput, got %v", err)
	}
}

func TestAssignRejectsNonMember(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusPending}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	_, err := svc.Assign(context.Background(), AssignShipmentCommand{
		OrderCode:      "OIY-26-AAAAA",
		AssigneeUserID: "stranger",
		Actor:          teamManager(),
	})
	if !errors.Is(err, ErrAssigneeNotInTeam) {
		t.Fatalf("expected ErrAssigneeNotInTeam, got %v", err)
	}
}

func TestStartDeliveryRequiresAssignee(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-2"}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	_, err := svc.StartDelivery(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("expected ErrNotAssignee, got %v", err)
	}
}

func TestStartDeliveryMovesToInTransit(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: domain.ShipmentStatusAssigned, AssignedUserID: "user-1"}, nil
		},
	}
	var captured repositories.ShipmentTransitionRequest
	shipments.transitionFn = func(ctx context.Context, req repositories.ShipmentTransitionRequest) (domain.Shipment, error) {
		captured = req
		shipments.transitionFn = nil
		return shipments.Transition(ctx, req)
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	shipment, err := svc.StartDelivery(context.Background(), ShipmentCommand{
		OrderCode: "OIY-26-AAAAA",
		PickupETA: "2026-03-03T09:00:00Z",
		Actor:     courier(),
	})
	if err != nil {
		t.Fatalf("StartDelivery: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusInTransit {
		t.Fatalf("expected IN_TRANSIT, got %s", shipment.Status)
	}
	if captured.PickupETA == nil || !captured.PickupETA.Equal(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected pickup ETA in transition request, got %v", captured.PickupETA)
	}
	if captured.Audit.Action != "SHIPMENT_START" {
		t.Fatalf("unexpected audit action %s", captured.Audit.Action)
	}
}

func TestMarkDeliveredCompletesShipmentAndOrder(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", OrderCode: "OIY-26-AAAAA", Status: domain.ShipmentStatusInTransit, AssignedUserID: "user-1"}, nil
		},
	}
	var captured repositories.ShipmentCompletionRequest
	shipments.completeFn = func(_ context.Context, req repositories.ShipmentCompletionRequest) (repositories.ShipmentCompletionResult, error) {
		captured = req
		return repositories.ShipmentCompletionResult{
			Shipment: domain.Shipment{ID: "shp_1", Status: domain.ShipmentStatusDelivered},
			Order:    domain.Order{Code: req.OrderCode, Status: domain.OrderStatusFulfilled},
		}, nil
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	shipment, err := svc.MarkDelivered(context.Background(), ShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", shipment.Status)
	}
	if captured.Outcome != repositories.ShipmentOutcomeDelivered {
		t.Fatalf("expected delivered outcome, got %s", captured.Outcome)
	}
	if captured.Audit.Action != "FULFILMENT_COMPLETE" || captured.Audit.EntityType != "order" {
		t.Fatalf("unexpected audit entry %+v", captured.Audit)
	}
}

func TestMarkFailedRequiresReason(t *testing.T) {
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{})
	_, err := svc.MarkFailed(context.Background(), FailShipmentCommand{OrderCode: "OIY-26-AAAAA", Actor: courier()})
	if !errors.Is(err, ErrShipmentInvalidInput) {
		t.Fatalf("expected ErrShipmentInvalidInput, got %v", err)
	}
}

func TestMarkFailedPassesReasonToCompletion(t *testing.T) {
	shipments := &stubShipmentRepo{
		findFn: func(context.Context, string) (domain.Shipment, error) {
			return domain.Shipment{ID: "shp_1", OrderID: "ord_1", OrderCode: "OIY-26-AAAAA", Status: domain.ShipmentStatusInTransit, AssignedUserID: "user-1"}, nil
		},
	}
	var captured repositories.ShipmentCompletionRequest
	shipments.completeFn = func(_ context.Context, req repositories.ShipmentCompletionRequest) (repositories.ShipmentCompletionResult, error) {
		captured = req
		return repositories.ShipmentCompletionResult{
			Shipment: domain.Shipment{ID: "shp_1", Status: domain.ShipmentStatusFailed},
			Order:    domain.Order{Code: req.OrderCode, Status: domain.OrderStatusDeliveryFailed, DeliveryAttempts: 1},
		}, nil
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	shipment, err := svc.MarkFailed(context.Background(), FailShipmentCommand{
		OrderCode:  "OIY-26-AAAAA",
		ReasonCode: "NO_ANSWER",
		Note:       "không liên lạc được",
		Actor:      courier(),
	})
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusFailed {
		t.Fatalf("expected FAILED, got %s", shipment.Status)
	}
	if captured.Outcome != repositories.ShipmentOutcomeFailed || captured.ReasonCode != "NO_ANSWER" {
		t.Fatalf("unexpected completion request %+v", captured)
	}
	if captured.Audit.Action != "FULFILMENT_FAIL" {
		t.Fatalf("unexpected audit action %s", captured.Audit.Action)
	}
}

func TestListUnassignedScopesByTeams(t *testing.T) {
	var gotTeams []string
	shipments := &stubShipmentRepo{
		listUnassignedFn: func(_ context.Context, teamIDs []string, _ domain.Pagination) (domain.CursorPage[domain.Shipment], error) {
			gotTeams = teamIDs
			return domain.CursorPage[domain.Shipment]{Items: []domain.Shipment{{ID: "shp_1"}}}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	page, err := svc.ListUnassigned(context.Background(), courier(), Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ListUnassigned: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(page.Items))
	}
	if len(gotTeams) != 1 || gotTeams[0] != "team-1" {
		t.Fatalf("expected scope [team-1], got %v", gotTeams)
	}

	if _, err := svc.ListUnassigned(context.Background(), auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}, Pagination{}); err != nil {
		t.Fatalf("admin ListUnassigned: %v", err)
	}
	if gotTeams != nil {
		t.Fatalf("expected unscoped admin listing, got %v", gotTeams)
	}
}

func TestListUnassignedWithoutTeamsIsEmpty(t *testing.T) {
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{})

	page, err := svc.ListUnassigned(context.Background(), auth.Identity{UID: "user-9"}, Pagination{})
	if err != nil {
		t.Fatalf("ListUnassigned: %v", err)
	}
	if len(page.Items) != 0 || page.NextPageToken != "" {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestListMineDelegatesToAssigneeQuery(t *testing.T) {
	gotUser := ""
	shipments := &stubShipmentRepo{
		listAssigneeFn: func(_ context.Context, userID string, _ domain.Pagination) (domain.CursorPage[domain.Shipment], error) {
			gotUser = userID
			return domain.CursorPage[domain.Shipment]{}, nil
		},
	}
	svc := newShipmentServiceForTest(t, ShipmentServiceDeps{Shipments: shipments})

	if _, err := svc.ListMine(context.Background(), courier(), Pagination{}); err != nil {
		t.Fatalf("ListMine: %v", err)
	}
	if gotUser != "user-1" {
		t.Fatalf("expected lookup for user-1, got %s", gotUser)
	}
}
