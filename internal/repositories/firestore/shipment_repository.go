package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oiy-sale/api/internal/domain"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// ShipmentRepository persists delivery tasks keyed by the parent order id.
// Complete advances the shipment and the parent order in one transaction.
type ShipmentRepository struct {
	provider  *pfirestore.Provider
	shipments *pfirestore.BaseRepository[shipmentDocument]
	orders    *pfirestore.BaseRepository[orderDocument]
	audits    *pfirestore.BaseRepository[auditLogDocument]
}

var _ repositories.ShipmentRepository = (*ShipmentRepository)(nil)

func NewShipmentRepository(provider *pfirestore.Provider) (*ShipmentRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &ShipmentRepository{
		provider:  provider,
		shipments: pfirestore.NewBaseRepository[shipmentDocument](provider, shipmentsCollection, nil),
		orders:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, decodeOrder),
		audits:    pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil),
	}, nil
}

func (r *ShipmentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Shipment, error) {
	if r == nil || r.shipments == nil {
		return domain.Shipment{}, errors.New("shipment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Shipment{}, repositories.NewShipmentError(repositories.ShipmentErrorNotFound, "shipment find: order id is required", nil)
	}
	doc, err := r.shipments.Get(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, wrapShipmentError("shipments.find", shipmentNotFoundAs(orderID, err))
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ShipmentRepository) Create(ctx context.Context, shipment domain.Shipment) error {
	if r == nil || r.shipments == nil {
		return errors.New("shipment repository not initialised")
	}
	orderID := strings.TrimSpace(shipment.OrderID)
	if orderID == "" {
		return repositories.NewShipmentError(repositories.ShipmentErrorUnknown, "shipment create: order id is required", nil)
	}
	if err := r.shipments.Create(ctx, orderID, newShipmentDocument(shipment)); err != nil {
		if pfirestore.IsAlreadyExists(err) || isRepoConflict(err) {
			return repositories.NewShipmentError(repositories.ShipmentErrorExists,
				fmt.Sprintf("shipment for order %s already exists", orderID), err)
		}
		return wrapShipmentError("shipments.create", err)
	}
	return nil
}

func (r *ShipmentRepository) Transition(ctx context.Context, req repositories.ShipmentTransitionRequest) (domain.Shipment, error) {
	if r == nil || r.shipments == nil {
		return domain.Shipment{}, errors.New("shipment repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Shipment{}, repositories.NewShipmentError(repositories.ShipmentErrorNotFound, "shipment transition: order id is required", nil)
	}

	var updated domain.Shipment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.shipments.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return shipmentNotFoundAs(orderID, err)
		}
		var doc shipmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode shipment %s: %w", orderID, err)
		}
		current := domain.ShipmentStatus(doc.Status)
		if !shipmentStatusIn(current, req.Allowed) {
			return &repositories.ShipmentError{
				Code:    repositories.ShipmentErrorStatusConflict,
				Status:  current,
				Message: fmt.Sprintf("shipment transition: status %s does not allow %s", current, req.Target),
			}
		}

		doc.Status = string(req.Target)
		if req.Assignee != nil {
			doc.AssignedRef = strings.TrimSpace(req.Assignee.UserID)
			doc.AssignedName = strings.TrimSpace(req.Assignee.Name)
			doc.AssignedPhone = strings.TrimSpace(req.Assignee.Phone)
		}
		if req.PickupETA != nil {
			eta := req.PickupETA.UTC()
			doc.PickupETA = &eta
		}
		if req.Target == domain.ShipmentStatusPending {
			doc.AssignedRef = ""
			doc.AssignedName = ""
			doc.AssignedPhone = ""
			doc.PickupETA = nil
		}
		doc.UpdatedAt = req.Now.UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		if err := txCreateAudit(ctx, tx, r.audits, req.Audit); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Shipment{}, wrapShipmentError("shipments.transition", err)
	}
	return updated, nil
}

func (r *ShipmentRepository) Complete(ctx context.Context, req repositories.ShipmentCompletionRequest) (repositories.ShipmentCompletionResult, error) {
	if r == nil || r.shipments == nil {
		return repositories.ShipmentCompletionResult{}, errors.New("shipment repository not initialised")
	}
	code := strings.TrimSpace(req.OrderCode)
	if code == "" {
		return repositories.ShipmentCompletionResult{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "shipment complete: order code is required", nil)
	}

	var result repositories.ShipmentCompletionResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return orderNotFoundAs(code, err)
		}
		var order orderDocument
		if err := orderSnap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", code, err)
		}
		currentStatus := domain.OrderStatus(order.Status)
		if currentStatus != domain.OrderStatusFulfilling {
			return &repositories.OrderError{
				Code:    repositories.OrderErrorStatusConflict,
				Status:  currentStatus,
				Message: fmt.Sprintf("shipment complete: order status %s is not %s", currentStatus, domain.OrderStatusFulfilling),
			}
		}

		orderID := strings.TrimSpace(order.OrderID)
		shipmentRef, err := r.shipments.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		shipmentSnap, err := tx.Get(shipmentRef)
		if err != nil {
			return shipmentNotFoundAs(orderID, err)
		}
		var shipment shipmentDocument
		if err := shipmentSnap.DataTo(&shipment); err != nil {
			return fmt.Errorf("decode shipment %s: %w", orderID, err)
		}
		shipmentStatus := domain.ShipmentStatus(shipment.Status)
		if shipmentStatus == domain.ShipmentStatusDelivered || shipmentStatus == domain.ShipmentStatusFailed {
			return &repositories.ShipmentError{
				Code:    repositories.ShipmentErrorStatusConflict,
				Status:  shipmentStatus,
				Message: fmt.Sprintf("shipment complete: shipment already %s", shipmentStatus),
			}
		}

		now := req.Now.UTC()
		switch req.Outcome {
		case repositories.ShipmentOutcomeDelivered:
			shipment.Status = string(domain.ShipmentStatusDelivered)
			shipment.DeliveredAt = &now
			order.Status = string(domain.OrderStatusFulfilled)
			order.FulfilledAt = &now
		case repositories.ShipmentOutcomeFailed:
			shipment.Status = string(domain.ShipmentStatusFailed)
			order.Status = string(domain.OrderStatusDeliveryFailed)
			order.DeliveryFailedAt = &now
			order.DeliveryFailCode = strings.TrimSpace(req.ReasonCode)
			order.DeliveryAttempts++
		default:
			return repositories.NewShipmentError(repositories.ShipmentErrorUnknown,
				fmt.Sprintf("shipment complete: unknown outcome %q", req.Outcome), nil)
		}
		if note := strings.TrimSpace(req.Note); note != "" {
			order.Note = note
		}
		shipment.UpdatedAt = now
		order.UpdatedAt = now

		if err := tx.Set(shipmentRef, shipment); err != nil {
			return err
		}
		if err := tx.Set(orderRef, order); err != nil {
			return err
		}
		if err := txCreateAudit(ctx, tx, r.audits, req.Audit); err != nil {
			return err
		}

		result = repositories.ShipmentCompletionResult{
			Shipment: shipment.toDomain(orderID),
			Order:    order.toDomain(code),
		}
		return nil
	})
	if err != nil {
		return repositories.ShipmentCompletionResult{}, wrapShipmentError("shipments.complete", err)
	}
	return result, nil
}

func (r *ShipmentRepository) ListUnassigned(ctx context.Context, teamIDs []string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error) {
	return r.list(ctx, "shipments.listUnassigned", pager, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.ShipmentStatusPending))
		if scoped := uniqueTrimmed(teamIDs); len(scoped) > 0 {
			q = q.Where("teamRef", "in", scoped)
		}
		return q
	})
}

func (r *ShipmentRepository) ListByAssignee(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Shipment], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Shipment]{}, errors.New("shipment list: user id is required")
	}
	return r.list(ctx, "shipments.listByAssignee", pager, func(q firestore.Query) firestore.Query {
		return q.Where("assignedRef", "==", userID)
	})
}

func (r *ShipmentRepository) list(ctx context.Context, op string, pager domain.Pagination, build func(firestore.Query) firestore.Query) (domain.CursorPage[domain.Shipment], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Shipment]{}, errors.New("shipment repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Shipment]{}, pfirestore.WrapError(op, err)
	}

	q := build(client.Collection(shipmentsCollection).Query).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var decoded shipmentPageToken
		if err := decodePageToken(token, &decoded); err != nil {
			return domain.CursorPage[domain.Shipment]{}, pfirestore.WrapError(op, err)
		}
		q = q.StartAfter(decoded.CreatedAt, decoded.OrderID)
	}
	q = q.Limit(pageSize + 1)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var shipments []domain.Shipment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Shipment]{}, pfirestore.WrapError(op, err)
		}
		var doc shipmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Shipment]{}, fmt.Errorf("decode shipment %s: %w", snap.Ref.ID, err)
		}
		shipments = append(shipments, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(shipments) > pageSize
	if hasMore {
		shipments = shipments[:pageSize]
	}
	var nextToken string
	if hasMore && len(shipments) > 0 {
		last := shipments[len(shipments)-1]
		encoded, err := encodePageToken(shipmentPageToken{OrderID: last.OrderID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Shipment]{}, pfirestore.WrapError(op, err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Shipment]{Items: shipments, NextPageToken: nextToken}, nil
}

type shipmentPageToken struct {
	OrderID   string
	CreatedAt time.Time
}

func shipmentStatusIn(status domain.ShipmentStatus, allowed []domain.ShipmentStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func shipmentNotFoundAs(orderID string, err error) error {
	if status.Code(err) == codes.NotFound || isRepoNotFound(err) {
		return repositories.NewShipmentError(repositories.ShipmentErrorNotFound,
			fmt.Sprintf("shipment for order %s not found", orderID), err)
	}
	return err
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func wrapShipmentError(op string, err error) error {
	if err == nil {
		return nil
	}
	var shipmentErr *repositories.ShipmentError
	if errors.As(err, &shipmentErr) {
		if shipmentErr.Op == "" {
			shipmentErr.Op = op
		}
		return shipmentErr
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
