package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

// OrderRepository persists orders keyed by code and owns the two critical
// transactions: checkout commit and guarded lifecycle transitions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	variants *pfirestore.BaseRepository[variantDocument]
	idem     *pfirestore.BaseRepository[idempotencyDocument]
	audits   *pfirestore.BaseRepository[auditLogDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, decodeOrder),
		variants: pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection, nil),
		idem:     pfirestore.NewBaseRepository[idempotencyDocument](provider, idempotencyKeysCollection, nil),
		audits:   pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil),
	}, nil
}

func (r *OrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order find: code is required", nil)
	}
	doc, err := r.orders.Get(ctx, code)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.find", orderNotFoundAs(code, err))
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) CreateWithReservation(ctx context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	code := strings.TrimSpace(req.Order.Code)
	if code == "" {
		return domain.Order{}, repositories.NewCheckoutError(repositories.CheckoutErrorUnknown, "order create: code is required", nil)
	}

	variantIDs := make([]string, 0, len(req.StockRequirements))
	for id := range req.StockRequirements {
		variantIDs = append(variantIDs, id)
	}
	sort.Strings(variantIDs)

	var created domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		var idemRef *firestore.DocumentRef
		if strings.TrimSpace(req.Idempotency.Key) != "" {
			idemRef, err = r.idem.DocumentRef(ctx, idempotencyDocID(req.Idempotency.Scope, req.Idempotency.Key))
			if err != nil {
				return err
			}
		}

		// Firestore requires all reads before any write, so existence checks
		// and stock reads come first.
		if _, err := tx.Get(orderRef); err == nil {
			return repositories.NewCheckoutError(repositories.CheckoutErrorCodeExists,
				fmt.Sprintf("order create: code %s already exists", code), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if idemRef != nil {
			if _, err := tx.Get(idemRef); err == nil {
				return repositories.NewCheckoutError(repositories.CheckoutErrorIdempotencyExists,
					"order create: idempotency key already bound", nil)
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		type decrement struct {
			ref   *firestore.DocumentRef
			stock int
		}
		decrements := make([]decrement, 0, len(variantIDs))
		for _, variantID := range variantIDs {
			required := req.StockRequirements[variantID]
			if required <= 0 {
				continue
			}
			variantRef, err := r.variants.DocumentRef(ctx, variantID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(variantRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return &repositories.CheckoutError{
						Code:      repositories.CheckoutErrorVariantMissing,
						VariantID: variantID,
						Message:   fmt.Sprintf("order create: variant %s missing", variantID),
					}
				}
				return err
			}
			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode variant %s: %w", variantID, err)
			}
			if doc.Stock < required {
				return &repositories.CheckoutError{
					Code:      repositories.CheckoutErrorStockShort,
					VariantID: variantID,
					Requested: required,
					Available: doc.Stock,
					Message:   fmt.Sprintf("order create: variant %s stock %d below requested %d", variantID, doc.Stock, required),
				}
			}
			decrements = append(decrements, decrement{ref: variantRef, stock: doc.Stock - required})
		}

		for _, dec := range decrements {
			if err := tx.Update(dec.ref, []firestore.Update{{Path: "stock", Value: dec.stock}}); err != nil {
				return err
			}
		}
		if err := tx.Create(orderRef, newOrderDocument(req.Order)); err != nil {
			return err
		}
		if idemRef != nil {
			if err := tx.Create(idemRef, newIdempotencyDocument(req.Idempotency)); err != nil {
				return err
			}
		}
		created = req.Order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapCheckoutError("orders.create", err)
	}
	return created, nil
}

func (r *OrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order transition: code is required", nil)
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return orderNotFoundAs(code, err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", code, err)
		}

		current := domain.OrderStatus(doc.Status)
		if !statusIn(current, req.Allowed) {
			return &repositories.OrderError{
				Code:    repositories.OrderErrorStatusConflict,
				Status:  current,
				Message: fmt.Sprintf("order transition: status %s does not allow %s", current, req.Target),
			}
		}

		doc.Status = string(req.Target)
		if req.SetPaidAt != nil {
			doc.PaidAt = utcOrNil(req.SetPaidAt)
		}
		if req.SetFulfilledAt != nil {
			doc.FulfilledAt = utcOrNil(req.SetFulfilledAt)
		}
		if req.SetCancelledAt != nil {
			doc.CancelledAt = utcOrNil(req.SetCancelledAt)
		}
		if req.SetDeliveryFailedAt != nil {
			doc.DeliveryFailedAt = utcOrNil(req.SetDeliveryFailedAt)
		}
		if reason := strings.TrimSpace(req.CancelReason); reason != "" {
			doc.CancelReason = reason
		}
		if failCode := strings.TrimSpace(req.DeliveryFailCode); failCode != "" {
			doc.DeliveryFailCode = failCode
		}
		if note := strings.TrimSpace(req.Note); note != "" {
			doc.Note = note
		}
		if req.IncrementDeliveryAttempts {
			doc.DeliveryAttempts++
		}
		doc.UpdatedAt = req.Now.UTC()

		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		if err := txCreateAudit(ctx, tx, r.audits, req.Audit); err != nil {
			return err
		}
		updated = doc.toDomain(code)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.transition", err)
	}
	return updated, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	q := client.Collection(ordersCollection).Query
	if filter.Status != nil {
		q = q.Where("status", "==", string(*filter.Status))
	}
	if filter.PaymentStatus != nil {
		q = q.Where("paymentStatus", "==", string(*filter.PaymentStatus))
	}
	if teamID := strings.TrimSpace(filter.TeamID); teamID != "" {
		q = q.Where("teamRef", "==", teamID)
	}

	// Code prefix search forces code ordering; the default listing is newest
	// first with code as tie breaker.
	search := strings.ToUpper(strings.TrimSpace(filter.Search))
	if search != "" {
		q = q.Where("code", ">=", search).
			Where("code", "<", search+"\uf8ff").
			OrderBy("code", firestore.Asc)
	} else {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy("code", firestore.Asc)
	}

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var decoded orderPageToken
		if err := decodePageToken(token, &decoded); err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if search != "" {
			q = q.StartAfter(decoded.Code)
		} else {
			q = q.StartAfter(decoded.CreatedAt, decoded.Code)
		}
	}
	q = q.Limit(pageSize + 1)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodePageToken(orderPageToken{Code: last.Code, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

func (r *OrderRepository) Delete(ctx context.Context, code string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return repositories.NewOrderError(repositories.OrderErrorNotFound, "order delete: code is required", nil)
	}

	doc, err := r.orders.Get(ctx, code)
	if err != nil {
		return wrapOrderError("orders.delete", orderNotFoundAs(code, err))
	}
	order := doc.Data.toDomain(doc.ID)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}

	refs := []*firestore.DocumentRef{client.Collection(ordersCollection).Doc(code)}
	if order.ID != "" {
		refs = append(refs, client.Collection(shipmentsCollection).Doc(order.ID))
	}
	for _, collection := range []string{paymentsCollection, paymentTxIndexCollection, idempotencyKeysCollection} {
		linked, err := collectRefs(ctx, client.Collection(collection).Where("orderCode", "==", code))
		if err != nil {
			return pfirestore.WrapError("orders.delete", err)
		}
		refs = append(refs, linked...)
	}

	bw := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return pfirestore.WrapError("orders.delete", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError("orders.delete", err)
		}
	}
	return nil
}

type orderPageToken struct {
	Code      string
	CreatedAt time.Time
}

func collectRefs(ctx context.Context, q firestore.Query) ([]*firestore.DocumentRef, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, snap.Ref)
	}
	return refs, nil
}

func statusIn(current domain.OrderStatus, allowed []domain.OrderStatus) bool {
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}

func orderNotFoundAs(code string, err error) error {
	if status.Code(err) == codes.NotFound || isRepoNotFound(err) {
		return repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", code), err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func decodeOrder(snap *firestore.DocumentSnapshot) (orderDocument, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func wrapCheckoutError(op string, err error) error {
	if err == nil {
		return nil
	}
	var checkoutErr *repositories.CheckoutError
	if errors.As(err, &checkoutErr) {
		if checkoutErr.Op == "" {
			checkoutErr.Op = op
		}
		return checkoutErr
	}
	return pfirestore.WrapError(op, err)
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
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
