package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oiy-sale/api/internal/domain"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// PaymentRepository records confirmed payment facts. Confirm commits the
// payment, the transaction-id index entry, the order update and the audit
// entry in one transaction.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentDocument]
	txIndex  *pfirestore.BaseRepository[paymentTxIndexDocument]
	orders   *pfirestore.BaseRepository[orderDocument]
	audits   *pfirestore.BaseRepository[auditLogDocument]
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &PaymentRepository{
		provider: provider,
		payments: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection, nil),
		txIndex:  pfirestore.NewBaseRepository[paymentTxIndexDocument](provider, paymentTxIndexCollection, nil),
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, decodeOrder),
		audits:   pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil),
	}, nil
}

func (r *PaymentRepository) Confirm(ctx context.Context, req repositories.ConfirmPaymentRequest) (repositories.ConfirmPaymentResult, error) {
	if r == nil || r.payments == nil {
		return repositories.ConfirmPaymentResult{}, errors.New("payment repository not initialised")
	}
	code := strings.TrimSpace(req.OrderCode)
	if code == "" {
		return repositories.ConfirmPaymentResult{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "payment confirm: order code is required", nil)
	}
	if strings.TrimSpace(req.Payment.ID) == "" {
		return repositories.ConfirmPaymentResult{}, repositories.NewOrderError(repositories.OrderErrorUnknown, "payment confirm: payment id is required", nil)
	}

	var result repositories.ConfirmPaymentResult
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

		currentStatus := domain.OrderStatus(doc.Status)
		if len(req.Allowed) > 0 && !statusIn(currentStatus, req.Allowed) {
			return &repositories.OrderError{
				Code:    repositories.OrderErrorStatusConflict,
				Status:  currentStatus,
				Message: fmt.Sprintf("payment confirm: order status %s does not allow confirmation", currentStatus),
			}
		}
		currentPayment := domain.PaymentStatus(doc.PaymentStatus)
		if len(req.RequireStatus) > 0 && !paymentStatusIn(currentPayment, req.RequireStatus) {
			return &repositories.OrderError{
				Code:          repositories.OrderErrorPaymentStatusConflict,
				PaymentStatus: currentPayment,
				Message:       fmt.Sprintf("payment confirm: payment status %s does not allow confirmation", currentPayment),
			}
		}

		var txIndexRef *firestore.DocumentRef
		if txID := strings.TrimSpace(req.Payment.TransactionID); txID != "" {
			txIndexRef, err = r.txIndex.DocumentRef(ctx, txID)
			if err != nil {
				return err
			}
			if _, err := tx.Get(txIndexRef); err == nil {
				return &repositories.OrderError{
					Code:    repositories.OrderErrorDuplicateTransaction,
					Message: fmt.Sprintf("payment confirm: transaction %s already recorded", txID),
				}
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		paymentRef, err := r.payments.DocumentRef(ctx, req.Payment.ID)
		if err != nil {
			return err
		}
		payment := req.Payment
		payment.OrderID = strings.TrimSpace(doc.OrderID)
		payment.OrderCode = code
		if err := tx.Create(paymentRef, newPaymentDocument(payment)); err != nil {
			return err
		}
		if txIndexRef != nil {
			index := paymentTxIndexDocument{
				OrderCode:  code,
				PaymentRef: payment.ID,
				CreatedAt:  req.Now.UTC(),
			}
			if err := tx.Create(txIndexRef, index); err != nil {
				return err
			}
		}

		doc.Status = string(req.Target)
		doc.PaymentStatus = string(payment.Status)
		paidAt := req.PaidAt.UTC()
		doc.PaidAt = &paidAt
		doc.UpdatedAt = req.Now.UTC()
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		if err := txCreateAudit(ctx, tx, r.audits, req.Audit); err != nil {
			return err
		}

		result = repositories.ConfirmPaymentResult{
			Order:   doc.toDomain(code),
			Payment: payment,
		}
		return nil
	})
	if err != nil {
		return repositories.ConfirmPaymentResult{}, wrapOrderError("payments.confirm", err)
	}
	return result, nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment list: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("payments.list", err)
	}

	iter := client.Collection(paymentsCollection).
		Where("orderRef", "==", orderID).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var payments []domain.Payment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("payments.list", err)
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
		}
		payments = append(payments, doc.toDomain(snap.Ref.ID))
	}
	return payments, nil
}

func paymentStatusIn(current domain.PaymentStatus, allowed []domain.PaymentStatus) bool {
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}
