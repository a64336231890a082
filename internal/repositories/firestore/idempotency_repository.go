package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/oiy-sale/api/internal/domain"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// IdempotencyRepository reads the checkout idempotency ledger. Records are
// written only by OrderRepository.CreateWithReservation so the binding commits
// with the order it names.
type IdempotencyRepository struct {
	records *pfirestore.BaseRepository[idempotencyDocument]
}

var _ repositories.IdempotencyRepository = (*IdempotencyRepository)(nil)

func NewIdempotencyRepository(provider *pfirestore.Provider) (*IdempotencyRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &IdempotencyRepository{
		records: pfirestore.NewBaseRepository[idempotencyDocument](provider, idempotencyKeysCollection, nil),
	}, nil
}

func (r *IdempotencyRepository) Find(ctx context.Context, scope, key string) (domain.IdempotencyRecord, error) {
	if r == nil || r.records == nil {
		return domain.IdempotencyRecord{}, errors.New("idempotency repository not initialised")
	}
	if strings.TrimSpace(key) == "" {
		return domain.IdempotencyRecord{}, errors.New("idempotency find: key is required")
	}
	doc, err := r.records.Get(ctx, idempotencyDocID(scope, key))
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return doc.Data.toDomain(), nil
}
