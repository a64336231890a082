package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/oiy-sale/api/internal/domain"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// CatalogRepository reads variant and combo documents in batches. Checkout
// never lists the catalog; it only resolves the ids referenced by a request.
type CatalogRepository struct {
	provider *pfirestore.Provider
	variants *pfirestore.BaseRepository[variantDocument]
	combos   *pfirestore.BaseRepository[comboDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &CatalogRepository{
		provider: provider,
		variants: pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection, nil),
		combos:   pfirestore.NewBaseRepository[comboDocument](provider, combosCollection, nil),
	}, nil
}

func (r *CatalogRepository) GetVariants(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	snaps, err := r.batchGet(ctx, variantsCollection, ids)
	if err != nil {
		return nil, pfirestore.WrapError("catalog.getVariants", err)
	}
	out := make(map[string]domain.ProductVariant, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc variantDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode variant %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

func (r *CatalogRepository) GetCombos(ctx context.Context, ids []string) (map[string]domain.Combo, error) {
	snaps, err := r.batchGet(ctx, combosCollection, ids)
	if err != nil {
		return nil, pfirestore.WrapError("catalog.getCombos", err)
	}
	out := make(map[string]domain.Combo, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc comboDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode combo %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

func (r *CatalogRepository) batchGet(ctx context.Context, collection string, ids []string) ([]*firestore.DocumentSnapshot, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	unique := uniqueTrimmed(ids)
	if len(unique) == 0 {
		return nil, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(unique))
	for _, id := range unique {
		refs = append(refs, client.Collection(collection).Doc(id))
	}
	return client.GetAll(ctx, refs)
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
