package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/oiy-sale/api/internal/domain"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// AuditLogRepository appends and lists immutable audit entries. Entries tied
// to a lifecycle transition are written through txCreateAudit inside the
// owning repository's transaction.
type AuditLogRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &AuditLogRepository{
		provider: provider,
		entries:  pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil),
	}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit append: entry id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit append: action is required")
	}
	return r.entries.Create(ctx, entry.ID, newAuditLogDocument(entry))
}

func (r *AuditLogRepository) ListByEntity(ctx context.Context, entityType, entityID string, pager domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit list: entity type and id are required")
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
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}

	q := client.Collection(auditLogsCollection).
		Where("entityType", "==", entityType).
		Where("entityRef", "==", entityID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var decoded auditPageToken
		if err := decodePageToken(token, &decoded); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		q = q.StartAfter(decoded.CreatedAt, decoded.ID)
	}
	q = q.Limit(pageSize + 1)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var entries []domain.AuditLogEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("decode audit entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		encoded, err := encodePageToken(auditPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.AuditLogEntry]{Items: entries, NextPageToken: nextToken}, nil
}

type auditPageToken struct {
	ID        string
	CreatedAt time.Time
}

// txCreateAudit appends an audit entry inside an open transaction. Entries
// without an action are silently skipped so optional audits stay optional.
func txCreateAudit(ctx context.Context, tx *firestore.Transaction, entries *pfirestore.BaseRepository[auditLogDocument], entry domain.AuditLogEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return nil
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit append: entry id is required")
	}
	ref, err := entries.DocumentRef(ctx, entry.ID)
	if err != nil {
		return err
	}
	return tx.Create(ref, newAuditLogDocument(entry))
}
