package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oiy-sale/api/internal/domain"
	"github.com/oiy-sale/api/internal/repositories"
)

// ErrAuditInvalidInput signals the caller provided invalid arguments.
var ErrAuditInvalidInput = errors.New("audit: invalid input")

// AuditLogServiceDeps bundles the collaborators required to construct an
// audit log service.
type AuditLogServiceDeps struct {
	Audits      repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type auditLogService struct {
	audits repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewAuditLogService wires dependencies into a concrete AuditLogService.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Audits == nil {
		return nil, errors.New("audit log service: audit repository is required")
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

	return &auditLogService{
		audits: deps.Audits,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists the entry outside any lifecycle transaction. Failures are
// logged and swallowed so audit plumbing never breaks the primary mutation.
func (s *auditLogService) Record(ctx context.Context, record AuditRecord) {
	action := strings.TrimSpace(record.Action)
	entityType := strings.TrimSpace(record.EntityType)
	entityID := strings.TrimSpace(record.EntityID)
	if action == "" || entityType == "" || entityID == "" {
		s.logger(ctx, "audit.record_skipped", map[string]any{
			"action":     action,
			"entityType": entityType,
			"entityId":   entityID,
		})
		return
	}

	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}
	entry := domain.AuditLogEntry{
		ID:          "alg_" + s.newID(),
		ActorUserID: strings.TrimSpace(record.ActorUserID),
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Details:     record.Details,
		CreatedAt:   occurred.UTC(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.record_failed", map[string]any{
			"action":   action,
			"entityId": entityID,
			"error":    err.Error(),
		})
	}
}

func (s *auditLogService) ListByEntity(ctx context.Context, entityType, entityID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error) {
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: entity type and id are required", ErrAuditInvalidInput)
	}
	return s.audits.ListByEntity(ctx, entityType, entityID, pager)
}
