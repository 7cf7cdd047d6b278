package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
)

// Audit actions recorded for manual staff mutations.
const (
	AuditActionStockSet        = "stock.set"
	AuditActionStockCorrect    = "stock.correct"
	AuditActionPromotionUpsert = "promotion.upsert"
)

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	Logger      Logger
	IDGenerator func() string
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	logger Logger
	newID  func() string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
		newID:  newID,
	}, nil
}

// Record persists an audit entry. Repository failures are logged and never reach the caller, whose
// mutation has already committed.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if strings.TrimSpace(record.RequestID) == "" {
		record.RequestID = requestctx.TraceID(ctx)
	}
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append_failed", map[string]any{
			"action":    entry.Action,
			"targetRef": entry.TargetRef,
			"error":     err.Error(),
		})
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: filter.Pagination,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: %v", ErrAuditLogInvalidInput, err)
		}
		return domain.CursorPage[AuditLogEntry]{}, mapRepositoryError(err, ErrAuditLogInvalidInput, ErrAuditLogInvalidInput)
	}
	return page, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}
	entry := domain.AuditLogEntry{
		ID:        s.newID(),
		Actor:     textutil.SanitizePlain(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Action:    textutil.SanitizePlain(record.Action, 120),
		TargetRef: textutil.SanitizePlain(record.TargetRef, 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: textutil.SanitizePlain(record.RequestID, 128),
		CreatedAt: occurred.UTC(),
	}
	if len(record.Metadata) > 0 {
		entry.Metadata = make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			if key = strings.TrimSpace(key); key != "" {
				entry.Metadata[key] = sanitizeAuditValue(value)
			}
		}
	}
	if len(record.Diff) > 0 {
		entry.Diff = make(map[string]any, len(record.Diff))
		for key, change := range record.Diff {
			if key = strings.TrimSpace(key); key == "" {
				continue
			}
			entry.Diff[key] = map[string]any{
				"before": sanitizeAuditValue(change.Before),
				"after":  sanitizeAuditValue(change.After),
			}
		}
	}
	return entry
}

func normalizeActorType(actorType, actor string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(actorType)); normalized {
	case "customer", "staff", "admin", "system", "service":
		return normalized
	}
	actor = strings.ToLower(strings.TrimSpace(actor))
	switch {
	case actor == systemActor || strings.HasPrefix(actor, "system:"):
		return "system"
	case strings.HasPrefix(actor, "service:"):
		return "service"
	default:
		return defaultActorType
	}
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeAuditValue(value any) any {
	switch v := value.(type) {
	case string:
		return textutil.SanitizePlain(v, 512)
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return v.UTC()
	case fmt.Stringer:
		return textutil.SanitizePlain(v.String(), 512)
	default:
		return v
	}
}

// diffPromotions lists the promotion fields an upsert changed. before is nil for new codes.
func diffPromotions(before *Promotion, after Promotion) map[string]AuditLogDiff {
	var prev Promotion
	if before != nil {
		prev = *before
	}
	diff := make(map[string]AuditLogDiff)
	track := func(field string, old, next any, changed bool) {
		if before == nil || changed {
			diff[field] = AuditLogDiff{Before: old, After: next}
		}
	}
	track("description", prev.Description, after.Description, prev.Description != after.Description)
	track("type", string(prev.Type), string(after.Type), prev.Type != after.Type)
	track("value", prev.Value, after.Value, prev.Value != after.Value)
	track("minOrderAmount", prev.MinOrderAmount, after.MinOrderAmount, prev.MinOrderAmount != after.MinOrderAmount)
	track("maxDiscount", optionalAmount(prev.MaxDiscount), optionalAmount(after.MaxDiscount), optionalAmount(prev.MaxDiscount) != optionalAmount(after.MaxDiscount))
	track("usageLimit", prev.UsageLimit, after.UsageLimit, prev.UsageLimit != after.UsageLimit)
	track("active", prev.Active, after.Active, prev.Active != after.Active)
	track("validFrom", prev.ValidFrom, after.ValidFrom, !prev.ValidFrom.Equal(after.ValidFrom))
	track("validUntil", prev.ValidUntil, after.ValidUntil, !prev.ValidUntil.Equal(after.ValidUntil))
	track("categoryIds", strings.Join(prev.CategoryIDs, ","), strings.Join(after.CategoryIDs, ","), strings.Join(prev.CategoryIDs, ",") != strings.Join(after.CategoryIDs, ","))
	track("productIds", strings.Join(prev.ProductIDs, ","), strings.Join(after.ProductIDs, ","), strings.Join(prev.ProductIDs, ",") != strings.Join(after.ProductIDs, ","))
	return diff
}

func optionalAmount(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

type noopAuditLog struct{}

func (noopAuditLog) Record(context.Context, AuditLogRecord) {}

func (noopAuditLog) List(context.Context, AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}
