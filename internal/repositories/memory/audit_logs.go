package memory

import (
	"context"
	"maps"
	"slices"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

type auditLogRepository struct {
	s *Store
}

func (r auditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return conflict("audit_logs.append", "audit entry id is required")
	}
	stored := cloneAuditEntry(entry)
	return r.s.do(ctx, func(j *journal) error {
		for _, existing := range r.s.auditLogs {
			if existing.ID == stored.ID {
				return conflict("audit_logs.append", "audit entry %s already exists", stored.ID)
			}
		}
		r.s.auditLogs = append(r.s.auditLogs, stored)
		j.record(func() {
			r.s.auditLogs = r.s.auditLogs[:len(r.s.auditLogs)-1]
		})
		return nil
	})
}

func (r auditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	var matched []domain.AuditLogEntry
	err = r.s.do(ctx, func(*journal) error {
		for _, entry := range r.s.auditLogs {
			if filter.TargetRef != "" && entry.TargetRef != filter.TargetRef {
				continue
			}
			if filter.Actor != "" && entry.Actor != filter.Actor {
				continue
			}
			if filter.Action != "" && entry.Action != filter.Action {
				continue
			}
			if !cursor.After(entry.CreatedAt, entry.ID) {
				continue
			}
			matched = append(matched, cloneAuditEntry(entry))
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	slices.SortFunc(matched, func(a, b domain.AuditLogEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	page := domain.CursorPage[domain.AuditLogEntry]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func cloneAuditEntry(entry domain.AuditLogEntry) domain.AuditLogEntry {
	out := entry
	out.Metadata = maps.Clone(entry.Metadata)
	out.Diff = maps.Clone(entry.Diff)
	return out
}
