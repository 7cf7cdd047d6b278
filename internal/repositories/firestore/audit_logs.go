package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Severity  string         `firestore:"severity"`
	RequestID string         `firestore:"requestId,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// AuditLogRepository appends audit entries; documents are never rewritten.
type AuditLogRepository struct {
	store
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit_logs.append: id is required")
	}
	ref, err := r.doc(ctx, auditLogsCollection, id)
	if err != nil {
		return pfirestore.WrapError("audit_logs.append", err)
	}
	doc := auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	return pfirestore.WrapError("audit_logs.append", r.create(ctx, ref, doc))
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	coll, err := r.collection(ctx, auditLogsCollection)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("audit_logs.list", err)
	}
	query := coll.Query
	if filter.TargetRef != "" {
		query = query.Where("targetRef", "==", filter.TargetRef)
	}
	if filter.Actor != "" {
		query = query.Where("actor", "==", filter.Actor)
	}
	if filter.Action != "" {
		query = query.Where("action", "==", filter.Action)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	snaps, err := query.Limit(size + 1).Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("audit_logs.list", err)
	}
	page := domain.CursorPage[domain.AuditLogEntry]{}
	for _, snap := range snaps {
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("decode audit log %s: %w", snap.Ref.ID, err)
		}
		page.Items = append(page.Items, domain.AuditLogEntry{
			ID:        snap.Ref.ID,
			Actor:     doc.Actor,
			ActorType: doc.ActorType,
			Action:    doc.Action,
			TargetRef: doc.TargetRef,
			Severity:  doc.Severity,
			RequestID: doc.RequestID,
			Metadata:  doc.Metadata,
			Diff:      doc.Diff,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	if len(page.Items) > size {
		page.Items = page.Items[:size]
		tail := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: tail.CreatedAt, ID: tail.ID})
	}
	return page, nil
}
