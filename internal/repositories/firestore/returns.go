package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

type returnDocument struct {
	OrderID           string               `firestore:"orderId"`
	OrderNumber       string               `firestore:"orderNumber"`
	CustomerID        string               `firestore:"customerId"`
	RequesterEmail    string               `firestore:"requesterEmail,omitempty"`
	Items             []returnItemDocument `firestore:"items"`
	Reason            string               `firestore:"reason"`
	Description       string               `firestore:"description,omitempty"`
	Status            string               `firestore:"status"`
	RefundAmount      int64                `firestore:"refundAmount"`
	RefundMethod      string               `firestore:"refundMethod,omitempty"`
	RefundReference   string               `firestore:"refundReference,omitempty"`
	RejectionReason   string               `firestore:"rejectionReason,omitempty"`
	PickupDate        *time.Time           `firestore:"pickupDate,omitempty"`
	PickupCarrier     string               `firestore:"pickupCarrier,omitempty"`
	AdminNotes        string               `firestore:"adminNotes,omitempty"`
	ApprovedBy        string               `firestore:"approvedBy,omitempty"`
	RejectedBy        string               `firestore:"rejectedBy,omitempty"`
	ReceivedBy        string               `firestore:"receivedBy,omitempty"`
	RefundedBy        string               `firestore:"refundedBy,omitempty"`
	Version           int64                `firestore:"version"`
	CreatedAt         time.Time            `firestore:"createdAt"`
	UpdatedAt         time.Time            `firestore:"updatedAt"`
	ApprovedAt        *time.Time           `firestore:"approvedAt,omitempty"`
	RejectedAt        *time.Time           `firestore:"rejectedAt,omitempty"`
	PickupScheduledAt *time.Time           `firestore:"pickupScheduledAt,omitempty"`
	PickedUpAt        *time.Time           `firestore:"pickedUpAt,omitempty"`
	ReceivedAt        *time.Time           `firestore:"receivedAt,omitempty"`
	RefundedAt        *time.Time           `firestore:"refundedAt,omitempty"`
}

type returnItemDocument struct {
	LineIndex     int    `firestore:"lineIndex"`
	ProductID     string `firestore:"productId"`
	Name          string `firestore:"name"`
	OrderedQty    int    `firestore:"orderedQty"`
	ReturnQty     int    `firestore:"returnQty"`
	OriginalPrice int64  `firestore:"originalPrice"`
	Condition     string `firestore:"condition"`
	Reason        string `firestore:"reason,omitempty"`
}

// ReturnRepository implements repositories.ReturnRepository on the returns collection.
type ReturnRepository struct {
	store
}

func (r *ReturnRepository) Insert(ctx context.Context, ret domain.ReturnRequest) error {
	if strings.TrimSpace(ret.ID) == "" {
		return errors.New("returns.insert: return id is required")
	}
	ref, err := r.doc(ctx, returnsCollection, ret.ID)
	if err != nil {
		return pfirestore.WrapError("returns.insert", err)
	}
	if err := r.create(ctx, ref, newReturnDocument(ret)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return pfirestore.Conflict("returns.insert", fmt.Errorf("return %s already exists", ret.ID))
		}
		return pfirestore.WrapError("returns.insert", err)
	}
	return nil
}

func (r *ReturnRepository) Update(ctx context.Context, ret domain.ReturnRequest, expectedVersion int64) error {
	ref, err := r.doc(ctx, returnsCollection, ret.ID)
	if err != nil {
		return pfirestore.WrapError("returns.update", err)
	}
	doc := newReturnDocument(ret)
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("returns.update", r.set(ctx, ref, doc))
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		snap, err := r.get(ctx, ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("returns.update", fmt.Errorf("return %s not found", ret.ID))
			}
			return pfirestore.WrapError("returns.update", err)
		}
		var current returnDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode return %s: %w", ret.ID, err)
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("returns.update", fmt.Errorf("return %s version %d, expected %d", ret.ID, current.Version, expectedVersion))
		}
		return pfirestore.WrapError("returns.update", r.set(ctx, ref, doc))
	})
}

func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	ref, err := r.doc(ctx, returnsCollection, returnID)
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.find", err)
	}
	snap, err := r.get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ReturnRequest{}, pfirestore.NotFound("returns.find", fmt.Errorf("return %s not found", returnID))
		}
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.find", err)
	}
	return decodeReturn(snap)
}

func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	coll, err := r.collection(ctx, returnsCollection)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
	}
	query := coll.Query
	if len(filter.Statuses) > 0 {
		values := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			values = append(values, string(s))
		}
		query = query.Where("status", "in", values)
	}
	if filter.OrderID != "" {
		query = query.Where("orderId", "==", filter.OrderID)
	}
	if filter.CustomerID != "" {
		query = query.Where("customerId", "==", filter.CustomerID)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	snaps, err := query.Limit(size + 1).Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
	}
	page := domain.CursorPage[domain.ReturnRequest]{}
	for _, snap := range snaps {
		ret, err := decodeReturn(snap)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		page.Items = append(page.Items, ret)
	}
	if len(page.Items) > size {
		page.Items = page.Items[:size]
		tail := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: tail.CreatedAt, ID: tail.ID})
	}
	return page, nil
}

func newReturnDocument(ret domain.ReturnRequest) returnDocument {
	doc := returnDocument{
		OrderID:           ret.OrderID,
		OrderNumber:       ret.OrderNumber,
		CustomerID:        ret.CustomerID,
		RequesterEmail:    ret.RequesterEmail,
		Reason:            ret.Reason,
		Description:       ret.Description,
		Status:            string(ret.Status),
		RefundAmount:      ret.RefundAmount,
		RefundMethod:      ret.RefundMethod,
		RefundReference:   ret.RefundReference,
		RejectionReason:   ret.RejectionReason,
		PickupDate:        utcPtr(ret.PickupDate),
		PickupCarrier:     ret.PickupCarrier,
		AdminNotes:        ret.AdminNotes,
		ApprovedBy:        ret.ApprovedBy,
		RejectedBy:        ret.RejectedBy,
		ReceivedBy:        ret.ReceivedBy,
		RefundedBy:        ret.RefundedBy,
		Version:           ret.Version,
		CreatedAt:         ret.CreatedAt.UTC(),
		UpdatedAt:         ret.UpdatedAt.UTC(),
		ApprovedAt:        utcPtr(ret.ApprovedAt),
		RejectedAt:        utcPtr(ret.RejectedAt),
		PickupScheduledAt: utcPtr(ret.PickupScheduledAt),
		PickedUpAt:        utcPtr(ret.PickedUpAt),
		ReceivedAt:        utcPtr(ret.ReceivedAt),
		RefundedAt:        utcPtr(ret.RefundedAt),
	}
	for _, item := range ret.Items {
		doc.Items = append(doc.Items, returnItemDocument{
			LineIndex:     item.LineIndex,
			ProductID:     item.ProductID,
			Name:          item.Name,
			OrderedQty:    item.OrderedQty,
			ReturnQty:     item.ReturnQty,
			OriginalPrice: item.OriginalPrice,
			Condition:     string(item.Condition),
			Reason:        item.Reason,
		})
	}
	return doc
}

func decodeReturn(snap *firestore.DocumentSnapshot) (domain.ReturnRequest, error) {
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
	}
	ret := domain.ReturnRequest{
		ID:                snap.Ref.ID,
		OrderID:           doc.OrderID,
		OrderNumber:       doc.OrderNumber,
		CustomerID:        doc.CustomerID,
		RequesterEmail:    doc.RequesterEmail,
		Reason:            doc.Reason,
		Description:       doc.Description,
		Status:            domain.ReturnStatus(doc.Status),
		RefundAmount:      doc.RefundAmount,
		RefundMethod:      doc.RefundMethod,
		RefundReference:   doc.RefundReference,
		RejectionReason:   doc.RejectionReason,
		PickupDate:        utcPtr(doc.PickupDate),
		PickupCarrier:     doc.PickupCarrier,
		AdminNotes:        doc.AdminNotes,
		ApprovedBy:        doc.ApprovedBy,
		RejectedBy:        doc.RejectedBy,
		ReceivedBy:        doc.ReceivedBy,
		RefundedBy:        doc.RefundedBy,
		Version:           doc.Version,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
		ApprovedAt:        utcPtr(doc.ApprovedAt),
		RejectedAt:        utcPtr(doc.RejectedAt),
		PickupScheduledAt: utcPtr(doc.PickupScheduledAt),
		PickedUpAt:        utcPtr(doc.PickedUpAt),
		ReceivedAt:        utcPtr(doc.ReceivedAt),
		RefundedAt:        utcPtr(doc.RefundedAt),
	}
	for _, item := range doc.Items {
		ret.Items = append(ret.Items, domain.ReturnItem{
			LineIndex:     item.LineIndex,
			ProductID:     item.ProductID,
			Name:          item.Name,
			OrderedQty:    item.OrderedQty,
			ReturnQty:     item.ReturnQty,
			OriginalPrice: item.OriginalPrice,
			Condition:     domain.ItemCondition(item.Condition),
			Reason:        item.Reason,
		})
	}
	return ret, nil
}
