package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

type returnRepository struct {
	s *Store
}

func (r returnRepository) Insert(ctx context.Context, ret domain.ReturnRequest) error {
	id := strings.TrimSpace(ret.ID)
	if id == "" {
		return conflict("returns.insert", "return id is required")
	}
	return r.s.do(ctx, func(j *journal) error {
		if _, exists := r.s.returns[id]; exists {
			return conflict("returns.insert", "return %s already exists", id)
		}
		r.s.putReturn(j, cloneReturn(ret))
		return nil
	})
}

func (r returnRepository) Update(ctx context.Context, ret domain.ReturnRequest, expectedVersion int64) error {
	return r.s.do(ctx, func(j *journal) error {
		current, ok := r.s.returns[ret.ID]
		if !ok {
			return notFound("returns.update", "return %s not found", ret.ID)
		}
		if current.Version != expectedVersion {
			return conflict("returns.update", "return %s version %d, expected %d", ret.ID, current.Version, expectedVersion)
		}
		r.s.putReturn(j, cloneReturn(ret))
		return nil
	})
}

func (r returnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	var out domain.ReturnRequest
	err := r.s.do(ctx, func(*journal) error {
		ret, ok := r.s.returns[returnID]
		if !ok {
			return notFound("returns.find", "return %s not found", returnID)
		}
		out = cloneReturn(ret)
		return nil
	})
	return out, err
}

func (r returnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	var matched []domain.ReturnRequest
	err = r.s.do(ctx, func(*journal) error {
		for _, ret := range r.s.returns {
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, ret.Status) {
				continue
			}
			if filter.OrderID != "" && ret.OrderID != filter.OrderID {
				continue
			}
			if filter.CustomerID != "" && ret.CustomerID != filter.CustomerID {
				continue
			}
			if !cursor.After(ret.CreatedAt, ret.ID) {
				continue
			}
			matched = append(matched, cloneReturn(ret))
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	slices.SortFunc(matched, func(a, b domain.ReturnRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := domain.CursorPage[domain.ReturnRequest]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (s *Store) putReturn(j *journal, ret domain.ReturnRequest) {
	prev, existed := s.returns[ret.ID]
	s.returns[ret.ID] = ret
	j.record(func() {
		if existed {
			s.returns[prev.ID] = prev
			return
		}
		delete(s.returns, ret.ID)
	})
}

func cloneReturn(ret domain.ReturnRequest) domain.ReturnRequest {
	out := ret
	out.Items = slices.Clone(ret.Items)
	out.PickupDate = cloneTime(ret.PickupDate)
	out.ApprovedAt = cloneTime(ret.ApprovedAt)
	out.RejectedAt = cloneTime(ret.RejectedAt)
	out.PickupScheduledAt = cloneTime(ret.PickupScheduledAt)
	out.PickedUpAt = cloneTime(ret.PickedUpAt)
	out.ReceivedAt = cloneTime(ret.ReceivedAt)
	out.RefundedAt = cloneTime(ret.RefundedAt)
	return out
}
