package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

type orderRepository struct {
	s *Store
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return conflict("orders.insert", "order id is required")
	}
	return r.s.do(ctx, func(j *journal) error {
		if _, exists := r.s.orders[id]; exists {
			return conflict("orders.insert", "order %s already exists", id)
		}
		r.s.putOrder(j, cloneOrder(order))
		return nil
	})
}

func (r orderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	return r.s.do(ctx, func(j *journal) error {
		current, ok := r.s.orders[order.ID]
		if !ok {
			return notFound("orders.update", "order %s not found", order.ID)
		}
		if current.Version != expectedVersion {
			return conflict("orders.update", "order %s version %d, expected %d", order.ID, current.Version, expectedVersion)
		}
		r.s.putOrder(j, cloneOrder(order))
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.s.do(ctx, func(*journal) error {
		order, ok := r.s.orders[orderID]
		if !ok {
			return notFound("orders.find", "order %s not found", orderID)
		}
		out = cloneOrder(order)
		return nil
	})
	return out, err
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	var matched []domain.Order
	err = r.s.do(ctx, func(*journal) error {
		for _, id := range r.s.candidateOrderIDs(filter) {
			order := r.s.orders[id]
			if !filter.CreatedIn.Contains(order.CreatedAt) {
				continue
			}
			if !cursor.After(order.CreatedAt, order.ID) {
				continue
			}
			if filter.Query != "" && !textutil.MatchesAll(filter.Query, repositories.OrderSearchFields(order)...) {
				continue
			}
			matched = append(matched, cloneOrder(order))
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (r orderRepository) CountByStatus(ctx context.Context, createdIn domain.DateRange) (map[domain.OrderStatus]int, error) {
	counts := make(map[domain.OrderStatus]int)
	err := r.s.do(ctx, func(*journal) error {
		for status, ids := range r.s.byStatus {
			for id := range ids {
				if createdIn.Contains(r.s.orders[id].CreatedAt) {
					counts[status]++
				}
			}
		}
		return nil
	})
	return counts, err
}

func (r orderRepository) Scan(ctx context.Context, createdIn domain.DateRange, fn func(domain.Order) error) error {
	var orders []domain.Order
	err := r.s.do(ctx, func(*journal) error {
		for _, order := range r.s.orders {
			if createdIn.Contains(order.CreatedAt) {
				orders = append(orders, cloneOrder(order))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
	}
	return nil
}

// candidateOrderIDs intersects the customer, status and search token indexes named by filter.
// With no indexed criteria every order is a candidate.
func (s *Store) candidateOrderIDs(filter repositories.OrderListFilter) []string {
	var sets []map[string]struct{}
	if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
		sets = append(sets, s.byCustomer[customer])
	}
	if len(filter.Statuses) > 0 {
		union := make(map[string]struct{})
		for _, status := range filter.Statuses {
			for id := range s.byStatus[status] {
				union[id] = struct{}{}
			}
		}
		sets = append(sets, union)
	}
	if term := textutil.QueryTerm(filter.Query); term != "" {
		sets = append(sets, s.byToken[term])
	}

	if len(sets) == 0 {
		ids := make([]string, 0, len(s.orders))
		for id := range s.orders {
			ids = append(ids, id)
		}
		return ids
	}

	slices.SortFunc(sets, func(a, b map[string]struct{}) int { return len(a) - len(b) })
	var ids []string
	for id := range sets[0] {
		inAll := true
		for _, set := range sets[1:] {
			if _, ok := set[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			ids = append(ids, id)
		}
	}
	return ids
}

// putOrder stores order and moves its index entries, journaling the previous state.
func (s *Store) putOrder(j *journal, order domain.Order) {
	prev, existed := s.orders[order.ID]
	if existed {
		s.unindexOrder(prev)
	}
	s.orders[order.ID] = order
	s.indexOrder(order)

	j.record(func() {
		s.unindexOrder(order)
		if existed {
			s.orders[prev.ID] = prev
			s.indexOrder(prev)
			return
		}
		delete(s.orders, order.ID)
	})
}

func (s *Store) indexOrder(order domain.Order) {
	if order.CustomerID != "" {
		addToIndex(s.byCustomer, order.CustomerID, order.ID)
	}
	addToIndex(s.byStatus, order.Status, order.ID)
	for _, token := range textutil.SearchTokens(repositories.OrderSearchFields(order)...) {
		addToIndex(s.byToken, token, order.ID)
	}
}

func (s *Store) unindexOrder(order domain.Order) {
	removeFromIndex(s.byCustomer, order.CustomerID, order.ID)
	removeFromIndex(s.byStatus, order.Status, order.ID)
	for _, token := range textutil.SearchTokens(repositories.OrderSearchFields(order)...) {
		removeFromIndex(s.byToken, token, order.ID)
	}
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = slices.Clone(order.Items)
	out.StatusHistory = slices.Clone(order.StatusHistory)
	if order.Promotion != nil {
		promo := *order.Promotion
		out.Promotion = &promo
	}
	out.ConfirmedAt = cloneTime(order.ConfirmedAt)
	out.ShippedAt = cloneTime(order.ShippedAt)
	out.DeliveredAt = cloneTime(order.DeliveredAt)
	out.CancelledAt = cloneTime(order.CancelledAt)
	out.ReturnedAt = cloneTime(order.ReturnedAt)
	out.RefundedAt = cloneTime(order.RefundedAt)
	return out
}
