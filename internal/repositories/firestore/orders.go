package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

// maxStatusFilter is the Firestore limit on "in" query values.
const maxStatusFilter = 30

// OrderRepository implements repositories.OrderRepository on the orders collection.
type OrderRepository struct {
	store
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders.insert: order id is required")
	}
	ref, err := r.doc(ctx, ordersCollection, order.ID)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	if err := r.create(ctx, ref, newOrderDocument(order)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return pfirestore.Conflict("orders.insert", fmt.Errorf("order %s already exists", order.ID))
		}
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	ref, err := r.doc(ctx, ordersCollection, order.ID)
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	doc := newOrderDocument(order)
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", r.set(ctx, ref, doc))
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		snap, err := r.get(ctx, ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("orders.update", fmt.Errorf("order %s not found", order.ID))
			}
			return pfirestore.WrapError("orders.update", err)
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("orders.update", fmt.Errorf("order %s version %d, expected %d", order.ID, current.Version, expectedVersion))
		}
		return pfirestore.WrapError("orders.update", r.set(ctx, ref, doc))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.doc(ctx, ordersCollection, orderID)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	snap, err := r.get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, pfirestore.NotFound("orders.find", fmt.Errorf("order %s not found", orderID))
		}
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})
	if len(filter.Statuses) > maxStatusFilter {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: at most %d statuses per query", maxStatusFilter)
	}

	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	query := coll.Query
	if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
		query = query.Where("customerId", "==", customer)
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			values = append(values, string(s))
		}
		query = query.Where("status", "in", values)
	}
	if term := textutil.QueryTerm(filter.Query); term != "" {
		query = query.Where("searchTokens", "array-contains", term)
	}
	query = applyCreatedRange(query, filter.CreatedIn).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)

	// the search term narrows by one word only; remaining words are checked here, so a batch
	// may yield fewer matches than requested and another batch is fetched.
	var matched []domain.Order
	last := cursor
	for len(matched) <= size {
		batch := query.Limit(size + 1)
		if !last.IsZero() {
			batch = batch.StartAfter(last.CreatedAt, last.ID)
		}
		snaps, err := batch.Documents(ctx).GetAll()
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		for _, snap := range snaps {
			order, err := decodeOrder(snap)
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			last = pagination.Cursor{CreatedAt: order.CreatedAt, ID: order.ID}
			if filter.Query != "" && !textutil.MatchesAll(filter.Query, repositories.OrderSearchFields(order)...) {
				continue
			}
			matched = append(matched, order)
		}
		if len(snaps) <= size {
			break
		}
	}

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		tail := page.Items[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: tail.CreatedAt, ID: tail.ID})
	}
	return page, nil
}

func (r *OrderRepository) CountByStatus(ctx context.Context, createdIn domain.DateRange) (map[domain.OrderStatus]int, error) {
	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return nil, pfirestore.WrapError("orders.count", err)
	}
	counts := make(map[domain.OrderStatus]int)
	for _, s := range domain.AllOrderStatuses {
		query := applyCreatedRange(coll.Where("status", "==", string(s)), createdIn)
		result, err := query.NewAggregationQuery().WithCount("count").Get(ctx)
		if err != nil {
			return nil, pfirestore.WrapError("orders.count", err)
		}
		n, err := aggregationCount(result["count"])
		if err != nil {
			return nil, fmt.Errorf("orders.count %s: %w", s, err)
		}
		if n > 0 {
			counts[s] = n
		}
	}
	return counts, nil
}

func (r *OrderRepository) Scan(ctx context.Context, createdIn domain.DateRange, fn func(domain.Order) error) error {
	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return pfirestore.WrapError("orders.scan", err)
	}
	iter := applyCreatedRange(coll.Query, createdIn).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return pfirestore.WrapError("orders.scan", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
	}
}

func applyCreatedRange(query firestore.Query, r domain.DateRange) firestore.Query {
	if r.From != nil {
		query = query.Where("createdAt", ">=", r.From.UTC())
	}
	if r.To != nil {
		query = query.Where("createdAt", "<", r.To.UTC())
	}
	return query
}

func aggregationCount(value any) (int, error) {
	switch v := value.(type) {
	case *firestorepb.Value:
		return int(v.GetIntegerValue()), nil
	case int64:
		return int(v), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected aggregation value %T", value)
	}
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	CustomerID      string                  `firestore:"customerId"`
	CustomerName    string                  `firestore:"customerName,omitempty"`
	CustomerEmail   string                  `firestore:"customerEmail,omitempty"`
	Status          string                  `firestore:"status"`
	Items           []orderItemDocument     `firestore:"items"`
	Totals          orderTotalsDocument     `firestore:"totals"`
	Promotion       *appliedPromoDocument   `firestore:"promotion,omitempty"`
	Payment         paymentDocument         `firestore:"payment"`
	ShippingAddress addressDocument         `firestore:"shippingAddress"`
	Notes           string                  `firestore:"notes,omitempty"`
	StatusHistory   []statusHistoryDocument `firestore:"statusHistory"`
	StockRestored   bool                    `firestore:"stockRestored"`
	StockCommitted  bool                    `firestore:"stockCommitted"`
	ReturnID        string                  `firestore:"returnId,omitempty"`
	SearchTokens    []string                `firestore:"searchTokens"`
	Version         int64                   `firestore:"version"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
	ConfirmedAt     *time.Time              `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time              `firestore:"cancelledAt,omitempty"`
	ReturnedAt      *time.Time              `firestore:"returnedAt,omitempty"`
	RefundedAt      *time.Time              `firestore:"refundedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID  string `firestore:"productId"`
	SKU        string `firestore:"sku,omitempty"`
	Name       string `firestore:"name"`
	CategoryID string `firestore:"categoryId,omitempty"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
	LineTotal  int64  `firestore:"lineTotal"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type appliedPromoDocument struct {
	Code           string  `firestore:"code"`
	Type           string  `firestore:"type"`
	Value          float64 `firestore:"value"`
	DiscountAmount int64   `firestore:"discountAmount"`
}

type paymentDocument struct {
	Method string `firestore:"method"`
	Status string `firestore:"status"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type statusHistoryDocument struct {
	Status string    `firestore:"status"`
	At     time.Time `firestore:"at"`
	Actor  string    `firestore:"actor"`
	Note   string    `firestore:"note,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Status:        string(order.Status),
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Payment:         paymentDocument{Method: order.Payment.Method, Status: order.Payment.Status},
		ShippingAddress: addressDocument(order.ShippingAddress),
		Notes:           order.Notes,
		StockRestored:   order.StockRestored,
		StockCommitted:  order.StockCommitted,
		ReturnID:        order.ReturnID,
		SearchTokens:    textutil.SearchTokens(repositories.OrderSearchFields(order)...),
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ConfirmedAt:     utcPtr(order.ConfirmedAt),
		ShippedAt:       utcPtr(order.ShippedAt),
		DeliveredAt:     utcPtr(order.DeliveredAt),
		CancelledAt:     utcPtr(order.CancelledAt),
		ReturnedAt:      utcPtr(order.ReturnedAt),
		RefundedAt:      utcPtr(order.RefundedAt),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, entry := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusHistoryDocument{
			Status: string(entry.Status),
			At:     entry.At.UTC(),
			Actor:  entry.Actor,
			Note:   entry.Note,
		})
	}
	if order.Promotion != nil {
		doc.Promotion = &appliedPromoDocument{
			Code:           order.Promotion.Code,
			Type:           string(order.Promotion.Type),
			Value:          order.Promotion.Value,
			DiscountAmount: order.Promotion.DiscountAmount,
		}
	}
	return doc
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	order := domain.Order{
		ID:            snap.Ref.ID,
		OrderNumber:   doc.OrderNumber,
		CustomerID:    doc.CustomerID,
		CustomerName:  doc.CustomerName,
		CustomerEmail: doc.CustomerEmail,
		Status:        domain.OrderStatus(doc.Status),
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Tax:      doc.Totals.Tax,
			Shipping: doc.Totals.Shipping,
			Discount: doc.Totals.Discount,
			Total:    doc.Totals.Total,
		},
		Payment:         domain.OrderPayment{Method: doc.Payment.Method, Status: doc.Payment.Status},
		ShippingAddress: domain.Address(doc.ShippingAddress),
		Notes:           doc.Notes,
		StockRestored:   doc.StockRestored,
		StockCommitted:  doc.StockCommitted,
		ReturnID:        doc.ReturnID,
		Version:         doc.Version,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
		ConfirmedAt:     utcPtr(doc.ConfirmedAt),
		ShippedAt:       utcPtr(doc.ShippedAt),
		DeliveredAt:     utcPtr(doc.DeliveredAt),
		CancelledAt:     utcPtr(doc.CancelledAt),
		ReturnedAt:      utcPtr(doc.ReturnedAt),
		RefundedAt:      utcPtr(doc.RefundedAt),
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, entry := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status: domain.OrderStatus(entry.Status),
			At:     entry.At.UTC(),
			Actor:  entry.Actor,
			Note:   entry.Note,
		})
	}
	if doc.Promotion != nil {
		order.Promotion = &domain.AppliedPromotion{
			Code:           doc.Promotion.Code,
			Type:           domain.DiscountType(doc.Promotion.Type),
			Value:          doc.Promotion.Value,
			DiscountAmount: doc.Promotion.DiscountAmount,
		}
	}
	return order, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
