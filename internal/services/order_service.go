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
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	orderNumberCounter    = "orders"
	defaultOrderPrefix    = "ORD"
	orderIDPrefix         = "ord_"
	maxOrderNotesLength   = 500
	maxOrderItemNameRunes = 200
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Stock        StockLedger
	Discounts    DiscountEngine
	UnitOfWork   repositories.UnitOfWork
	Pricing      domain.PricingPolicy
	NumberPrefix string
	// CheckOnlyStock disables the stock decrement at checkout; availability is still checked.
	CheckOnlyStock bool
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
	Events         EventPublisher
	Metrics        Metrics
}

type orderService struct {
	orders         repositories.OrderRepository
	counters       repositories.CounterRepository
	stock          StockLedger
	discounts      DiscountEngine
	unitOfWork     repositories.UnitOfWork
	pricing        domain.PricingPolicy
	numberPrefix   string
	checkOnlyStock bool
	clock          func() time.Time
	newID          func() string
	logger         Logger
	events         EventPublisher
	metrics        Metrics
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock ledger is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("order service: discount engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	pricing := deps.Pricing
	if pricing == (domain.PricingPolicy{}) {
		pricing = domain.DefaultPricingPolicy()
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.NumberPrefix))
	if prefix == "" {
		prefix = defaultOrderPrefix
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &orderService{
		orders:         deps.Orders,
		counters:       deps.Counters,
		stock:          deps.Stock,
		discounts:      deps.Discounts,
		unitOfWork:     unit,
		pricing:        pricing,
		numberPrefix:   prefix,
		checkOnlyStock: deps.CheckOnlyStock,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		events:  deps.Events,
		metrics: metrics,
	}, nil
}

// CreateOrder runs checkout: availability check, promotion validation, totals, persistence with
// status pending, promotion redemption and the stock decrement, all in one unit of work.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	items, err := buildOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	address, err := normaliseAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	// Sequence numbers are allocated outside the checkout transaction; a failed checkout leaves
	// a gap in the sequence.
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	actor := firstNonEmpty(cmd.Actor, cmd.CustomerEmail, customerID)
	order := Order{
		ID:              s.nextOrderID(),
		OrderNumber:     number,
		CustomerID:      customerID,
		CustomerName:    strings.TrimSpace(cmd.CustomerName),
		CustomerEmail:   strings.TrimSpace(cmd.CustomerEmail),
		Status:          domain.OrderStatusPending,
		Items:           items,
		Payment:         domain.OrderPayment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending},
		ShippingAddress: address,
		Notes:           textutil.SanitizePlain(cmd.Notes, maxOrderNotesLength),
		StatusHistory: []StatusHistoryEntry{{
			Status: domain.OrderStatusPending,
			At:     now,
			Actor:  actor,
			Note:   "order placed",
		}},
		StockCommitted: !s.checkOnlyStock,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = runInTx(ctx, s.unitOfWork, func(ctx context.Context) error {
		requests := make([]StockRequest, 0, len(items))
		for _, item := range items {
			requests = append(requests, StockRequest{ProductID: item.ProductID, Name: item.Name, Quantity: item.Quantity})
		}
		availability, err := s.stock.CheckAvailability(ctx, requests)
		if err != nil {
			return err
		}
		if !availability.Valid {
			return &StockShortageError{Messages: availability.Errors}
		}

		var promo *Promotion
		discount := int64(0)
		if code := strings.TrimSpace(cmd.PromoCode); code != "" {
			categories, products := orderItemRefs(items)
			subtotal := s.pricing.Totals(items, 0).Subtotal
			validated, err := s.discounts.Validate(ctx, code, subtotal, categories, products)
			if err != nil {
				return err
			}
			promo = &validated
			discount = s.discounts.CalculateDiscount(validated, subtotal)
		}
		order.Totals = s.pricing.Totals(items, discount)
		if promo != nil {
			order.Promotion = &domain.AppliedPromotion{
				Code:           promo.Code,
				Type:           promo.Type,
				Value:          promo.Value,
				DiscountAmount: order.Totals.Discount,
			}
		}

		if !s.checkOnlyStock {
			if _, err := s.stock.AdjustMany(ctx, stockDeltas(items, -1)); err != nil {
				return err
			}
		}
		if err := s.orders.Insert(ctx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if promo != nil {
			if _, err := s.discounts.Redeem(ctx, *promo); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.OrderCreated(ctx)
	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"customerId":  order.CustomerID,
		"total":       order.Totals.Total,
	})
	s.publish(ctx, OrderEvent{
		Type:        EventOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Actor:       actor,
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Statuses {
		if _, ok := domain.ParseOrderStatus(string(status)); !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	if r := filter.CreatedIn; r.From != nil && r.To != nil && !r.To.After(*r.From) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: date range end must follow its start", ErrOrderInvalidInput)
	}
	filter.Query = strings.TrimSpace(filter.Query)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return page, nil
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter)
	if err != nil {
		return "", mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return formatOrderNumber(s.numberPrefix, now, seq), nil
}

// formatOrderNumber renders <prefix>-<year>-<seq>. The sequence is global and padded to nine
// digits, so numbers sort by creation order up to a billion orders.
func formatOrderNumber(prefix string, now time.Time, seq int64) string {
	return fmt.Sprintf("%s-%04d-%09d", prefix, now.Year(), seq)
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + strings.ToLower(s.newID())
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId":   event.OrderID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
	}
}

// StockShortageError lists the products checkout could not reserve.
type StockShortageError struct {
	Messages []string
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStockInsufficient.Error(), strings.Join(e.Messages, "; "))
}

func (e *StockShortageError) Unwrap() error {
	return ErrStockInsufficient
}

func buildOrderItems(lines []CartLine) ([]OrderItem, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	items := make([]OrderItem, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: items[%d].unitPrice must not be negative", ErrOrderInvalidInput, i)
		}
		items = append(items, OrderItem{
			ProductID:  productID,
			SKU:        strings.TrimSpace(line.SKU),
			Name:       textutil.SanitizePlain(line.Name, maxOrderItemNameRunes),
			CategoryID: strings.TrimSpace(line.CategoryID),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			LineTotal:  domain.LineTotal(line.UnitPrice, line.Quantity),
		})
	}
	return items, nil
}

func normaliseAddress(addr Address) (Address, error) {
	out := Address{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      strings.TrimSpace(addr.Phone),
	}
	var missing []string
	if out.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if out.Line1 == "" {
		missing = append(missing, "line1")
	}
	if out.City == "" {
		missing = append(missing, "city")
	}
	if out.PostalCode == "" {
		missing = append(missing, "postalCode")
	}
	if len(missing) > 0 {
		return Address{}, fmt.Errorf("%w: shipping address missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return out, nil
}

func orderItemRefs(items []OrderItem) (categories, products []string) {
	for _, item := range items {
		if item.CategoryID != "" {
			categories = append(categories, item.CategoryID)
		}
		products = append(products, item.ProductID)
	}
	return categories, products
}

func stockDeltas(items []OrderItem, sign int) []StockDelta {
	grouped := domain.StockDeltasFor(items, sign)
	out := make([]StockDelta, 0, len(grouped))
	for _, g := range grouped {
		out = append(out, StockDelta{ProductID: g.ProductID, Delta: g.Quantity})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
