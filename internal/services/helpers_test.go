package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories/memory"
)

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type countingMetrics struct {
	mu          sync.Mutex
	created     int
	transitions []string
	restored    int
	consumed    int
	phases      []string
}

func (m *countingMetrics) OrderCreated(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *countingMetrics) OrderTransitioned(_ context.Context, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func (m *countingMetrics) StockAdjusted(_ context.Context, direction string, units int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch direction {
	case "restore":
		m.restored += units
	case "consume":
		m.consumed += units
	}
}

func (m *countingMetrics) ReturnPhaseChanged(_ context.Context, phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires every service against one memory store.
type testEnv struct {
	store     *memory.Store
	clock     *fakeClock
	events    *captureOrderEvents
	metrics   *countingMetrics
	audit     AuditLogService
	stock     StockLedger
	discounts DiscountEngine
	orders    OrderService
	lifecycle OrderLifecycle
	returns   ReturnService
	stats     StatsService
}

type envOption func(*OrderServiceDeps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	events := &captureOrderEvents{}
	metrics := &countingMetrics{}

	audit, err := NewAuditLogService(AuditLogServiceDeps{Repository: store.AuditLogs(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("audit log service: %v", err)
	}
	stock, err := NewStockLedger(StockLedgerDeps{Stock: store.Stock(), UnitOfWork: store, Clock: clock.Now, Metrics: metrics, Audit: audit})
	if err != nil {
		t.Fatalf("stock ledger: %v", err)
	}
	discounts, err := NewDiscountEngine(DiscountEngineDeps{Promotions: store.Promotions(), UnitOfWork: store, Clock: clock.Now, Audit: audit})
	if err != nil {
		t.Fatalf("discount engine: %v", err)
	}
	var seq atomic.Int64
	deps := OrderServiceDeps{
		Orders:     store.Orders(),
		Counters:   store.Counters(),
		Stock:      stock,
		Discounts:  discounts,
		UnitOfWork: store,
		Clock:      clock.Now,
		IDGenerator: func() string {
			return fmt.Sprintf("01HZORDER%04d", seq.Add(1))
		},
		Events:  events,
		Metrics: metrics,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orders, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	lifecycle, err := NewOrderLifecycle(OrderLifecycleDeps{
		Orders:     store.Orders(),
		Stock:      stock,
		UnitOfWork: store,
		Clock:      clock.Now,
		Events:     events,
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("order lifecycle: %v", err)
	}
	returns, err := NewReturnService(ReturnServiceDeps{
		Orders:     store.Orders(),
		Returns:    store.Returns(),
		Lifecycle:  lifecycle,
		UnitOfWork: store,
		Clock:      clock.Now,
		Events:     events,
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("return service: %v", err)
	}
	stats, err := NewStatsService(StatsServiceDeps{Orders: store.Orders(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("stats service: %v", err)
	}
	return &testEnv{
		store:     store,
		clock:     clock,
		events:    events,
		metrics:   metrics,
		audit:     audit,
		stock:     stock,
		discounts: discounts,
		orders:    orders,
		lifecycle: lifecycle,
		returns:   returns,
		stats:     stats,
	}
}

func (e *testEnv) setStock(t *testing.T, productID string, quantity int) {
	t.Helper()
	if _, err := e.stock.Set(context.Background(), SetStockCommand{ProductID: productID, Quantity: quantity}); err != nil {
		t.Fatalf("set stock %s: %v", productID, err)
	}
}

func (e *testEnv) stockOf(t *testing.T, productID string) int {
	t.Helper()
	record, err := e.stock.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock %s: %v", productID, err)
	}
	return record.Quantity
}

func testAddress() Address {
	return Address{
		Recipient:  "Asha Rao",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		PostalCode: "560001",
		Country:    "in",
	}
}

func (e *testEnv) placeOrder(t *testing.T, lines ...CartLine) Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:      "cust-1",
		CustomerName:    "Asha Rao",
		CustomerEmail:   "asha@example.com",
		Items:           lines,
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (e *testEnv) advance(t *testing.T, orderID string, statuses ...OrderStatus) Order {
	t.Helper()
	var order Order
	for _, status := range statuses {
		var err error
		order, err = e.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: orderID, Status: status, Actor: "ops@example.com"})
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	return order
}

// deliveredOrder places an order for two units of sku-1 and one of sku-2 and walks it to delivered.
func (e *testEnv) deliveredOrder(t *testing.T) Order {
	t.Helper()
	e.setStock(t, "sku-1", 10)
	e.setStock(t, "sku-2", 5)
	order := e.placeOrder(t,
		CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 2, UnitPrice: 1500},
		CartLine{ProductID: "sku-2", Name: "Dupatta", Quantity: 1, UnitPrice: 800},
	)
	return e.advance(t, order.ID,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	)
}
