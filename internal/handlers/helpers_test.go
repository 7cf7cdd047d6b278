package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/services"
)

const (
	testUserHeader  = "X-Test-User"
	testRolesHeader = "X-Test-Roles"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testIdentityMiddleware stands in for the Firebase authenticator.
func testIdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(testUserHeader))
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity := &auth.Identity{UID: uid, Email: uid + "@example.com", Name: "Test " + uid}
		if roles := strings.TrimSpace(r.Header.Get(testRolesHeader)); roles != "" {
			identity.Roles = strings.Split(roles, ",")
		} else {
			identity.Roles = []string{auth.RoleCustomer}
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

type apiStack struct {
	clock       *testClock
	store       *memory.Store
	idempotency *idempotency.MemoryStore
	stock       services.StockLedger
	discounts   services.DiscountEngine
	orders      services.OrderService
	lifecycle   services.OrderLifecycle
	returns     services.ReturnService
	stats       services.StatsService
	router      chi.Router
}

func newAPIStack(t *testing.T) *apiStack {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock.Now))

	audit, err := services.NewAuditLogService(services.AuditLogServiceDeps{Repository: store.AuditLogs(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("audit log service: %v", err)
	}
	stock, err := services.NewStockLedger(services.StockLedgerDeps{Stock: store.Stock(), UnitOfWork: store, Clock: clock.Now, Audit: audit})
	if err != nil {
		t.Fatalf("stock ledger: %v", err)
	}
	discounts, err := services.NewDiscountEngine(services.DiscountEngineDeps{Promotions: store.Promotions(), UnitOfWork: store, Clock: clock.Now, Audit: audit})
	if err != nil {
		t.Fatalf("discount engine: %v", err)
	}
	var seq atomic.Int64
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      store.Orders(),
		Counters:    store.Counters(),
		Stock:       stock,
		Discounts:   discounts,
		UnitOfWork:  store,
		Clock:       clock.Now,
		IDGenerator: func() string { return fmt.Sprintf("01HZORDER%04d", seq.Add(1)) },
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	lifecycle, err := services.NewOrderLifecycle(services.OrderLifecycleDeps{
		Orders:     store.Orders(),
		Stock:      stock,
		UnitOfWork: store,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("order lifecycle: %v", err)
	}
	returns, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:     store.Orders(),
		Returns:    store.Returns(),
		Lifecycle:  lifecycle,
		UnitOfWork: store,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("return service: %v", err)
	}
	stats, err := services.NewStatsService(services.StatsServiceDeps{Orders: store.Orders(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("stats service: %v", err)
	}

	idem := idempotency.NewMemoryStore()
	limits := PageLimits{Default: 20, Max: 50}
	adminOrders := NewAdminOrderHandlers(nil, orders, lifecycle, stats, limits)
	adminReturns := NewAdminReturnHandlers(nil, returns, limits)
	adminStock := NewAdminStockHandlers(nil, stock)
	adminPromotions := NewAdminPromotionHandlers(nil, discounts)
	adminAudit := NewAdminAuditHandlers(nil, audit, limits)

	router := NewRouter(
		WithMiddlewares(testIdentityMiddleware),
		WithHealthHandlers(NewHealthHandlers(WithHealthRepository(store.Health()), WithHealthClock(clock.Now))),
		WithOrderRoutes(NewOrderHandlers(nil, orders, lifecycle, returns,
			WithOrderPageLimits(limits),
			WithCreateOrderMiddleware(idempotency.Middleware(idem, idempotency.WithOptionalKey(), idempotency.WithClock(clock.Now))),
		).Routes),
		WithReturnRoutes(NewReturnHandlers(nil, returns, limits).Routes),
		WithStorefrontRoutes(NewStorefrontHandlers(nil, stock, discounts).Routes),
		WithAdminRoutes(func(r chi.Router) {
			adminOrders.Routes(r)
			adminReturns.Routes(r)
			adminStock.Routes(r)
			adminPromotions.Routes(r)
			adminAudit.Routes(r)
		}),
		WithInternalRoutes(NewInternalJobHandlers(stats, idem, WithInternalJobClock(clock.Now)).Routes),
	)

	return &apiStack{
		clock:       clock,
		store:       store,
		idempotency: idem,
		stock:       stock,
		discounts:   discounts,
		orders:      orders,
		lifecycle:   lifecycle,
		returns:     returns,
		stats:       stats,
		router:      router,
	}
}

func (s *apiStack) setStock(t *testing.T, productID string, qty int) {
	t.Helper()
	if _, err := s.stock.Set(context.Background(), services.SetStockCommand{ProductID: productID, Quantity: qty}); err != nil {
		t.Fatalf("set stock %s: %v", productID, err)
	}
}

func (s *apiStack) stockOf(t *testing.T, productID string) int {
	t.Helper()
	record, err := s.stock.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock %s: %v", productID, err)
	}
	return record.Quantity
}

type requestOption func(*http.Request)

func asUser(uid string, roles ...string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(testUserHeader, uid)
		if len(roles) > 0 {
			r.Header.Set(testRolesHeader, strings.Join(roles, ","))
		}
	}
}

func asStaff() requestOption {
	return asUser("staff-1", auth.RoleStaff)
}

func withHeader(name, value string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(name, value)
	}
}

func (s *apiStack) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Errors  []string `json:"errors"`
	Reason  string   `json:"reason"`
}

func checkoutBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": "sku-1", "name": "Brass Lamp", "quantity": 2, "unit_price": 1500},
			{"product_id": "sku-2", "name": "Cotton Throw", "quantity": 1, "unit_price": 1000},
		},
		"shipping_address": map[string]any{
			"full_name": "Asha Rao",
			"street":    "12 MG Road",
			"city":      "Bengaluru",
			"pincode":   "560001",
			"country":   "in",
		},
	}
}

// placeOrder checks out the default cart as cust-1.
func (s *apiStack) placeOrder(t *testing.T) orderPayload {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/orders", checkoutBody(), asUser("cust-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decodeBody[orderResponse](t, rr).Order
}

func (s *apiStack) transition(t *testing.T, orderID string, statuses ...string) {
	t.Helper()
	for _, status := range statuses {
		rr := s.do(t, http.MethodPost, "/api/v1/admin/orders/"+orderID+":transition", map[string]any{"status": status}, asStaff())
		if rr.Code != http.StatusOK {
			t.Fatalf("transition to %s: expected 200, got %d: %s", status, rr.Code, rr.Body.String())
		}
	}
}
