package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

// AdminOrderHandlers exposes order search, status transitions and statistics to staff.
type AdminOrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	lifecycle services.OrderLifecycle
	stats     services.StatsService
	limits    PageLimits
}

// NewAdminOrderHandlers constructs AdminOrderHandlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, lifecycle services.OrderLifecycle, stats services.StatsService, limits PageLimits) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:     authn,
		orders:    orders,
		lifecycle: lifecycle,
		stats:     stats,
		limits:    limits.normalise(),
	}
}

// Routes registers the admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		g.Get("/orders", h.listOrders)
		g.Get("/orders:stats", h.orderStats)
		g.Get("/orders/{orderID}", h.getOrder)
		g.Post("/orders/{orderID}:transition", h.transitionOrder)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	filter, err := orderListFilterFromQuery(r, h.limits)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.CustomerID = firstNonEmpty(r.URL.Query().Get("customer"), r.URL.Query().Get("customer_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

type transitionOrderRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *AdminOrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req transitionOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderActionBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	ctx = requestctx.AddFields(ctx, zap.String("orderId", orderID), zap.String("actor", identity.Actor()))
	order, err := h.lifecycle.Transition(ctx, services.TransitionCommand{
		OrderID: orderID,
		Status:  status,
		Actor:   identity.Actor(),
		Note:    req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

type orderStatsPayload struct {
	From              string               `json:"from,omitempty"`
	To                string               `json:"to,omitempty"`
	TotalOrders       int                  `json:"total_orders"`
	CountsByStatus    map[string]int       `json:"counts_by_status"`
	Revenue           int64                `json:"revenue"`
	RevenueOrders     int                  `json:"revenue_orders"`
	AverageOrderValue int64                `json:"average_order_value"`
	DeliveredOrders   int                  `json:"delivered_orders"`
	ReturnedOrders    int                  `json:"returned_orders"`
	ReturnRate        float64              `json:"return_rate"`
	Bucket            string               `json:"bucket"`
	Trend             []revenueBucketEntry `json:"trend"`
}

type revenueBucketEntry struct {
	Start   string `json:"start"`
	Orders  int    `json:"orders"`
	Revenue int64  `json:"revenue"`
}

func (h *AdminOrderHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "stats service unavailable", http.StatusServiceUnavailable))
		return
	}
	query, err := statsQueryFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	stats, err := h.stats.Stats(ctx, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStatsPayload(stats))
}

func statsQueryFromRequest(r *http.Request) (services.StatsQuery, error) {
	createdIn, err := parseCreatedRange(r.URL.Query())
	if err != nil {
		return services.StatsQuery{}, err
	}
	return services.StatsQuery{
		CreatedIn: createdIn,
		Bucket:    services.StatsBucket(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("bucket")))),
	}, nil
}

func buildStatsPayload(stats services.OrderStats) orderStatsPayload {
	payload := orderStatsPayload{
		From:              formatTime(pointerTime(stats.From)),
		To:                formatTime(pointerTime(stats.To)),
		TotalOrders:       stats.TotalOrders,
		CountsByStatus:    make(map[string]int, len(stats.CountsByStatus)),
		Revenue:           stats.Revenue,
		RevenueOrders:     stats.RevenueOrders,
		AverageOrderValue: stats.AverageOrderValue,
		DeliveredOrders:   stats.DeliveredOrders,
		ReturnedOrders:    stats.ReturnedOrders,
		ReturnRate:        stats.ReturnRate,
		Bucket:            string(stats.Bucket),
		Trend:             make([]revenueBucketEntry, 0, len(stats.Trend)),
	}
	for status, count := range stats.CountsByStatus {
		payload.CountsByStatus[string(status)] = count
	}
	for _, bucket := range stats.Trend {
		payload.Trend = append(payload.Trend, revenueBucketEntry{
			Start:   bucket.Start.UTC().Format(time.RFC3339),
			Orders:  bucket.Orders,
			Revenue: bucket.Revenue,
		})
	}
	return payload
}
