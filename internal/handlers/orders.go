package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const (
	maxOrderCreateBodySize = 64 * 1024
	maxOrderActionBodySize = 4 * 1024
)

// OrderHandlers exposes checkout and the customer order endpoints.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	lifecycle services.OrderLifecycle
	returns   services.ReturnService
	limits    PageLimits
	createMW  []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderPageLimits overrides the list page size bounds.
func WithOrderPageLimits(limits PageLimits) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limits = limits
	}
}

// WithCreateOrderMiddleware wraps POST /orders only, typically with the idempotency middleware.
func WithCreateOrderMiddleware(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.createMW = append(h.createMW, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, lifecycle services.OrderLifecycle, returns services.ReturnService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		orders:    orders,
		lifecycle: lifecycle,
		returns:   returns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.limits = h.limits.normalise()
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.With(h.createMW...).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Get("/{orderID}/return-eligibility", h.returnEligibility)
	r.Post("/{orderID}/returns", h.createReturn)
}

type createOrderRequest struct {
	CustomerName    string                `json:"customer_name"`
	CustomerEmail   string                `json:"customer_email"`
	Items           []createOrderItemBody `json:"items"`
	ShippingAddress map[string]any        `json:"shipping_address"`
	PromoCode       string                `json:"promo_code"`
	Notes           string                `json:"notes"`
}

// createOrderItemBody is the cart snapshot line. Unit prices arrive already resolved by the
// catalog collaborator and are taken as given.
type createOrderItemBody struct {
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderCreateBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerID:      identity.UID,
		CustomerName:    firstNonEmpty(req.CustomerName, identity.Name),
		CustomerEmail:   firstNonEmpty(req.CustomerEmail, identity.Email),
		Items:           make([]services.CartLine, 0, len(req.Items)),
		ShippingAddress: normaliseAddress(req.ShippingAddress),
		PromoCode:       strings.TrimSpace(req.PromoCode),
		Notes:           req.Notes,
		Actor:           identity.Actor(),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CartLine{
			ProductID:  strings.TrimSpace(item.ProductID),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			CategoryID: strings.TrimSpace(item.CategoryID),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", order.ID))
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, false)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	filter, err := orderListFilterFromQuery(r, h.limits)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.CustomerID = strings.TrimSpace(identity.UID)

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, identity, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, identity.IsStaff())})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, maxOrderActionBodySize, &req); err != nil {
			httpx.WriteBodyError(w, r, err)
			return
		}
	}

	order, err := h.lifecycle.Cancel(ctx, services.CancelOrderCommand{
		OrderID:    orderID,
		CustomerID: identity.UID,
		Actor:      identity.Actor(),
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, false)})
}

func (h *OrderHandlers) returnEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, _, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}
	eligibility, err := h.returns.CheckEligibility(ctx, order.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, eligibilityPayload{
		Eligible:      eligibility.Eligible,
		RemainingDays: eligibility.RemainingDays,
		DeliveredAt:   formatTime(eligibility.DeliveredAt),
		Reason:        eligibility.Reason,
	})
}

type createReturnRequest struct {
	Items          []createReturnItemBody `json:"items"`
	Reason         string                 `json:"reason"`
	Description    string                 `json:"description"`
	RequesterEmail string                 `json:"email"`
}

type createReturnItemBody struct {
	LineIndex int    `json:"line_index"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition"`
	Reason    string `json:"reason"`
}

func (h *OrderHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req createReturnRequest
	if err := httpx.DecodeJSON(r, maxOrderCreateBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	cmd := services.CreateReturnCommand{
		OrderID:        orderID,
		CustomerID:     identity.UID,
		RequesterEmail: firstNonEmpty(req.RequesterEmail, identity.Email),
		Reason:         req.Reason,
		Description:    req.Description,
		Items:          make([]services.ReturnLine, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.ReturnLine{
			LineIndex: item.LineIndex,
			Quantity:  item.Quantity,
			Condition: services.ItemCondition(strings.ToLower(strings.TrimSpace(item.Condition))),
			Reason:    item.Reason,
		})
	}

	created, err := h.returns.CreateReturnRequest(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/returns/%s", created.ID))
	writeJSONResponse(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(created, false)})
}

// loadOwnedOrder fetches the order named in the path. Orders owned by someone else are reported as
// not found unless the caller is staff.
func (h *OrderHandlers) loadOwnedOrder(w http.ResponseWriter, r *http.Request) (services.Order, *auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Order{}, nil, false
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return services.Order{}, nil, false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Order{}, nil, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, nil, false
	}
	if order.CustomerID != strings.TrimSpace(identity.UID) && !identity.IsStaff() {
		writeServiceError(ctx, w, services.ErrOrderForbidden)
		return services.Order{}, nil, false
	}
	return order, identity, true
}

func orderListFilterFromQuery(r *http.Request, limits PageLimits) (services.OrderListFilter, error) {
	query := r.URL.Query()
	pagination, err := parsePagination(query, limits)
	if err != nil {
		return services.OrderListFilter{}, err
	}
	createdIn, err := parseCreatedRange(query)
	if err != nil {
		return services.OrderListFilter{}, err
	}
	filter := services.OrderListFilter{
		Query:      strings.TrimSpace(query.Get("q")),
		CreatedIn:  createdIn,
		Pagination: pagination,
	}
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return services.OrderListFilter{}, fmt.Errorf("status %q is not a known order status", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

var addressAliases = map[string][]string{
	"recipient":   {"recipient", "name", "full_name", "fullName"},
	"line1":       {"line1", "street", "address1", "address_line1", "addressLine1"},
	"line2":       {"line2", "address2", "address_line2", "addressLine2"},
	"city":        {"city"},
	"state":       {"state", "region", "prefecture"},
	"postal_code": {"postal_code", "postalCode", "zip", "pincode"},
	"country":     {"country"},
	"phone":       {"phone"},
}

// normaliseAddress accepts the address shapes produced by the different checkout forms.
func normaliseAddress(raw map[string]any) services.Address {
	lookup := func(field string) string {
		for _, key := range addressAliases[field] {
			if value, ok := raw[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
		return ""
	}
	return services.Address{
		Recipient:  lookup("recipient"),
		Line1:      lookup("line1"),
		Line2:      lookup("line2"),
		City:       lookup("city"),
		State:      lookup("state"),
		PostalCode: lookup("postal_code"),
		Country:    lookup("country"),
		Phone:      lookup("phone"),
	}
}
