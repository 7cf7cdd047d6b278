package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

// ReturnHandlers exposes the customer view of return requests.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
	limits  PageLimits
}

// NewReturnHandlers constructs ReturnHandlers.
func NewReturnHandlers(authn *auth.Authenticator, returns services.ReturnService, limits PageLimits) *ReturnHandlers {
	return &ReturnHandlers{authn: authn, returns: returns, limits: limits.normalise()}
}

// Routes registers the /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.listReturns)
	r.Get("/{returnID}", h.getReturn)
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	pagination, err := parsePagination(r.URL.Query(), h.limits)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.returns.ListReturns(ctx, services.ReturnListFilter{
		CustomerID: strings.TrimSpace(identity.UID),
		OrderID:    strings.TrimSpace(r.URL.Query().Get("order_id")),
		Pagination: pagination,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := returnListResponse{Items: make([]returnPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, ret := range page.Items {
		resp.Items = append(resp.Items, buildReturnPayload(ret, false))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	ret, err := h.returns.GetReturn(ctx, returnID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if ret.CustomerID != strings.TrimSpace(identity.UID) && !identity.IsStaff() {
		writeServiceError(ctx, w, services.ErrReturnNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret, identity.IsStaff())})
}
