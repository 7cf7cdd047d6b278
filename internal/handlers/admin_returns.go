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

// AdminReturnHandlers drives the return workflow on behalf of staff.
type AdminReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
	limits  PageLimits
}

// NewAdminReturnHandlers constructs AdminReturnHandlers.
func NewAdminReturnHandlers(authn *auth.Authenticator, returns services.ReturnService, limits PageLimits) *AdminReturnHandlers {
	return &AdminReturnHandlers{authn: authn, returns: returns, limits: limits.normalise()}
}

// Routes registers /admin/returns endpoints.
func (h *AdminReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		g.Get("/returns", h.listReturns)
		g.Get("/returns/{returnID}", h.getReturn)
		g.Post("/returns/{returnID}:approve", h.approve)
		g.Post("/returns/{returnID}:reject", h.reject)
		g.Post("/returns/{returnID}:schedule-pickup", h.schedulePickup)
		g.Post("/returns/{returnID}:mark-picked-up", h.markPickedUp)
		g.Post("/returns/{returnID}:mark-received", h.markReceived)
		g.Post("/returns/{returnID}:refund", h.refund)
	})
}

func (h *AdminReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	pagination, err := parsePagination(query, h.limits)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.ReturnListFilter{
		OrderID:    strings.TrimSpace(query.Get("order_id")),
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: pagination,
	}
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParseReturnStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("status %q is not a known return status", raw), http.StatusBadRequest))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	page, err := h.returns.ListReturns(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := returnListResponse{Items: make([]returnPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, ret := range page.Items {
		resp.Items = append(resp.Items, buildReturnPayload(ret, true))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	ret, err := h.returns.GetReturn(ctx, strings.TrimSpace(chi.URLParam(r, "returnID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret, true)})
}

type returnActionRequest struct {
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
	PickupDate string `json:"pickup_date"`
	Carrier    string `json:"carrier"`
	Method     string `json:"method"`
	Reference  string `json:"reference"`
}

type returnAction func(ctx *returnActionContext) (services.ReturnRequest, error)

type returnActionContext struct {
	r       *http.Request
	cmd     services.ReturnActionCommand
	req     returnActionRequest
	returns services.ReturnService
}

func (h *AdminReturnHandlers) approve(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *returnActionContext) (services.ReturnRequest, error) {
		return c.returns.Approve(c.r.Context(), c.cmd)
	})
}

func (h *AdminReturnHandlers) reject(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *returnActionContext) (services.ReturnRequest, error) {
		return c.returns.Reject(c.r.Context(), c.cmd)
	})
}

func (h *AdminReturnHandlers) schedulePickup(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *returnActionContext) (services.ReturnRequest, error) {
		var pickup services.SchedulePickupCommand
		if raw := strings.TrimSpace(c.req.PickupDate); raw != "" {
			ts, err := parseTimeParam(raw)
			if err != nil {
				return services.ReturnRequest{}, fmt.Errorf("%w: pickup_date must be an RFC3339 timestamp or date", services.ErrReturnInvalidInput)
			}
			pickup.PickupDate = ts
		}
		pickup.ReturnID = c.cmd.ReturnID
		pickup.Actor = c.cmd.Actor
		pickup.Carrier = c.req.Carrier
		pickup.Notes = c.cmd.Notes
		return c.returns.SchedulePickup(c.r.Context(), pickup)
	})
}

func (h *AdminReturnHandlers) markPickedUp(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *returnActionContext) (services.ReturnRequest, error) {
		return c.returns.MarkPickedUp(c.r.Context(), c.cmd)
	})
}

func (h *AdminReturnHandlers) markReceived(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *returnActionContext) (services.ReturnRequest, error) {
		return c.returns.MarkReceived(c.r.Context(), c.cmd)
	})
}

func (h *AdminReturnHandlers) refund(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *returnActionContext) (services.ReturnRequest, error) {
		return c.returns.ProcessRefund(c.r.Context(), services.RefundCommand{
			ReturnID:  c.cmd.ReturnID,
			Actor:     c.cmd.Actor,
			Method:    c.req.Method,
			Reference: c.req.Reference,
			Notes:     c.cmd.Notes,
		})
	})
}

// run decodes the optional action body and invokes action with the caller attributed.
func (h *AdminReturnHandlers) run(w http.ResponseWriter, r *http.Request, action returnAction) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req returnActionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, maxOrderActionBodySize, &req); err != nil {
			httpx.WriteBodyError(w, r, err)
			return
		}
	}

	ret, err := action(&returnActionContext{
		r:       r,
		req:     req,
		returns: h.returns,
		cmd: services.ReturnActionCommand{
			ReturnID: strings.TrimSpace(chi.URLParam(r, "returnID")),
			Actor:    identity.Actor(),
			Reason:   req.Reason,
			Notes:    req.Notes,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret, true)})
}
