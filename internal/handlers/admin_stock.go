package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

// AdminStockHandlers exposes the stock ledger to staff.
type AdminStockHandlers struct {
	authn *auth.Authenticator
	stock services.StockLedger
}

// NewAdminStockHandlers constructs AdminStockHandlers.
func NewAdminStockHandlers(authn *auth.Authenticator, stock services.StockLedger) *AdminStockHandlers {
	return &AdminStockHandlers{authn: authn, stock: stock}
}

// Routes registers /admin/stock endpoints.
func (h *AdminStockHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		g.Get("/stock/{productID}", h.getStock)
		g.Put("/stock/{productID}", h.setStock)
		g.Post("/stock/{productID}:adjust", h.adjustStock)
	})
}

func (h *AdminStockHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}
	record, err := h.stock.Get(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockPayload{
		ProductID: record.ProductID,
		Quantity:  record.Quantity,
		UpdatedAt: formatTime(record.UpdatedAt),
	})
}

type setStockRequest struct {
	Quantity *int   `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *AdminStockHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req setStockRequest
	if err := httpx.DecodeJSON(r, maxOrderActionBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	ctx = requestctx.AddFields(ctx, zap.String("productId", productID), zap.String("actor", identity.Actor()))
	record, err := h.stock.Set(ctx, services.SetStockCommand{
		ProductID: productID,
		Quantity:  *req.Quantity,
		Actor:     identity.Actor(),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockPayload{
		ProductID: record.ProductID,
		Quantity:  record.Quantity,
		UpdatedAt: formatTime(record.UpdatedAt),
	})
}

type adjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type adjustStockResponse struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
	Found     bool   `json:"found"`
}

// adjustStock follows ledger semantics: results clamp at zero and unknown products are reported
// with found=false rather than an error.
func (h *AdminStockHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req adjustStockRequest
	if err := httpx.DecodeJSON(r, maxOrderActionBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	ctx = requestctx.AddFields(ctx, zap.String("productId", productID), zap.String("actor", identity.Actor()))
	adj, err := h.stock.Correct(ctx, services.StockCorrectionCommand{
		ProductID: productID,
		Delta:     req.Delta,
		Actor:     identity.Actor(),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adjustStockResponse{
		ProductID: adj.ProductID,
		Delta:     adj.Delta,
		Before:    adj.Before,
		After:     adj.After,
		Found:     adj.Found,
	})
}
