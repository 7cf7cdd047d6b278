package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxStorefrontBodySize = 32 * 1024

// StorefrontHandlers serves the read-only checks the cart and checkout pages run before placing an
// order. Neither endpoint mutates stock or promotion usage.
type StorefrontHandlers struct {
	authn     *auth.Authenticator
	stock     services.StockLedger
	discounts services.DiscountEngine
}

// NewStorefrontHandlers constructs StorefrontHandlers.
func NewStorefrontHandlers(authn *auth.Authenticator, stock services.StockLedger, discounts services.DiscountEngine) *StorefrontHandlers {
	return &StorefrontHandlers{authn: authn, stock: stock, discounts: discounts}
}

// Routes registers /stock:check and /promotions:validate.
func (h *StorefrontHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/stock:check", h.checkStock)
	r.Post("/promotions:validate", h.validatePromotion)
}

type stockCheckRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type stockCheckResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func (h *StorefrontHandlers) checkStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req stockCheckRequest
	if err := httpx.DecodeJSON(r, maxStorefrontBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	items := make([]services.StockRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.StockRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
		})
	}
	result, err := h.stock.CheckAvailability(ctx, items)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := stockCheckResponse{Valid: result.Valid, Errors: result.Errors}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type promotionValidateRequest struct {
	Code        string   `json:"code"`
	Subtotal    int64    `json:"subtotal"`
	CategoryIDs []string `json:"category_ids"`
	ProductIDs  []string `json:"product_ids"`
}

type promotionValidateResponse struct {
	Valid          bool    `json:"valid"`
	Code           string  `json:"code,omitempty"`
	Type           string  `json:"type,omitempty"`
	Value          float64 `json:"value,omitempty"`
	DiscountAmount int64   `json:"discount_amount"`
	Reason         string  `json:"reason,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// validatePromotion reports ineligibility as a 200 with valid=false so the checkout form can show
// the message inline.
func (h *StorefrontHandlers) validatePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req promotionValidateRequest
	if err := httpx.DecodeJSON(r, maxStorefrontBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if req.Subtotal < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must not be negative", http.StatusBadRequest))
		return
	}

	promo, err := h.discounts.Validate(ctx, req.Code, req.Subtotal, req.CategoryIDs, req.ProductIDs)
	if err != nil {
		var ineligible *services.PromotionIneligibleError
		if errors.As(err, &ineligible) {
			writeJSONResponse(w, http.StatusOK, promotionValidateResponse{
				Valid:   false,
				Code:    ineligible.Code,
				Reason:  ineligible.Reason,
				Message: ineligible.Message,
			})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, promotionValidateResponse{
		Valid:          true,
		Code:           promo.Code,
		Type:           string(promo.Type),
		Value:          promo.Value,
		DiscountAmount: h.discounts.CalculateDiscount(promo, req.Subtotal),
	})
}
