package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

// AdminPromotionHandlers manages promo code definitions. Only admins may write them.
type AdminPromotionHandlers struct {
	authn     *auth.Authenticator
	discounts services.DiscountEngine
}

// NewAdminPromotionHandlers constructs AdminPromotionHandlers.
func NewAdminPromotionHandlers(authn *auth.Authenticator, discounts services.DiscountEngine) *AdminPromotionHandlers {
	return &AdminPromotionHandlers{authn: authn, discounts: discounts}
}

// Routes registers /admin/promotions endpoints.
func (h *AdminPromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		g.Get("/promotions/{code}", h.getPromotion)
	})
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleAdmin))
		}
		g.Put("/promotions/{code}", h.upsertPromotion)
	})
}

func (h *AdminPromotionHandlers) getPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}
	promo, err := h.discounts.Get(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPromotionPayload(promo))
}

type upsertPromotionRequest struct {
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	Value          float64  `json:"value"`
	MinOrderAmount int64    `json:"min_order_amount"`
	MaxDiscount    *int64   `json:"max_discount"`
	UsageLimit     int      `json:"usage_limit"`
	Active         *bool    `json:"active"`
	ValidFrom      string   `json:"valid_from"`
	ValidUntil     string   `json:"valid_until"`
	CategoryIDs    []string `json:"category_ids"`
	ProductIDs     []string `json:"product_ids"`
}

func (h *AdminPromotionHandlers) upsertPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req upsertPromotionRequest
	if err := httpx.DecodeJSON(r, maxOrderActionBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	cmd := services.UpsertPromotionCommand{
		Code:           chi.URLParam(r, "code"),
		Description:    req.Description,
		Type:           services.DiscountType(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		UsageLimit:     req.UsageLimit,
		Active:         req.Active == nil || *req.Active,
		CategoryIDs:    req.CategoryIDs,
		ProductIDs:     req.ProductIDs,
		Actor:          identity.Actor(),
	}
	for _, field := range []struct {
		name   string
		raw    string
		target *time.Time
	}{
		{name: "valid_from", raw: req.ValidFrom, target: &cmd.ValidFrom},
		{name: "valid_until", raw: req.ValidUntil, target: &cmd.ValidUntil},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		ts, err := parseTimeParam(strings.TrimSpace(field.raw))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", field.name+" must be an RFC3339 timestamp or date", http.StatusBadRequest))
			return
		}
		*field.target = ts
	}

	promo, err := h.discounts.Upsert(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPromotionPayload(promo))
}
