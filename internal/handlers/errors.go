package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
	"go.uber.org/zap"
)

// writeServiceError maps service sentinels onto the JSON error envelope. Orders owned by another
// customer are reported as not found.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var shortage *services.StockShortageError
	if errors.As(err, &shortage) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "some items are not available in the requested quantity", http.StatusConflict).
			WithDetails(map[string]any{"errors": shortage.Messages}))
		return
	}
	var ineligible *services.PromotionIneligibleError
	if errors.As(err, &ineligible) {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_ineligible", ineligible.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": ineligible.Reason, "code": ineligible.Code}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrReturnInvalidInput),
		errors.Is(err, services.ErrStockInvalidInput),
		errors.Is(err, services.ErrPromotionInvalidInput),
		errors.Is(err, services.ErrStatsInvalidInput),
		errors.Is(err, services.ErrAuditLogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNoItemsSelected):
		httpx.WriteError(ctx, w, httpx.NewError("no_items_selected", "select at least one item to return", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "product has no stock record", http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promotion not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("return_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrReturnConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "the resource was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPromotionIneligible):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_ineligible", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnWindowExpired):
		httpx.WriteError(ctx, w, httpx.NewError("return_window_expired", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrStatsExportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "statistics export is not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrRepositoryUnavailable):
		requestctx.Logger(ctx).Error("repository unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("persistence_unavailable", "storage is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal", "failed to process request", http.StatusInternalServerError))
	}
}
