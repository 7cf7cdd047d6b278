package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/orders/internal/services"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "order input", err: fmt.Errorf("%w: bad", services.ErrOrderInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "stats input", err: services.ErrStatsInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "forbidden hides order", err: services.ErrOrderForbidden, status: http.StatusNotFound, code: "order_not_found"},
		{name: "return missing", err: services.ErrReturnNotFound, status: http.StatusNotFound, code: "return_not_found"},
		{name: "stock missing", err: services.ErrStockNotFound, status: http.StatusNotFound, code: "stock_not_found"},
		{name: "promotion missing", err: services.ErrPromotionNotFound, status: http.StatusNotFound, code: "promotion_not_found"},
		{name: "transition", err: services.ErrOrderInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
		{name: "return state", err: services.ErrReturnInvalidState, status: http.StatusConflict, code: "return_invalid_state"},
		{name: "conflict", err: services.ErrOrderConflict, status: http.StatusConflict, code: "conflict"},
		{name: "window", err: services.ErrReturnWindowExpired, status: http.StatusUnprocessableEntity, code: "return_window_expired"},
		{name: "ineligible", err: &services.PromotionIneligibleError{Code: "X", Reason: services.PromotionReasonExpired, Message: "expired"}, status: http.StatusUnprocessableEntity, code: "promotion_ineligible"},
		{name: "shortage", err: &services.StockShortageError{Messages: []string{"Lamp: only 1 left"}}, status: http.StatusConflict, code: "insufficient_stock"},
		{name: "repository", err: fmt.Errorf("%w: timeout", services.ErrRepositoryUnavailable), status: http.StatusServiceUnavailable, code: "persistence_unavailable"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(context.Background(), rr, tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody[errorBody](t, rr); body.Error != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Error)
			}
		})
	}
}
