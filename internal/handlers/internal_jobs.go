package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
	"go.uber.org/zap"
)

const defaultCleanupBatchSize = 200

// IdempotencyCleaner deletes expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalJobHandlers exposes scheduler-triggered jobs. Callers are authenticated by the OIDC
// middleware installed on the /internal group.
type InternalJobHandlers struct {
	stats     services.StatsService
	cleaner   IdempotencyCleaner
	batchSize int
	clock     func() time.Time
}

// InternalJobOption customises InternalJobHandlers.
type InternalJobOption func(*InternalJobHandlers)

// WithCleanupBatchSize bounds how many idempotency records one cleanup run deletes.
func WithCleanupBatchSize(size int) InternalJobOption {
	return func(h *InternalJobHandlers) {
		if size > 0 {
			h.batchSize = size
		}
	}
}

// WithInternalJobClock overrides the clock used for expiry checks.
func WithInternalJobClock(clock func() time.Time) InternalJobOption {
	return func(h *InternalJobHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalJobHandlers constructs InternalJobHandlers.
func NewInternalJobHandlers(stats services.StatsService, cleaner IdempotencyCleaner, opts ...InternalJobOption) *InternalJobHandlers {
	h := &InternalJobHandlers{
		stats:     stats,
		cleaner:   cleaner,
		batchSize: defaultCleanupBatchSize,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /internal/jobs endpoints.
func (h *InternalJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/export-stats", h.exportStats)
	r.Post("/jobs/cleanup-idempotency", h.cleanupIdempotency)
}

type exportStatsResponse struct {
	URI         string            `json:"uri"`
	GeneratedAt string            `json:"generated_at"`
	Stats       orderStatsPayload `json:"stats"`
}

func (h *InternalJobHandlers) exportStats(w http.ResponseWriter, r *http.Request) {
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
	export, err := h.stats.ExportStats(ctx, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("order stats exported", zap.String("uri", export.URI))
	writeJSONResponse(w, http.StatusOK, exportStatsResponse{
		URI:         export.URI,
		GeneratedAt: formatTime(export.GeneratedAt),
		Stats:       buildStatsPayload(export.Stats),
	})
}

type cleanupResponse struct {
	Deleted int `json:"deleted"`
}

func (h *InternalJobHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_unavailable", "idempotency store unavailable", http.StatusServiceUnavailable))
		return
	}
	deleted, err := h.cleaner.CleanupExpired(ctx, h.clock().UTC(), h.batchSize)
	if err != nil {
		requestctx.Logger(ctx).Error("idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "failed to clean up idempotency records", http.StatusInternalServerError))
		return
	}
	requestctx.Logger(ctx).Info("idempotency records cleaned up", zap.Int("deleted", deleted))
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Deleted: deleted})
}
