package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// StatsBucket is the granularity of revenue trend buckets.
type StatsBucket string

const (
	StatsBucketDay   StatsBucket = "day"
	StatsBucketWeek  StatsBucket = "week"
	StatsBucketMonth StatsBucket = "month"
)

// StatsQuery bounds a statistics request by order creation time.
type StatsQuery struct {
	CreatedIn DateRange
	Bucket    StatsBucket
}

// OrderStats is the aggregate view returned by the stats endpoint and exported to storage.
type OrderStats struct {
	From              *time.Time          `json:"from,omitempty"`
	To                *time.Time          `json:"to,omitempty"`
	TotalOrders       int                 `json:"totalOrders"`
	CountsByStatus    map[OrderStatus]int `json:"countsByStatus"`
	Revenue           int64               `json:"revenue"`
	RevenueOrders     int                 `json:"revenueOrders"`
	AverageOrderValue int64               `json:"averageOrderValue"`
	DeliveredOrders   int                 `json:"deliveredOrders"`
	ReturnedOrders    int                 `json:"returnedOrders"`
	ReturnRate        float64             `json:"returnRate"`
	Bucket            StatsBucket         `json:"bucket"`
	Trend             []RevenueBucket     `json:"trend"`
}

// RevenueBucket is revenue from orders created in [Start, Start+bucket).
type RevenueBucket struct {
	Start   time.Time `json:"start"`
	Orders  int       `json:"orders"`
	Revenue int64     `json:"revenue"`
}

// StatsExport describes a stats snapshot written to object storage.
type StatsExport struct {
	URI         string     `json:"uri"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Stats       OrderStats `json:"stats"`
}

// StatsServiceDeps bundles collaborators for the stats service.
type StatsServiceDeps struct {
	Orders   repositories.OrderRepository
	Exporter Exporter
	Clock    func() time.Time
	Logger   Logger
}

type statsService struct {
	orders   repositories.OrderRepository
	exporter Exporter
	clock    func() time.Time
	logger   Logger
}

// NewStatsService constructs the stats service. A nil exporter disables ExportStats.
func NewStatsService(deps StatsServiceDeps) (StatsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("stats service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &statsService{
		orders:   deps.Orders,
		exporter: deps.Exporter,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *statsService) Stats(ctx context.Context, query StatsQuery) (OrderStats, error) {
	bucket, err := normaliseStatsQuery(&query)
	if err != nil {
		return OrderStats{}, err
	}

	counts, err := s.orders.CountByStatus(ctx, query.CreatedIn)
	if err != nil {
		return OrderStats{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	stats := OrderStats{
		From:           query.CreatedIn.From,
		To:             query.CreatedIn.To,
		CountsByStatus: make(map[OrderStatus]int, len(domain.AllOrderStatuses)),
		Bucket:         bucket,
	}
	for _, status := range domain.AllOrderStatuses {
		stats.CountsByStatus[status] = counts[status]
		stats.TotalOrders += counts[status]
	}

	trend := make(map[time.Time]*RevenueBucket)
	err = s.orders.Scan(ctx, query.CreatedIn, func(order domain.Order) error {
		if delivered, returned := returnFunnel(order); delivered {
			stats.DeliveredOrders++
			if returned {
				stats.ReturnedOrders++
			}
		}
		if !slices.Contains(domain.FulfillmentStatuses, order.Status) {
			return nil
		}
		stats.Revenue += order.Totals.Total
		stats.RevenueOrders++
		start := bucketStart(order.CreatedAt, bucket)
		b, ok := trend[start]
		if !ok {
			b = &RevenueBucket{Start: start}
			trend[start] = b
		}
		b.Orders++
		b.Revenue += order.Totals.Total
		return nil
	})
	if err != nil {
		return OrderStats{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	if stats.RevenueOrders > 0 {
		stats.AverageOrderValue = domain.RoundCurrency(float64(stats.Revenue) / float64(stats.RevenueOrders))
	}
	if stats.DeliveredOrders > 0 {
		stats.ReturnRate = float64(stats.ReturnedOrders) / float64(stats.DeliveredOrders)
	}
	stats.Trend = make([]RevenueBucket, 0, len(trend))
	for _, b := range trend {
		stats.Trend = append(stats.Trend, *b)
	}
	slices.SortFunc(stats.Trend, func(a, b RevenueBucket) int {
		return a.Start.Compare(b.Start)
	})
	return stats, nil
}

func (s *statsService) ExportStats(ctx context.Context, query StatsQuery) (StatsExport, error) {
	if s.exporter == nil {
		return StatsExport{}, ErrStatsExportUnavailable
	}
	stats, err := s.Stats(ctx, query)
	if err != nil {
		return StatsExport{}, err
	}
	generatedAt := s.clock()
	export := StatsExport{GeneratedAt: generatedAt, Stats: stats}
	payload, err := json.Marshal(export)
	if err != nil {
		return StatsExport{}, fmt.Errorf("stats service: encode export: %w", err)
	}
	uri, err := s.exporter.Export(ctx, "order-stats", generatedAt, payload)
	if err != nil {
		s.logger(ctx, "stats.export_failed", map[string]any{"error": err.Error()})
		return StatsExport{}, fmt.Errorf("%w: %v", ErrStatsExportUnavailable, err)
	}
	export.URI = uri
	s.logger(ctx, "stats.exported", map[string]any{
		"uri":         uri,
		"totalOrders": stats.TotalOrders,
	})
	return export, nil
}

func normaliseStatsQuery(query *StatsQuery) (StatsBucket, error) {
	r := query.CreatedIn
	if r.From != nil && r.To != nil && !r.To.After(*r.From) {
		return "", fmt.Errorf("%w: date range end must follow its start", ErrStatsInvalidInput)
	}
	bucket := StatsBucket(strings.ToLower(strings.TrimSpace(string(query.Bucket))))
	switch bucket {
	case "":
		bucket = StatsBucketDay
	case StatsBucketDay, StatsBucketWeek, StatsBucketMonth:
	default:
		return "", fmt.Errorf("%w: bucket must be one of day, week, month", ErrStatsInvalidInput)
	}
	return bucket, nil
}

// returnFunnel reports whether the order reached delivery and whether it entered the return
// flow afterwards. Status history covers orders whose return was later rejected.
func returnFunnel(order domain.Order) (delivered, returned bool) {
	delivered = order.DeliveredAt != nil || order.Status.ReachedDelivery()
	returned = order.Status.IsReturnPhase() || order.ReturnID != ""
	if !returned {
		for _, entry := range order.StatusHistory {
			if entry.Status.IsReturnPhase() {
				returned = true
				break
			}
		}
	}
	return delivered || returned, returned
}

// bucketStart truncates t to the start of its UTC bucket. Weeks start on Monday.
func bucketStart(t time.Time, bucket StatsBucket) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch bucket {
	case StatsBucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case StatsBucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}
