package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/orders"

// OrderMetrics records order lifecycle counters through the global OpenTelemetry meter provider.
type OrderMetrics struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	stockUnits  metric.Int64Counter
	returns     metric.Int64Counter
}

// NewOrderMetrics registers the counters on meter, or on the global provider when meter is nil.
func NewOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	created, err := meter.Int64Counter("orders.created", metric.WithDescription("Orders placed at checkout"))
	if err != nil {
		return nil, fmt.Errorf("observability: orders.created counter: %w", err)
	}
	transitions, err := meter.Int64Counter("orders.transitions", metric.WithDescription("Order status transitions"))
	if err != nil {
		return nil, fmt.Errorf("observability: orders.transitions counter: %w", err)
	}
	stockUnits, err := meter.Int64Counter("stock.adjusted_units", metric.WithUnit("{unit}"), metric.WithDescription("Units moved by the stock ledger"))
	if err != nil {
		return nil, fmt.Errorf("observability: stock.adjusted_units counter: %w", err)
	}
	returns, err := meter.Int64Counter("returns.phase_changes", metric.WithDescription("Return workflow phase changes"))
	if err != nil {
		return nil, fmt.Errorf("observability: returns.phase_changes counter: %w", err)
	}
	return &OrderMetrics{created: created, transitions: transitions, stockUnits: stockUnits, returns: returns}, nil
}

// OrderCreated counts a placed order.
func (m *OrderMetrics) OrderCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.created.Add(ctx, 1)
}

// OrderTransitioned counts a status change.
func (m *OrderMetrics) OrderTransitioned(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// StockAdjusted records units credited ("restore") or debited ("consume").
func (m *OrderMetrics) StockAdjusted(ctx context.Context, direction string, units int) {
	if m == nil || units == 0 {
		return
	}
	m.stockUnits.Add(ctx, int64(units), metric.WithAttributes(attribute.String("direction", direction)))
}

// ReturnPhaseChanged counts return workflow progress.
func (m *OrderMetrics) ReturnPhaseChanged(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.returns.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}
