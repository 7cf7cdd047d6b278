package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Stock     services.StockLedger
	Discounts services.DiscountEngine
	Orders    services.OrderService
	Lifecycle services.OrderLifecycle
	Returns   services.ReturnService
	Stats     services.StatsService
	AuditLogs services.AuditLogService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

type containerOptions struct {
	logger   *zap.Logger
	events   services.EventPublisher
	exporter services.Exporter
	metrics  services.Metrics
	clock    func() time.Time
	closers  []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

// WithLogger sets the base logger services log through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithEventPublisher sets the publisher for order and return events.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(o *containerOptions) { o.events = publisher }
}

// WithExporter sets the storage exporter used by stats exports.
func WithExporter(exporter services.Exporter) Option {
	return func(o *containerOptions) { o.exporter = exporter }
}

// WithMetrics overrides the business counters. By default OpenTelemetry counters are registered on
// the global meter provider.
func WithMetrics(metrics services.Metrics) Option {
	return func(o *containerOptions) { o.metrics = metrics }
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// WithCloser registers a cleanup hook run by Close before the registry is closed.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *containerOptions) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

// NewContainer constructs the runtime dependencies on top of reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.clock == nil {
		options.clock = time.Now
	}
	if options.metrics == nil {
		metrics, err := observability.NewOrderMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("build order metrics: %w", err)
		}
		options.metrics = metrics
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		closers:      options.closers,
	}, nil
}

// Close runs registered cleanup hooks, then closes the registry.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services
	logger := func(name string) services.Logger {
		return observability.ServiceLogger(opts.logger, name)
	}

	audit, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      opts.clock,
		Logger:     logger("audit"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.AuditLogs = audit

	stock, err := services.NewStockLedger(services.StockLedgerDeps{
		Stock:      reg.Stock(),
		UnitOfWork: reg,
		Clock:      opts.clock,
		Logger:     logger("stock"),
		Metrics:    opts.metrics,
		Audit:      audit,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Stock = stock

	discounts, err := services.NewDiscountEngine(services.DiscountEngineDeps{
		Promotions: reg.Promotions(),
		UnitOfWork: reg,
		Clock:      opts.clock,
		Logger:     logger("promotions"),
		Audit:      audit,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount engine: %w", err)
	}
	svc.Discounts = discounts

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Counters:   reg.Counters(),
		Stock:      stock,
		Discounts:  discounts,
		UnitOfWork: reg,
		Pricing: domain.PricingPolicy{
			TaxRateBasisPoints:    cfg.Orders.TaxRateBasisPoints,
			FreeShippingThreshold: cfg.Orders.FreeShippingThreshold,
			FlatShippingFee:       cfg.Orders.FlatShippingFee,
		},
		NumberPrefix:   cfg.Orders.NumberPrefix,
		CheckOnlyStock: !cfg.Orders.DecrementStockOnCreate,
		Clock:          opts.clock,
		Logger:         logger("orders"),
		Events:         opts.events,
		Metrics:        opts.metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	lifecycle, err := services.NewOrderLifecycle(services.OrderLifecycleDeps{
		Orders:     reg.Orders(),
		Stock:      stock,
		UnitOfWork: reg,
		Clock:      opts.clock,
		Logger:     logger("lifecycle"),
		Events:     opts.events,
		Metrics:    opts.metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order lifecycle: %w", err)
	}
	svc.Lifecycle = lifecycle

	returns, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:       reg.Orders(),
		Returns:      reg.Returns(),
		Lifecycle:    lifecycle,
		UnitOfWork:   reg,
		ReturnWindow: cfg.Orders.ReturnWindow,
		Clock:        opts.clock,
		Logger:       logger("returns"),
		Events:       opts.events,
		Metrics:      opts.metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returns

	stats, err := services.NewStatsService(services.StatsServiceDeps{
		Orders:   reg.Orders(),
		Exporter: opts.exporter,
		Clock:    opts.clock,
		Logger:   logger("stats"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stats service: %w", err)
	}
	svc.Stats = stats

	return svc, nil
}
