package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stock() StockRepository
	Promotions() PromotionRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transaction. Calls made with the context
// passed to fn join the transaction; nested RunInTx calls join the outer one.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders and maintains their secondary indexes (customer, status,
// creation time, search tokens).
type OrderRepository interface {
	// Insert stores a new order and fails with a conflict when the id already exists.
	Insert(ctx context.Context, order domain.Order) error
	// Update replaces the order when the stored Version equals expectedVersion.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	CountByStatus(ctx context.Context, createdIn domain.DateRange) (map[domain.OrderStatus]int, error)
	// Scan calls fn for every order created in the range, oldest first.
	Scan(ctx context.Context, createdIn domain.DateRange, fn func(domain.Order) error) error
}

// StockRepository stores per-product available quantities.
type StockRepository interface {
	Get(ctx context.Context, productID string) (domain.StockRecord, error)
	GetMany(ctx context.Context, productIDs []string) (map[string]domain.StockRecord, error)
	Set(ctx context.Context, record domain.StockRecord) error
	// AdjustMany applies every delta with zero clamping. Unknown products are reported with
	// Found=false and never created.
	AdjustMany(ctx context.Context, deltas []StockDelta, now time.Time) ([]StockAdjustment, error)
}

// StockDelta is a signed quantity change for one product.
type StockDelta struct {
	ProductID string
	Delta     int
}

// StockAdjustment reports the effect of one StockDelta.
type StockAdjustment struct {
	ProductID string
	Delta     int
	Before    int
	After     int
	Found     bool
}

// PromotionRepository stores promotion definitions keyed by upper-cased code.
type PromotionRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	Upsert(ctx context.Context, promotion domain.Promotion) error
}

// ReturnRepository persists return requests.
type ReturnRepository interface {
	Insert(ctx context.Context, ret domain.ReturnRequest) error
	Update(ctx context.Context, ret domain.ReturnRequest, expectedVersion int64) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// AuditLogRepository stores append-only audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository reports the status of downstream dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// OrderListFilter narrows order listings. Empty fields do not filter.
type OrderListFilter struct {
	CustomerID string
	Statuses   []domain.OrderStatus
	Query      string
	CreatedIn  domain.DateRange
	Pagination domain.Pagination
}

// ReturnListFilter narrows return listings.
type ReturnListFilter struct {
	Statuses   []domain.ReturnStatus
	OrderID    string
	CustomerID string
	Pagination domain.Pagination
}

// AuditLogFilter narrows audit listings, newest first.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination domain.Pagination
}
