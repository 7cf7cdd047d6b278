package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	Address            = domain.Address
	StatusHistoryEntry = domain.StatusHistoryEntry
	StockRecord        = domain.StockRecord
	Promotion          = domain.Promotion
	DiscountType       = domain.DiscountType
	ReturnRequest      = domain.ReturnRequest
	ReturnItem         = domain.ReturnItem
	ReturnStatus       = domain.ReturnStatus
	ItemCondition      = domain.ItemCondition
	DateRange          = domain.DateRange
	AuditLogEntry      = domain.AuditLogEntry
	StockDelta         = repositories.StockDelta
	StockAdjustment    = repositories.StockAdjustment
	OrderListFilter    = repositories.OrderListFilter
	ReturnListFilter   = repositories.ReturnListFilter
)

// Logger is the structured logging hook injected into services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Event types published on the order events topic.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderStockRestored = "order.stock_restored"
	EventReturnRequested    = "return.requested"
	EventReturnStatusChange = "return.status_changed"
)

// OrderEvent is the payload published for order and return changes.
type OrderEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	CustomerID     string    `json:"customerId,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ReturnID       string    `json:"returnId,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventPublisher delivers order events to downstream consumers. Publication happens after the
// originating transaction commits and failures never roll it back.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// Metrics records business counters. observability.OrderMetrics implements it.
type Metrics interface {
	OrderCreated(ctx context.Context)
	OrderTransitioned(ctx context.Context, from, to string)
	StockAdjusted(ctx context.Context, direction string, units int)
	ReturnPhaseChanged(ctx context.Context, phase string)
}

// StockLedger maintains available quantities per product.
type StockLedger interface {
	Adjust(ctx context.Context, productID string, delta int) (StockAdjustment, error)
	AdjustMany(ctx context.Context, deltas []StockDelta) ([]StockAdjustment, error)
	CheckAvailability(ctx context.Context, items []StockRequest) (AvailabilityResult, error)
	Get(ctx context.Context, productID string) (StockRecord, error)
	// Set and Correct are staff operations; both leave an audit entry.
	Set(ctx context.Context, cmd SetStockCommand) (StockRecord, error)
	Correct(ctx context.Context, cmd StockCorrectionCommand) (StockAdjustment, error)
}

// SetStockCommand overwrites a product's quantity after a physical recount.
type SetStockCommand struct {
	ProductID string
	Quantity  int
	Actor     string
	Reason    string
}

// StockCorrectionCommand applies a manual delta with ledger semantics.
type StockCorrectionCommand struct {
	ProductID string
	Delta     int
	Actor     string
	Reason    string
}

// StockRequest is a quantity needed from the ledger.
type StockRequest struct {
	ProductID string
	Name      string
	Quantity  int
}

// AvailabilityResult lists one message per missing or insufficient product.
type AvailabilityResult struct {
	Valid  bool
	Errors []string
}

// DiscountEngine validates promotion codes and computes discounts.
type DiscountEngine interface {
	Validate(ctx context.Context, code string, subtotal int64, categoryIDs, productIDs []string) (Promotion, error)
	CalculateDiscount(promo Promotion, subtotal int64) int64
	Apply(ctx context.Context, code string) (Promotion, error)
	// Redeem records one use of promo, which the caller read earlier in the same transaction.
	Redeem(ctx context.Context, promo Promotion) (Promotion, error)
	Get(ctx context.Context, code string) (Promotion, error)
	Upsert(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
}

// UpsertPromotionCommand creates or replaces a promotion definition. UsedCount is preserved for
// existing codes.
type UpsertPromotionCommand struct {
	Code           string
	Description    string
	Type           DiscountType
	Value          float64
	MinOrderAmount int64
	MaxDiscount    *int64
	UsageLimit     int
	Active         bool
	ValidFrom      time.Time
	ValidUntil     time.Time
	CategoryIDs    []string
	ProductIDs     []string
	Actor          string
}

// OrderService implements checkout and order queries.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// CreateOrderCommand is the cart snapshot submitted at checkout.
type CreateOrderCommand struct {
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	Items           []CartLine
	ShippingAddress Address
	PromoCode       string
	Notes           string
	Actor           string
}

// CartLine is one cart entry with a resolved unit price.
type CartLine struct {
	ProductID  string
	SKU        string
	Name       string
	CategoryID string
	Quantity   int
	UnitPrice  int64
}

// OrderLifecycle enforces the order status graph and its stock effects.
type OrderLifecycle interface {
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// TransitionCommand moves an order to Status.
type TransitionCommand struct {
	OrderID string
	Status  OrderStatus
	Actor   string
	Note    string
}

// CancelOrderCommand cancels an order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID    string
	CustomerID string
	Actor      string
	Reason     string
}

// ReturnService drives the return workflow.
type ReturnService interface {
	CheckEligibility(ctx context.Context, orderID string) (ReturnEligibility, error)
	CreateReturnRequest(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	Approve(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error)
	Reject(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error)
	SchedulePickup(ctx context.Context, cmd SchedulePickupCommand) (ReturnRequest, error)
	MarkPickedUp(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error)
	MarkReceived(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error)
	ProcessRefund(ctx context.Context, cmd RefundCommand) (ReturnRequest, error)
	GetReturn(ctx context.Context, returnID string) (ReturnRequest, error)
	ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error)
}

// ReturnEligibility reports whether an order can still be returned.
type ReturnEligibility struct {
	Eligible      bool
	RemainingDays int
	DeliveredAt   time.Time
	Reason        string
}

// CreateReturnCommand selects order lines to send back.
type CreateReturnCommand struct {
	OrderID        string
	CustomerID     string
	RequesterEmail string
	Items          []ReturnLine
	Reason         string
	Description    string
}

// ReturnLine references an order line by index.
type ReturnLine struct {
	LineIndex int
	Quantity  int
	Condition ItemCondition
	Reason    string
}

// ReturnActionCommand is an admin action on a return request. Reason is required for rejection.
type ReturnActionCommand struct {
	ReturnID string
	Actor    string
	Reason   string
	Notes    string
}

// SchedulePickupCommand books the courier pickup.
type SchedulePickupCommand struct {
	ReturnID   string
	Actor      string
	PickupDate time.Time
	Carrier    string
	Notes      string
}

// RefundCommand records the refund payout.
type RefundCommand struct {
	ReturnID  string
	Actor     string
	Method    string
	Reference string
	Notes     string
}

// StatsService aggregates order statistics.
type StatsService interface {
	Stats(ctx context.Context, query StatsQuery) (OrderStats, error)
	ExportStats(ctx context.Context, query StatsQuery) (StatsExport, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogRecord describes one staff mutation.
type AuditLogRecord struct {
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	Severity   string
	RequestID  string
	OccurredAt time.Time
	Metadata   map[string]any
	Diff       map[string]AuditLogDiff
}

// AuditLogDiff captures before/after values for tracked fields.
type AuditLogDiff struct {
	Before any
	After  any
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination Pagination
}

// Exporter writes report snapshots to object storage.
type Exporter interface {
	Export(ctx context.Context, name string, generatedAt time.Time, data []byte) (string, error)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated(context.Context)                     {}
func (noopMetrics) OrderTransitioned(context.Context, string, string) {}
func (noopMetrics) StockAdjusted(context.Context, string, int)        {}
func (noopMetrics) ReturnPhaseChanged(context.Context, string)        {}

func noopLogger(context.Context, string, map[string]any) {}
