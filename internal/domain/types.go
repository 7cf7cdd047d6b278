package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending               OrderStatus = "pending"
	OrderStatusConfirmed             OrderStatus = "confirmed"
	OrderStatusProcessing            OrderStatus = "processing"
	OrderStatusShipped               OrderStatus = "shipped"
	OrderStatusDelivered             OrderStatus = "delivered"
	OrderStatusCancelled             OrderStatus = "cancelled"
	OrderStatusReturnRequested       OrderStatus = "return_requested"
	OrderStatusReturnApproved        OrderStatus = "return_approved"
	OrderStatusReturnPickupScheduled OrderStatus = "return_pickup_scheduled"
	OrderStatusReturnPickedUp        OrderStatus = "return_picked_up"
	OrderStatusReturnReceived        OrderStatus = "return_received"
	OrderStatusReturned              OrderStatus = "returned"
	OrderStatusRefunded              OrderStatus = "refunded"
	OrderStatusReturnRejected        OrderStatus = "return_rejected"
)

// PaymentMethodCOD is the only supported payment method; collection happens on delivery.
const (
	PaymentMethodCOD     = "cod"
	PaymentStatusPending = "pending"
)

// Order is the canonical order record persisted by the order store.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	Status          OrderStatus
	Items           []OrderItem
	Totals          OrderTotals
	Promotion       *AppliedPromotion
	Payment         OrderPayment
	ShippingAddress Address
	Notes           string
	StatusHistory   []StatusHistoryEntry
	// StockRestored is set once line item quantities have been credited back to the
	// stock ledger and cleared if a later transition consumes them again.
	StockRestored bool
	// StockCommitted records whether quantities were decremented at checkout.
	StockCommitted bool
	ReturnID       string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	ReturnedAt     *time.Time
	RefundedAt     *time.Time
}

// OrderItem is an immutable order line.
type OrderItem struct {
	ProductID  string
	SKU        string
	Name       string
	CategoryID string
	Quantity   int
	UnitPrice  int64
	LineTotal  int64
}

// OrderTotals holds the monetary breakdown fixed at creation time.
type OrderTotals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Total    int64
}

// AppliedPromotion snapshots the promotion used at checkout.
type AppliedPromotion struct {
	Code           string
	Type           DiscountType
	Value          float64
	DiscountAmount int64
}

// OrderPayment captures the deferred payment placeholder.
type OrderPayment struct {
	Method string
	Status string
}

// Address is a shipping address snapshot copied into the order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// StatusHistoryEntry is one append-only record of an order status change.
type StatusHistoryEntry struct {
	Status OrderStatus
	At     time.Time
	Actor  string
	Note   string
}

// StockRecord is the available quantity of a single product.
type StockRecord struct {
	ProductID string
	Quantity  int
	UpdatedAt time.Time
}

// DiscountType enumerates promotion calculation modes.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Promotion is a promo code definition with its usage counter.
type Promotion struct {
	Code           string
	Description    string
	Type           DiscountType
	Value          float64
	MinOrderAmount int64
	MaxDiscount    *int64
	UsageLimit     int
	UsedCount      int
	Active         bool
	ValidFrom      time.Time
	ValidUntil     time.Time
	CategoryIDs    []string
	ProductIDs     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReturnStatus enumerates return workflow phases.
type ReturnStatus string

const (
	ReturnStatusPendingApproval ReturnStatus = "pending_approval"
	ReturnStatusApproved        ReturnStatus = "approved"
	ReturnStatusRejected        ReturnStatus = "rejected"
	ReturnStatusPickupScheduled ReturnStatus = "pickup_scheduled"
	ReturnStatusPickedUp        ReturnStatus = "picked_up"
	ReturnStatusReceived        ReturnStatus = "received"
	ReturnStatusRefunded        ReturnStatus = "refunded"
)

// ItemCondition is the customer-declared state of a returned item.
type ItemCondition string

const (
	ItemConditionNew     ItemCondition = "new"
	ItemConditionUsed    ItemCondition = "used"
	ItemConditionDamaged ItemCondition = "damaged"
)

// ReturnRequest is the return workflow record tied 1:1 to an order.
type ReturnRequest struct {
	ID                string
	OrderID           string
	OrderNumber       string
	CustomerID        string
	RequesterEmail    string
	Items             []ReturnItem
	Reason            string
	Description       string
	Status            ReturnStatus
	RefundAmount      int64
	RefundMethod      string
	RefundReference   string
	RejectionReason   string
	PickupDate        *time.Time
	PickupCarrier     string
	AdminNotes        string
	ApprovedBy        string
	RejectedBy        string
	ReceivedBy        string
	RefundedBy        string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ApprovedAt        *time.Time
	RejectedAt        *time.Time
	PickupScheduledAt *time.Time
	PickedUpAt        *time.Time
	ReceivedAt        *time.Time
	RefundedAt        *time.Time
}

// ReturnItem is one order line selected for return.
type ReturnItem struct {
	LineIndex     int
	ProductID     string
	Name          string
	OrderedQty    int
	ReturnQty     int
	OriginalPrice int64
	Condition     ItemCondition
	Reason        string
}

// CursorPage represents a paginated slice of results using cursor tokens.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// DateRange bounds queries by creation time. Nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls in [From, To).
func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && !t.Before(*r.To) {
		return false
	}
	return true
}

// HealthStatus summarises dependency health.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthReport aggregates dependency checks for the readiness endpoint.
type HealthReport struct {
	Status    HealthStatus
	Checks    map[string]HealthCheck
	CheckedAt time.Time
}

// HealthCheck is the result of one dependency probe.
type HealthCheck struct {
	Status  HealthStatus
	Latency time.Duration
	Error   string
}

// AuditLogEntry records one manual mutation made by staff. Diff maps a field to its
// {"before", "after"} values.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Severity  string
	RequestID string
	Metadata  map[string]any
	Diff      map[string]any
	CreatedAt time.Time
}
