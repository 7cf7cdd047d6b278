package domain

import "slices"

// orderTransitions is the fixed adjacency table for the order lifecycle. Reverting a return phase
// to delivered is only used when a return request is rejected.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:               {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:             {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:            {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:               {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:             {OrderStatusReturnRequested, OrderStatusReturned},
	OrderStatusReturnRequested:       {OrderStatusReturnApproved, OrderStatusReturnRejected, OrderStatusDelivered},
	OrderStatusReturnApproved:        {OrderStatusReturnPickupScheduled},
	OrderStatusReturnPickupScheduled: {OrderStatusReturnPickedUp},
	OrderStatusReturnPickedUp:        {OrderStatusReturnReceived},
	OrderStatusReturnReceived:        {OrderStatusReturned, OrderStatusRefunded},
	OrderStatusReturned:              {OrderStatusRefunded},
}

var returnPhaseStatuses = []OrderStatus{
	OrderStatusReturnRequested,
	OrderStatusReturnApproved,
	OrderStatusReturnPickupScheduled,
	OrderStatusReturnPickedUp,
	OrderStatusReturnReceived,
	OrderStatusReturned,
}

// returnRequestStatuses mirror the phase of an open return request onto its order.
var returnRequestStatuses = []OrderStatus{
	OrderStatusReturnRequested,
	OrderStatusReturnApproved,
	OrderStatusReturnPickupScheduled,
	OrderStatusReturnPickedUp,
	OrderStatusReturnReceived,
}

// Cancelling from shipped is listed for completeness; the transition table does not allow it today.
var restockOnCancelFrom = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
}

// FulfillmentStatuses are the statuses whose totals count towards revenue.
var FulfillmentStatuses = []OrderStatus{
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
}

// AllOrderStatuses lists every order status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturnRequested,
	OrderStatusReturnApproved,
	OrderStatusReturnPickupScheduled,
	OrderStatusReturnPickedUp,
	OrderStatusReturnReceived,
	OrderStatusReturned,
	OrderStatusRefunded,
	OrderStatusReturnRejected,
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(raw)
	return status, slices.Contains(AllOrderStatuses, status)
}

// AllowedNextStatuses returns a copy of the statuses reachable from current.
func AllowedNextStatuses(current OrderStatus) []OrderStatus {
	return slices.Clone(orderTransitions[current])
}

// CanTransition reports whether target is directly reachable from current.
func CanTransition(current, target OrderStatus) bool {
	return slices.Contains(orderTransitions[current], target)
}

// IsTerminal reports whether no transition leaves the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRefunded, OrderStatusReturnRejected:
		return true
	}
	return false
}

// IsReturnPhase reports whether the status belongs to the return sub-flow.
func (s OrderStatus) IsReturnPhase() bool {
	return slices.Contains(returnPhaseStatuses, s)
}

// ReachedDelivery reports whether the order was delivered at some point.
func (s OrderStatus) ReachedDelivery() bool {
	return s == OrderStatusDelivered || s == OrderStatusRefunded || s == OrderStatusReturnRejected || s.IsReturnPhase()
}

// RequiresReturnRequest reports whether the edge from -> to belongs to a return request: entering
// or leaving a request-mirrored phase, or closing one as rejected. Such edges are driven by the
// return workflow only.
func RequiresReturnRequest(from, to OrderStatus) bool {
	return to == OrderStatusReturnRejected ||
		slices.Contains(returnRequestStatuses, to) ||
		slices.Contains(returnRequestStatuses, from)
}

// StockEffect describes the stock ledger movement triggered by a transition.
type StockEffect int

const (
	// StockEffectNone leaves the ledger untouched.
	StockEffectNone StockEffect = iota
	// StockEffectRestore credits every line item quantity back to the ledger.
	StockEffectRestore
	// StockEffectConsume debits line item quantities that an earlier restore credited.
	StockEffectConsume
)

// StockEffectFor returns the stock movement for the edge from -> to.
func StockEffectFor(from, to OrderStatus) StockEffect {
	switch {
	case to == OrderStatusCancelled && slices.Contains(restockOnCancelFrom, from):
		return StockEffectRestore
	case to == OrderStatusReturned && from == OrderStatusDelivered:
		return StockEffectRestore
	case to == OrderStatusRefunded && from.IsReturnPhase():
		return StockEffectRestore
	case to.IsReturnPhase() && from == OrderStatusDelivered:
		return StockEffectRestore
	case to == OrderStatusDelivered && from.IsReturnPhase():
		return StockEffectConsume
	case to == OrderStatusReturnRejected && from.IsReturnPhase():
		return StockEffectConsume
	}
	return StockEffectNone
}

// returnTransitions lists the allowed return workflow edges.
var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusPendingApproval: {ReturnStatusApproved, ReturnStatusRejected},
	ReturnStatusApproved:        {ReturnStatusPickupScheduled},
	ReturnStatusPickupScheduled: {ReturnStatusPickedUp},
	ReturnStatusPickedUp:        {ReturnStatusReceived},
	ReturnStatusReceived:        {ReturnStatusRefunded},
}

// CanTransitionReturn reports whether the return workflow may move from current to target.
func CanTransitionReturn(current, target ReturnStatus) bool {
	return slices.Contains(returnTransitions[current], target)
}

// OpenReturnStatuses lists the return phases that still await a terminal outcome.
var OpenReturnStatuses = []ReturnStatus{
	ReturnStatusPendingApproval,
	ReturnStatusApproved,
	ReturnStatusPickupScheduled,
	ReturnStatusPickedUp,
	ReturnStatusReceived,
}

// IsOpen reports whether the return request still awaits a terminal phase.
func (s ReturnStatus) IsOpen() bool {
	return s != ReturnStatusRejected && s != ReturnStatusRefunded
}

// ParseReturnStatus validates a raw return status string.
func ParseReturnStatus(raw string) (ReturnStatus, bool) {
	switch s := ReturnStatus(raw); s {
	case ReturnStatusPendingApproval, ReturnStatusApproved, ReturnStatusRejected, ReturnStatusPickupScheduled,
		ReturnStatusPickedUp, ReturnStatusReceived, ReturnStatusRefunded:
		return s, true
	}
	return "", false
}
