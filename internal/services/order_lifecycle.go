package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	systemActor            = "system"
	maxTransitionNoteRunes = 500
)

// OrderLifecycleDeps bundles collaborators required to construct the order lifecycle.
type OrderLifecycleDeps struct {
	Orders     repositories.OrderRepository
	Stock      StockLedger
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     Logger
	Events     EventPublisher
	Metrics    Metrics
}

type orderLifecycle struct {
	orders     repositories.OrderRepository
	stock      StockLedger
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     Logger
	events     EventPublisher
	metrics    Metrics
}

// NewOrderLifecycle wires the order status state machine.
func NewOrderLifecycle(deps OrderLifecycleDeps) (OrderLifecycle, error) {
	if deps.Orders == nil {
		return nil, errors.New("order lifecycle: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order lifecycle: stock ledger is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &orderLifecycle{
		orders:     deps.Orders,
		stock:      deps.Stock,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		events:  deps.Events,
		metrics: metrics,
	}, nil
}

// returnLink carries the return request driving a return-phase edge. Only the return workflow
// builds one, so return-phase edges cannot be forged through Transition.
type returnLink struct {
	returnID string
	// ensureRestored restores line item quantities when no earlier edge has restored them yet.
	ensureRestored bool
}

// returnTransitioner is the order side of the return workflow.
type returnTransitioner interface {
	transitionForReturn(ctx context.Context, cmd TransitionCommand, link returnLink) (Order, error)
}

// Transition validates the edge against the lifecycle graph, appends the history entry, and applies
// the stock effect of the edge in the same unit of work as the status write. Return-phase edges are
// refused here; they belong to the return workflow.
func (l *orderLifecycle) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	return l.transition(ctx, cmd, returnLink{})
}

func (l *orderLifecycle) transitionForReturn(ctx context.Context, cmd TransitionCommand, link returnLink) (Order, error) {
	link.returnID = strings.TrimSpace(link.returnID)
	if link.returnID == "" {
		return Order{}, fmt.Errorf("%w: return id is required", ErrOrderInvalidInput)
	}
	return l.transition(ctx, cmd, link)
}

func (l *orderLifecycle) transition(ctx context.Context, cmd TransitionCommand, link returnLink) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(strings.TrimSpace(string(cmd.Status)))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	actor := firstNonEmpty(cmd.Actor, systemActor)
	note := textutil.SanitizePlain(cmd.Note, maxTransitionNoteRunes)

	var updated Order
	err := runInTx(ctx, l.unitOfWork, func(ctx context.Context) error {
		current, err := l.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if !domain.CanTransition(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrOrderInvalidTransition, current.Status, target, domain.AllowedNextStatuses(current.Status))
		}

		returnID := link.returnID
		if domain.RequiresReturnRequest(current.Status, target) {
			if returnID == "" {
				return fmt.Errorf("%w: %s -> %s is only reachable through a return request", ErrOrderInvalidTransition, current.Status, target)
			}
			if current.Status != domain.OrderStatusDelivered && current.ReturnID != returnID {
				return fmt.Errorf("%w: order %s is held by return %s, not %s", ErrOrderInvalidTransition, orderID, current.ReturnID, returnID)
			}
		}

		now := l.clock()
		next := applyTransition(current, target, actor, note, now)
		if returnID != "" {
			next.ReturnID = returnID
		}
		sign := stockMovement(&next, current.Status, target, link.ensureRestored)
		if sign != 0 {
			if _, err := l.stock.AdjustMany(ctx, stockDeltas(current.Items, sign)); err != nil {
				return fmt.Errorf("order %s stock effect: %w", orderID, err)
			}
		} else if !current.StockCommitted && domain.StockEffectFor(current.Status, target) != domain.StockEffectNone {
			l.logger(ctx, "order.stock_effect_skipped", map[string]any{
				"orderId": orderID,
				"reason":  "stock not committed at checkout",
			})
		}

		if err := l.orders.Update(ctx, next, current.Version); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		updated = next
		afterCommit(ctx, func(ctx context.Context) {
			l.emitTransition(ctx, current, next, actor, sign)
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

func (l *orderLifecycle) emitTransition(ctx context.Context, previous, updated Order, actor string, movement int) {
	l.metrics.OrderTransitioned(ctx, string(previous.Status), string(updated.Status))
	l.logger(ctx, "order.status_changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous.Status),
		"to":      string(updated.Status),
		"actor":   actor,
		"stock":   movement,
	})
	l.publish(ctx, OrderEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		Status:         string(updated.Status),
		PreviousStatus: string(previous.Status),
		ReturnID:       updated.ReturnID,
		Actor:          actor,
		OccurredAt:     updated.UpdatedAt,
	})
	if movement > 0 {
		l.publish(ctx, OrderEvent{
			Type:        EventOrderStockRestored,
			OrderID:     updated.ID,
			OrderNumber: updated.OrderNumber,
			CustomerID:  updated.CustomerID,
			Status:      string(updated.Status),
			Actor:       actor,
			OccurredAt:  updated.UpdatedAt,
		})
	}
}

// Cancel lets a customer cancel their own order while it is still cancellable.
func (l *orderLifecycle) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	order, err := l.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if order.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: order %s belongs to another customer", ErrOrderForbidden, orderID)
	}
	note := "cancelled by customer"
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		note = note + ": " + reason
	}
	return l.Transition(ctx, TransitionCommand{
		OrderID: orderID,
		Status:  domain.OrderStatusCancelled,
		Actor:   firstNonEmpty(cmd.Actor, customerID),
		Note:    note,
	})
}

func (l *orderLifecycle) publish(ctx context.Context, event OrderEvent) {
	if l.events == nil {
		return
	}
	if err := l.events.PublishOrderEvent(ctx, event); err != nil {
		l.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId":   event.OrderID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
	}
}

func applyTransition(order Order, target OrderStatus, actor, note string, now time.Time) Order {
	next := order
	next.Items = append([]OrderItem(nil), order.Items...)
	next.StatusHistory = append(append([]StatusHistoryEntry(nil), order.StatusHistory...), StatusHistoryEntry{
		Status: target,
		At:     now,
		Actor:  actor,
		Note:   note,
	})
	next.Status = target
	next.Version = order.Version + 1
	next.UpdatedAt = now

	stamp := func(field **time.Time) {
		if *field == nil {
			t := now
			*field = &t
		}
	}
	switch target {
	case domain.OrderStatusConfirmed:
		stamp(&next.ConfirmedAt)
	case domain.OrderStatusShipped:
		stamp(&next.ShippedAt)
	case domain.OrderStatusDelivered:
		stamp(&next.DeliveredAt)
	case domain.OrderStatusCancelled:
		stamp(&next.CancelledAt)
	case domain.OrderStatusReturned:
		stamp(&next.ReturnedAt)
	case domain.OrderStatusRefunded:
		stamp(&next.RefundedAt)
	}
	return next
}

// stockMovement decides the ledger movement for from -> to and updates the order's restoration
// marker. It returns +1 to restore line quantities, -1 to consume them again, or 0. Orders whose
// stock was never committed at checkout have nothing to move.
func stockMovement(order *Order, from, to OrderStatus, ensureRestored bool) int {
	if !order.StockCommitted {
		return 0
	}
	sign := 0
	switch domain.StockEffectFor(from, to) {
	case domain.StockEffectRestore:
		if !order.StockRestored {
			sign = 1
		}
	case domain.StockEffectConsume:
		if order.StockRestored {
			sign = -1
		}
	}
	if sign == 0 && ensureRestored && !order.StockRestored {
		sign = 1
	}
	switch sign {
	case 1:
		order.StockRestored = true
	case -1:
		order.StockRestored = false
	}
	return sign
}
