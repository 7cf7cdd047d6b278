package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestOrderLifecycleCancelRestoresStockExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 10)
	env.setStock(t, "sku-2", 4)
	order := env.placeOrder(t,
		CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 3, UnitPrice: 1000},
		CartLine{ProductID: "sku-2", Name: "Stole", Quantity: 1, UnitPrice: 400},
	)
	if got := env.stockOf(t, "sku-1"); got != 7 {
		t.Fatalf("expected 7 after checkout, got %d", got)
	}

	cancelled := env.advance(t, order.ID,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusCancelled,
	)

	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected sku-1 restored to 10, got %d", got)
	}
	if got := env.stockOf(t, "sku-2"); got != 4 {
		t.Fatalf("expected sku-2 restored to 4, got %d", got)
	}
	if !cancelled.StockRestored {
		t.Fatalf("expected restoration marker")
	}
	if cancelled.CancelledAt == nil || cancelled.ConfirmedAt == nil {
		t.Fatalf("expected phase timestamps, got %+v", cancelled)
	}
	if len(cancelled.StatusHistory) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(cancelled.StatusHistory))
	}
	if env.metrics.restored != 4 {
		t.Fatalf("expected 4 units restored, got %d", env.metrics.restored)
	}
	if _, err := env.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: domain.OrderStatusConfirmed}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected cancelled to be terminal, got %v", err)
	}
}

func TestOrderLifecycleRejectsInvalidTransitionWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 5)
	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 1000})
	eventsBefore := len(env.events.types())

	_, err := env.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: domain.OrderStatusDelivered})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	stored, err := env.orders.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.Version != order.Version || len(stored.StatusHistory) != 1 {
		t.Fatalf("expected order unchanged, got status=%s version=%d history=%d", stored.Status, stored.Version, len(stored.StatusHistory))
	}
	if got := env.stockOf(t, "sku-1"); got != 4 {
		t.Fatalf("expected stock unchanged at 4, got %d", got)
	}
	if len(env.events.types()) != eventsBefore {
		t.Fatalf("expected no event for rejected transition")
	}
}

func TestOrderLifecycleShippedCannotBeCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 5)
	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 1000})
	env.advance(t, order.ID, domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped)

	if _, err := env.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: domain.OrderStatusCancelled}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected shipped -> cancelled to be rejected, got %v", err)
	}
}

func TestOrderLifecycleReturnedThenRefundedRestoresOnce(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	if got := env.stockOf(t, "sku-1"); got != 8 {
		t.Fatalf("expected 8 after delivery, got %d", got)
	}

	refunded := env.advance(t, order.ID, domain.OrderStatusReturned, domain.OrderStatusRefunded)
	if refunded.ReturnedAt == nil || refunded.RefundedAt == nil {
		t.Fatalf("expected returned and refunded timestamps")
	}
	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected sku-1 restored once to 10, got %d", got)
	}
	if got := env.stockOf(t, "sku-2"); got != 5 {
		t.Fatalf("expected sku-2 restored once to 5, got %d", got)
	}
}

func TestOrderLifecycleUnknownStatusIsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: "ord_x", Status: "teleported"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := env.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: "ord_x", Status: domain.OrderStatusConfirmed}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderLifecycleCancelChecksOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 5)
	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 2, UnitPrice: 1000})
	ctx := context.Background()

	if _, err := env.lifecycle.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "someone-else"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	cancelled, err := env.lifecycle.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "cust-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	last := cancelled.StatusHistory[len(cancelled.StatusHistory)-1]
	if last.Note != "cancelled by customer: changed my mind" || last.Actor != "cust-1" {
		t.Fatalf("unexpected history entry %+v", last)
	}
	if got := env.stockOf(t, "sku-1"); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
}

func TestOrderLifecycleConcurrentCancelRestoresOnce(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 10)
	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 4, UnitPrice: 1000})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: domain.OrderStatusCancelled})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrOrderInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one cancellation, got %d", succeeded)
	}
	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected stock restored once to 10, got %d", got)
	}
}

func TestOrderLifecyclePublishesAfterCommitOnly(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 5)
	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 1000})
	before := len(env.events.types())

	failing := errors.New("boom")
	err := env.store.RunInTx(context.Background(), func(ctx context.Context) error {
		return runInTx(ctx, env.store, func(ctx context.Context) error {
			if _, err := env.lifecycle.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: domain.OrderStatusConfirmed}); err != nil {
				return err
			}
			return failing
		})
	})
	if !errors.Is(err, failing) {
		t.Fatalf("expected outer failure, got %v", err)
	}
	if len(env.events.types()) != before {
		t.Fatalf("expected no events from a rolled back transition, got %v", env.events.types())
	}
	stored, err := env.orders.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected rollback to pending, got %s", stored.Status)
	}

	confirmed := env.advance(t, order.ID, domain.OrderStatusConfirmed)
	types := env.events.types()
	if types[len(types)-1] != EventOrderStatusChanged {
		t.Fatalf("expected status_changed event, got %v", types)
	}
	if confirmed.ConfirmedAt == nil || !confirmed.ConfirmedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected confirmedAt stamped at %s", env.clock.Now().Format(time.RFC3339))
	}
}
