package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestReturnEligibilityWindow(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	delivered := func(ago time.Duration) Order {
		at := now.Add(-ago)
		return Order{Status: domain.OrderStatusDelivered, DeliveredAt: &at, CreatedAt: at.Add(-72 * time.Hour)}
	}

	cases := []struct {
		name      string
		order     Order
		eligible  bool
		remaining int
	}{
		{name: "three days ago", order: delivered(3 * 24 * time.Hour), eligible: true, remaining: 4},
		{name: "ten days ago", order: delivered(10 * 24 * time.Hour), eligible: false},
		{name: "exactly seven days", order: delivered(7 * 24 * time.Hour), eligible: true, remaining: 0},
		{name: "partial day rounds up", order: delivered(36 * time.Hour), eligible: true, remaining: 6},
		{name: "not delivered", order: Order{Status: domain.OrderStatusShipped, CreatedAt: now}, eligible: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := returnEligibility(tc.order, now, DefaultReturnWindow)
			if got.Eligible != tc.eligible {
				t.Fatalf("expected eligible=%v, got %+v", tc.eligible, got)
			}
			if tc.eligible && got.RemainingDays != tc.remaining {
				t.Fatalf("expected %d remaining days, got %d", tc.remaining, got.RemainingDays)
			}
			if !tc.eligible && got.Reason == "" {
				t.Fatalf("expected a reason for ineligibility")
			}
		})
	}
}

func TestReturnEligibilityFallsBackToUpdatedAt(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	order := Order{
		Status:    domain.OrderStatusDelivered,
		CreatedAt: now.Add(-30 * 24 * time.Hour),
		UpdatedAt: now.Add(-2 * 24 * time.Hour),
	}
	got := returnEligibility(order, now, DefaultReturnWindow)
	if !got.Eligible || got.RemainingDays != 5 || !got.DeliveredAt.Equal(order.UpdatedAt) {
		t.Fatalf("expected eligibility from updatedAt, got %+v", got)
	}
}

func TestReturnServiceFullWorkflowRestoresStockOnce(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()
	env.clock.Advance(2 * 24 * time.Hour)

	ret, err := env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID:    order.ID,
		CustomerID: "cust-1",
		Items: []ReturnLine{
			{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew, Reason: "size"},
			{LineIndex: 1, Quantity: 0},
		},
		Reason: "Does not fit",
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if !strings.HasPrefix(ret.ID, "ret_") || ret.Status != domain.ReturnStatusPendingApproval {
		t.Fatalf("unexpected return %+v", ret)
	}
	if ret.RefundAmount != 1500 || len(ret.Items) != 1 || ret.Items[0].ProductID != "sku-1" {
		t.Fatalf("unexpected refund snapshot amount=%d items=%+v", ret.RefundAmount, ret.Items)
	}
	if ret.RequesterEmail != "asha@example.com" {
		t.Fatalf("expected requester email from order, got %q", ret.RequesterEmail)
	}
	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected stock restored on entering return flow, got %d", got)
	}

	steps := []struct {
		run   func() (ReturnRequest, error)
		want  ReturnStatus
		order OrderStatus
	}{
		{func() (ReturnRequest, error) {
			return env.returns.Approve(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com", Notes: "ok"})
		}, domain.ReturnStatusApproved, domain.OrderStatusReturnApproved},
		{func() (ReturnRequest, error) {
			return env.returns.SchedulePickup(ctx, SchedulePickupCommand{ReturnID: ret.ID, Actor: "admin@example.com", PickupDate: env.clock.Now().Add(24 * time.Hour), Carrier: "Delhivery"})
		}, domain.ReturnStatusPickupScheduled, domain.OrderStatusReturnPickupScheduled},
		{func() (ReturnRequest, error) {
			return env.returns.MarkPickedUp(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com"})
		}, domain.ReturnStatusPickedUp, domain.OrderStatusReturnPickedUp},
		{func() (ReturnRequest, error) {
			return env.returns.MarkReceived(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "warehouse@example.com"})
		}, domain.ReturnStatusReceived, domain.OrderStatusReturnReceived},
		{func() (ReturnRequest, error) {
			return env.returns.ProcessRefund(ctx, RefundCommand{ReturnID: ret.ID, Actor: "finance@example.com", Method: "bank_transfer", Reference: "UTR123"})
		}, domain.ReturnStatusRefunded, domain.OrderStatusRefunded},
	}
	for _, step := range steps {
		updated, err := step.run()
		if err != nil {
			t.Fatalf("advance to %s: %v", step.want, err)
		}
		if updated.Status != step.want {
			t.Fatalf("expected return %s, got %s", step.want, updated.Status)
		}
		stored, err := env.orders.GetOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if stored.Status != step.order || stored.ReturnID != ret.ID {
			t.Fatalf("expected order %s linked to %s, got %s/%s", step.order, ret.ID, stored.Status, stored.ReturnID)
		}
	}

	final, err := env.returns.GetReturn(ctx, ret.ID)
	if err != nil {
		t.Fatalf("get return: %v", err)
	}
	if final.ApprovedBy != "admin@example.com" || final.ReceivedBy != "warehouse@example.com" || final.RefundedBy != "finance@example.com" {
		t.Fatalf("unexpected attribution %+v", final)
	}
	if final.RefundMethod != "bank_transfer" || final.RefundReference != "UTR123" || final.RefundAmount != 1500 {
		t.Fatalf("unexpected refund details %+v", final)
	}
	if final.PickupCarrier != "Delhivery" || final.PickupDate == nil || final.RefundedAt == nil {
		t.Fatalf("unexpected pickup details %+v", final)
	}
	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected sku-1 at 10 after refund, got %d", got)
	}
	if got := env.stockOf(t, "sku-2"); got != 5 {
		t.Fatalf("expected sku-2 at 5 after refund, got %d", got)
	}
	if len(env.metrics.phases) != 6 {
		t.Fatalf("expected 6 return phase metrics, got %v", env.metrics.phases)
	}
	if _, err := env.returns.Approve(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com"}); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected refunded return to be final, got %v", err)
	}
}

func TestReturnServiceRejectReturnsOrderToDelivered(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()
	deliveredAt := *order.DeliveredAt

	ret, err := env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID: order.ID,
		Items:   []ReturnLine{{LineIndex: 0, Quantity: 2, Condition: domain.ItemConditionUsed}},
		Reason:  "Colour differs",
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}

	if _, err := env.returns.Reject(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com"}); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected reason to be required, got %v", err)
	}
	rejected, err := env.returns.Reject(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com", Reason: "worn item"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.ReturnStatusRejected || rejected.RejectionReason != "worn item" || rejected.RejectedAt == nil {
		t.Fatalf("unexpected rejected return %+v", rejected)
	}

	stored, err := env.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusDelivered || stored.StockRestored {
		t.Fatalf("expected delivered without restoration marker, got %s restored=%v", stored.Status, stored.StockRestored)
	}
	if !stored.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("expected original delivery time kept, got %s", stored.DeliveredAt)
	}
	if got := env.stockOf(t, "sku-1"); got != 8 {
		t.Fatalf("expected stock consumed again to 8, got %d", got)
	}
	if _, err := env.returns.Approve(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com"}); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected rejected return to be final, got %v", err)
	}
}

func TestReturnPhaseTransitionsRequireTheOpenReturn(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()

	if _, err := env.lifecycle.Transition(ctx, TransitionCommand{
		OrderID: order.ID,
		Status:  domain.OrderStatusReturnRequested,
		Actor:   "ops@example.com",
	}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected return_requested without a return to be refused, got %v", err)
	}
	if got := env.stockOf(t, "sku-1"); got != 8 {
		t.Fatalf("expected stock untouched at 8, got %d", got)
	}

	ret, err := env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID: order.ID,
		Items:   []ReturnLine{{LineIndex: 0, Quantity: 2, Condition: domain.ItemConditionNew}},
		Reason:  "Too small",
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	refused := []TransitionCommand{
		{OrderID: order.ID, Status: domain.OrderStatusReturnRejected, Actor: "ops@example.com"},
		{OrderID: order.ID, Status: domain.OrderStatusDelivered, Actor: "ops@example.com"},
		{OrderID: order.ID, Status: domain.OrderStatusReturnApproved, Actor: "ops@example.com"},
	}
	for _, cmd := range refused {
		if _, err := env.lifecycle.Transition(ctx, cmd); !errors.Is(err, ErrOrderInvalidTransition) {
			t.Fatalf("expected %s to be refused, got %v", cmd.Status, err)
		}
	}
	workflow := env.lifecycle.(returnTransitioner)
	if _, err := workflow.transitionForReturn(ctx, TransitionCommand{
		OrderID: order.ID,
		Status:  domain.OrderStatusReturnApproved,
		Actor:   "ops@example.com",
	}, returnLink{returnID: "ret_other"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected a foreign return to be refused, got %v", err)
	}
	stored, err := env.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusReturnRequested {
		t.Fatalf("expected order to stay return_requested, got %s", stored.Status)
	}
	if got := env.stockOf(t, "sku-1"); got != 10 {
		t.Fatalf("expected restored stock 10, got %d", got)
	}

	rejected, err := env.returns.Reject(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com", Reason: "tags removed"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.ReturnStatusRejected {
		t.Fatalf("expected rejected return, got %s", rejected.Status)
	}
	if got := env.stockOf(t, "sku-1"); got != 8 {
		t.Fatalf("expected stock consumed back to 8, got %d", got)
	}
}

func TestOrderRejectedStatusConsumesRestoredStock(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()

	ret, err := env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID: order.ID,
		Items:   []ReturnLine{{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew}},
		Reason:  "Changed mind",
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	closed, err := env.lifecycle.(returnTransitioner).transitionForReturn(ctx, TransitionCommand{
		OrderID: order.ID,
		Status:  domain.OrderStatusReturnRejected,
		Actor:   "ops@example.com",
	}, returnLink{returnID: ret.ID})
	if err != nil {
		t.Fatalf("transition to return_rejected: %v", err)
	}
	if closed.StockRestored {
		t.Fatalf("expected restoration marker cleared")
	}
	if got := env.stockOf(t, "sku-1"); got != 8 {
		t.Fatalf("expected stock consumed back to 8, got %d", got)
	}
	if got := env.stockOf(t, "sku-2"); got != 4 {
		t.Fatalf("expected sku-2 consumed back to 4, got %d", got)
	}
}

func TestReturnServiceRefusesSecondOpenReturn(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()

	cmd := CreateReturnCommand{
		OrderID: order.ID,
		Items:   []ReturnLine{{LineIndex: 1, Quantity: 1, Condition: domain.ItemConditionNew}},
		Reason:  "Duplicate gift",
	}
	first, err := env.returns.CreateReturnRequest(ctx, cmd)
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if _, err := env.returns.CreateReturnRequest(ctx, cmd); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected second open return to be refused, got %v", err)
	}
	page, err := env.returns.ListReturns(ctx, ReturnListFilter{OrderID: order.ID})
	if err != nil {
		t.Fatalf("list returns: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("expected only the first return, got %+v", page.Items)
	}
}

func TestOpenReturnCannotBeStrandedByDirectTransition(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()

	ret, err := env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID: order.ID,
		Items:   []ReturnLine{{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew}},
		Reason:  "Wrong colour",
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if _, err := env.lifecycle.Transition(ctx, TransitionCommand{
		OrderID: order.ID,
		Status:  domain.OrderStatusDelivered,
		Actor:   "ops@example.com",
	}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected direct revert to delivered to be refused, got %v", err)
	}

	approved, err := env.returns.Approve(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com"})
	if err != nil {
		t.Fatalf("approve after refused revert: %v", err)
	}
	if approved.Status != domain.ReturnStatusApproved {
		t.Fatalf("expected approved return, got %s", approved.Status)
	}
	stored, err := env.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusReturnApproved || stored.ReturnID != ret.ID {
		t.Fatalf("expected order held by approved return, got %s / %s", stored.Status, stored.ReturnID)
	}
}

type foreignLifecycle struct{ OrderLifecycle }

func TestNewReturnServiceRequiresOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewReturnService(ReturnServiceDeps{
		Orders:    env.store.Orders(),
		Returns:   env.store.Returns(),
		Lifecycle: foreignLifecycle{env.lifecycle},
	})
	if err == nil {
		t.Fatalf("expected a lifecycle without the return workflow hook to be rejected")
	}
}

func TestReturnServiceCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CreateReturnCommand
		want error
	}{
		{"nothing selected", CreateReturnCommand{OrderID: order.ID, Reason: "x", Items: []ReturnLine{{LineIndex: 0}}}, ErrReturnNoItemsSelected},
		{"missing reason", CreateReturnCommand{OrderID: order.ID, Items: []ReturnLine{{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew}}}, ErrReturnInvalidInput},
		{"too many", CreateReturnCommand{OrderID: order.ID, Reason: "x", Items: []ReturnLine{{LineIndex: 0, Quantity: 3, Condition: domain.ItemConditionNew}}}, ErrReturnInvalidInput},
		{"bad line", CreateReturnCommand{OrderID: order.ID, Reason: "x", Items: []ReturnLine{{LineIndex: 7, Quantity: 1, Condition: domain.ItemConditionNew}}}, ErrReturnInvalidInput},
		{"bad condition", CreateReturnCommand{OrderID: order.ID, Reason: "x", Items: []ReturnLine{{LineIndex: 0, Quantity: 1, Condition: "mint"}}}, ErrReturnInvalidInput},
		{"duplicate line", CreateReturnCommand{OrderID: order.ID, Reason: "x", Items: []ReturnLine{
			{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew},
			{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew},
		}}, ErrReturnInvalidInput},
		{"other customer", CreateReturnCommand{OrderID: order.ID, CustomerID: "cust-2", Reason: "x", Items: []ReturnLine{{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew}}}, ErrOrderForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.returns.CreateReturnRequest(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	stored, err := env.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected failed requests to leave the order delivered, got %s", stored.Status)
	}
}

func TestReturnServiceWindowExpired(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	env.clock.Advance(10 * 24 * time.Hour)
	ctx := context.Background()

	eligibility, err := env.returns.CheckEligibility(ctx, order.ID)
	if err != nil {
		t.Fatalf("check eligibility: %v", err)
	}
	if eligibility.Eligible {
		t.Fatalf("expected window closed, got %+v", eligibility)
	}
	_, err = env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID: order.ID,
		Reason:  "late",
		Items:   []ReturnLine{{LineIndex: 0, Quantity: 1, Condition: domain.ItemConditionNew}},
	})
	if !errors.Is(err, ErrReturnWindowExpired) {
		t.Fatalf("expected window expired, got %v", err)
	}
}

func TestReturnServiceActionOrderingAndListing(t *testing.T) {
	env := newTestEnv(t)
	order := env.deliveredOrder(t)
	ctx := context.Background()
	ret, err := env.returns.CreateReturnRequest(ctx, CreateReturnCommand{
		OrderID: order.ID,
		Reason:  "damaged in transit",
		Items:   []ReturnLine{{LineIndex: 1, Quantity: 1, Condition: domain.ItemConditionDamaged}},
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	if _, err := env.returns.MarkReceived(ctx, ReturnActionCommand{ReturnID: ret.ID, Actor: "admin@example.com"}); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected out of order action to fail, got %v", err)
	}
	if _, err := env.returns.SchedulePickup(ctx, SchedulePickupCommand{ReturnID: ret.ID, Actor: "admin@example.com"}); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected pickup date to be required, got %v", err)
	}
	if _, err := env.returns.ProcessRefund(ctx, RefundCommand{ReturnID: ret.ID, Actor: "admin@example.com"}); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected refund method to be required, got %v", err)
	}
	if _, err := env.returns.Approve(ctx, ReturnActionCommand{ReturnID: "ret_missing", Actor: "admin@example.com"}); !errors.Is(err, ErrReturnNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	page, err := env.returns.ListReturns(ctx, ReturnListFilter{Statuses: []ReturnStatus{domain.ReturnStatusPendingApproval}})
	if err != nil {
		t.Fatalf("list returns: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != ret.ID {
		t.Fatalf("expected pending return listed, got %+v", page.Items)
	}
	if _, err := env.returns.ListReturns(ctx, ReturnListFilter{Statuses: []ReturnStatus{"lost"}}); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected invalid status error, got %v", err)
	}

	types := env.events.types()
	if types[len(types)-1] != EventReturnRequested {
		t.Fatalf("expected return.requested as last event, got %v", types)
	}
}
