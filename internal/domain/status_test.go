package domain

import (
	"slices"
	"testing"
)

func TestCanTransitionMatchesAdjacency(t *testing.T) {
	for _, from := range AllOrderStatuses {
		allowed := AllowedNextStatuses(from)
		for _, to := range AllOrderStatuses {
			want := slices.Contains(allowed, to)
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
		if from.IsTerminal() && len(allowed) != 0 {
			t.Fatalf("terminal status %s has outgoing edges %v", from, allowed)
		}
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	if CanTransition(OrderStatusPending, OrderStatusShipped) {
		t.Fatalf("pending must not skip to shipped")
	}
	if CanTransition(OrderStatusPending, OrderStatusPending) {
		t.Fatalf("self transitions are not part of the graph")
	}
	if CanTransition(OrderStatusShipped, OrderStatusCancelled) {
		t.Fatalf("shipped orders cannot be cancelled")
	}
}

func TestAllowedNextStatusesReturnsCopy(t *testing.T) {
	next := AllowedNextStatuses(OrderStatusPending)
	next[0] = OrderStatusRefunded
	if !CanTransition(OrderStatusPending, OrderStatusConfirmed) {
		t.Fatalf("mutating the returned slice changed the table")
	}
}

func TestStockEffectFor(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     StockEffect
	}{
		{OrderStatusPending, OrderStatusConfirmed, StockEffectNone},
		{OrderStatusPending, OrderStatusCancelled, StockEffectRestore},
		{OrderStatusProcessing, OrderStatusCancelled, StockEffectRestore},
		{OrderStatusShipped, OrderStatusDelivered, StockEffectNone},
		{OrderStatusShipped, OrderStatusReturned, StockEffectNone},
		{OrderStatusDelivered, OrderStatusReturned, StockEffectRestore},
		{OrderStatusDelivered, OrderStatusReturnRequested, StockEffectRestore},
		{OrderStatusReturnRequested, OrderStatusReturnApproved, StockEffectNone},
		{OrderStatusReturnReceived, OrderStatusRefunded, StockEffectRestore},
		{OrderStatusReturned, OrderStatusRefunded, StockEffectRestore},
		{OrderStatusReturnRequested, OrderStatusDelivered, StockEffectConsume},
		{OrderStatusReturnRequested, OrderStatusReturnRejected, StockEffectConsume},
	}
	for _, tc := range cases {
		if got := StockEffectFor(tc.from, tc.to); got != tc.want {
			t.Fatalf("StockEffectFor(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRequiresReturnRequest(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusDelivered, OrderStatusReturnRequested, true},
		{OrderStatusReturnRequested, OrderStatusDelivered, true},
		{OrderStatusReturnRequested, OrderStatusReturnRejected, true},
		{OrderStatusReturnPickedUp, OrderStatusReturnReceived, true},
		{OrderStatusReturnReceived, OrderStatusRefunded, true},
		{OrderStatusDelivered, OrderStatusReturned, false},
		{OrderStatusShipped, OrderStatusReturned, false},
		{OrderStatusReturned, OrderStatusRefunded, false},
		{OrderStatusProcessing, OrderStatusCancelled, false},
	}
	for _, tc := range cases {
		if got := RequiresReturnRequest(tc.from, tc.to); got != tc.want {
			t.Fatalf("RequiresReturnRequest(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransitionReturn(t *testing.T) {
	if !CanTransitionReturn(ReturnStatusPendingApproval, ReturnStatusRejected) {
		t.Fatalf("pending approval should allow rejection")
	}
	if CanTransitionReturn(ReturnStatusApproved, ReturnStatusRejected) {
		t.Fatalf("rejection is only allowed from pending approval")
	}
	if CanTransitionReturn(ReturnStatusApproved, ReturnStatusReceived) {
		t.Fatalf("received requires pickup first")
	}
}
