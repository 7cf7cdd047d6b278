package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestOrderServiceCreateOrderComputesTotalsBelowFreeShipping(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 10)

	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 2, UnitPrice: 2000})

	want := OrderTotals{Subtotal: 4000, Tax: 400, Shipping: 500, Discount: 0, Total: 4900}
	if order.Totals != want {
		t.Fatalf("expected totals %+v, got %+v", want, order.Totals)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.OrderNumber != "ORD-2026-000000001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if order.Payment.Method != domain.PaymentMethodCOD || order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment %+v", order.Payment)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != domain.OrderStatusPending {
		t.Fatalf("expected initial history entry, got %+v", order.StatusHistory)
	}
	if order.ShippingAddress.Country != "IN" {
		t.Fatalf("expected upper-cased country, got %q", order.ShippingAddress.Country)
	}
	if got := env.stockOf(t, "sku-1"); got != 8 {
		t.Fatalf("expected stock decremented to 8, got %d", got)
	}
	if !order.StockCommitted {
		t.Fatalf("expected stock committed marker")
	}
	if types := env.events.types(); len(types) != 1 || types[0] != EventOrderCreated {
		t.Fatalf("expected order.created event, got %v", types)
	}
	if env.metrics.created != 1 {
		t.Fatalf("expected created metric, got %d", env.metrics.created)
	}
}

func TestOrderServiceCreateOrderAppliesFixedPromotion(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 10)
	ctx := context.Background()
	if _, err := env.discounts.Upsert(ctx, UpsertPromotionCommand{
		Code:           "flat50",
		Type:           domain.DiscountTypeFixed,
		Value:          50,
		MinOrderAmount: 200,
		Active:         true,
	}); err != nil {
		t.Fatalf("upsert promotion: %v", err)
	}

	order, err := env.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerID:      "cust-1",
		Items:           []CartLine{{ProductID: "sku-1", Name: "Saree", Quantity: 3, UnitPrice: 2000}},
		ShippingAddress: testAddress(),
		PromoCode:       "FLAT50",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	want := OrderTotals{Subtotal: 6000, Tax: 600, Shipping: 0, Discount: 50, Total: 6550}
	if order.Totals != want {
		t.Fatalf("expected totals %+v, got %+v", want, order.Totals)
	}
	if order.Promotion == nil || order.Promotion.Code != "FLAT50" || order.Promotion.DiscountAmount != 50 {
		t.Fatalf("unexpected applied promotion %+v", order.Promotion)
	}
	promo, err := env.discounts.Get(ctx, "flat50")
	if err != nil {
		t.Fatalf("get promotion: %v", err)
	}
	if promo.UsedCount != 1 {
		t.Fatalf("expected promotion redeemed once, got %d", promo.UsedCount)
	}
}

func TestOrderServiceCreateOrderReportsEveryShortage(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 1)

	_, err := env.orders.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items: []CartLine{
			{ProductID: "sku-1", Name: "Kurta", Quantity: 2, UnitPrice: 1000},
			{ProductID: "sku-9", Name: "Stole", Quantity: 1, UnitPrice: 500},
		},
		ShippingAddress: testAddress(),
	})
	if !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var shortage *StockShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected StockShortageError, got %T", err)
	}
	want := []string{"Only 1 of Kurta available, 2 requested", "Stole is not available"}
	if len(shortage.Messages) != len(want) {
		t.Fatalf("expected %v, got %v", want, shortage.Messages)
	}
	for i := range want {
		if shortage.Messages[i] != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], shortage.Messages[i])
		}
	}
	if got := env.stockOf(t, "sku-1"); got != 1 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
	if len(env.events.types()) != 0 {
		t.Fatalf("expected no events for failed checkout")
	}
}

func TestOrderServiceCreateOrderRollsBackOnIneligiblePromotion(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 5)

	_, err := env.orders.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:      "cust-1",
		Items:           []CartLine{{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 1000}},
		ShippingAddress: testAddress(),
		PromoCode:       "NOPE",
	})
	var ineligible *PromotionIneligibleError
	if !errors.As(err, &ineligible) || ineligible.Reason != PromotionReasonNotFound {
		t.Fatalf("expected not_found ineligibility, got %v", err)
	}
	if got := env.stockOf(t, "sku-1"); got != 5 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
	page, err := env.orders.ListOrders(context.Background(), OrderListFilter{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected no persisted orders, got %d", len(page.Items))
	}
}

func TestOrderServiceCheckOnlyStockLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t, func(deps *OrderServiceDeps) { deps.CheckOnlyStock = true })
	env.setStock(t, "sku-1", 3)

	order := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 2, UnitPrice: 1000})
	if order.StockCommitted {
		t.Fatalf("expected stock not committed")
	}
	if got := env.stockOf(t, "sku-1"); got != 3 {
		t.Fatalf("expected stock untouched, got %d", got)
	}

	env.advance(t, order.ID, domain.OrderStatusCancelled)
	if got := env.stockOf(t, "sku-1"); got != 3 {
		t.Fatalf("expected cancel to leave uncommitted stock alone, got %d", got)
	}
}

func TestOrderServiceCreateOrderValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 3)

	cases := map[string]CreateOrderCommand{
		"no items": {CustomerID: "cust-1", ShippingAddress: testAddress()},
		"no customer": {
			Items:           []CartLine{{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 100}},
			ShippingAddress: testAddress(),
		},
		"zero quantity": {
			CustomerID:      "cust-1",
			Items:           []CartLine{{ProductID: "sku-1", Name: "Kurta", Quantity: 0, UnitPrice: 100}},
			ShippingAddress: testAddress(),
		},
		"missing city": {
			CustomerID:      "cust-1",
			Items:           []CartLine{{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 100}},
			ShippingAddress: Address{Recipient: "A", Line1: "1 Road", PostalCode: "1"},
		},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := env.orders.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestOrderServiceListOrdersFiltersAndRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 10)
	first := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 1000})
	env.clock.Advance(1)
	second := env.placeOrder(t, CartLine{ProductID: "sku-1", Name: "Kurta", Quantity: 1, UnitPrice: 1000})
	env.advance(t, second.ID, domain.OrderStatusConfirmed)

	ctx := context.Background()
	page, err := env.orders.ListOrders(ctx, OrderListFilter{Statuses: []OrderStatus{domain.OrderStatusPending}})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("expected only the pending order, got %+v", page.Items)
	}

	if _, err := env.orders.ListOrders(ctx, OrderListFilter{Statuses: []OrderStatus{"lost"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
	if _, err := env.orders.ListOrders(ctx, OrderListFilter{Pagination: Pagination{PageToken: "%%%"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid page token error, got %v", err)
	}
	if _, err := env.orders.GetOrder(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFormatOrderNumberSortsPastSixDigits(t *testing.T) {
	year := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seqs := []int64{999999, 1000000, 123456789}
	for i := 1; i < len(seqs); i++ {
		prev := formatOrderNumber("ORD", year, seqs[i-1])
		next := formatOrderNumber("ORD", year, seqs[i])
		if prev >= next {
			t.Fatalf("expected %s to sort before %s", prev, next)
		}
	}
	if got := formatOrderNumber("ORD", year, 1000000); got != "ORD-2026-001000000" {
		t.Fatalf("unexpected order number %q", got)
	}
}
