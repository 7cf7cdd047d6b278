package services

import (
	"context"
	"errors"
	"testing"
)

func TestStockLedgerAdjustClampsAndSkipsUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 2)
	ctx := context.Background()

	results, err := env.stock.AdjustMany(ctx, []StockDelta{
		{ProductID: "sku-1", Delta: -5},
		{ProductID: "sku-404", Delta: 3},
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	if results[0].Before != 2 || results[0].After != 0 || !results[0].Found {
		t.Fatalf("expected clamp to zero, got %+v", results[0])
	}
	if results[1].Found {
		t.Fatalf("expected unknown product to be reported, got %+v", results[1])
	}
	if _, err := env.stock.Get(ctx, "sku-404"); !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("expected unknown product not to be created, got %v", err)
	}
	if env.metrics.consumed != 2 {
		t.Fatalf("expected 2 units consumed, got %d", env.metrics.consumed)
	}
}

func TestStockLedgerCheckAvailabilitySumsLines(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(t, "sku-1", 3)
	ctx := context.Background()

	result, err := env.stock.CheckAvailability(ctx, []StockRequest{
		{ProductID: "sku-1", Name: "Kurta", Quantity: 2},
		{ProductID: "sku-1", Name: "Kurta", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Valid || len(result.Errors) != 1 || result.Errors[0] != "Only 3 of Kurta available, 4 requested" {
		t.Fatalf("unexpected availability %+v", result)
	}

	result, err = env.stock.CheckAvailability(ctx, []StockRequest{{ProductID: "sku-1", Quantity: 3}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected exact stock to be available, got %+v", result)
	}
	if _, err := env.stock.CheckAvailability(ctx, nil); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected invalid input for empty request, got %v", err)
	}
}

func TestStockLedgerSetRejectsNegative(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stock.Set(context.Background(), SetStockCommand{ProductID: "sku-1", Quantity: -1}); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	record, err := env.stock.Set(context.Background(), SetStockCommand{ProductID: "sku-1", Quantity: 7})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if record.Quantity != 7 || record.UpdatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", record)
	}
}
