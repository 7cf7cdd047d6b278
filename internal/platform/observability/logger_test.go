package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

func TestServiceLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logFn := ServiceLogger(zap.New(core), "orders")

	logFn(context.Background(), "order.transitioned", map[string]any{"orderID": "ord_1"})
	logFn(context.Background(), "stock.adjust_skipped", map[string]any{"error": errors.New("unknown product").Error()})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info got %s", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn got %s", entries[1].Level)
	}
	if entries[0].LoggerName != "orders" {
		t.Fatalf("expected logger name orders got %q", entries[0].LoggerName)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)

	logFn := ServiceLogger(zap.New(baseCore), "returns")
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logFn(ctx, "return.created", nil)

	if baseLogs.Len() != 0 {
		t.Fatalf("expected base logger unused")
	}
	if reqLogs.Len() != 1 {
		t.Fatalf("expected request logger entry")
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
}
