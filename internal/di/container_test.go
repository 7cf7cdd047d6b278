package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/services"
)

func testConfig() config.Config {
	return config.Config{
		Store: config.StoreConfig{Backend: config.StoreBackendMemory},
		Orders: config.OrderConfig{
			NumberPrefix:           "ORD",
			TaxRateBasisPoints:     1000,
			FreeShippingThreshold:  5000,
			FlatShippingFee:        500,
			ReturnWindow:           7 * 24 * time.Hour,
			DecrementStockOnCreate: true,
		},
	}
}

type closeRecorder struct {
	calls []string
}

func (r *closeRecorder) hook(name string) func(context.Context) error {
	return func(context.Context) error {
		r.calls = append(r.calls, name)
		return nil
	}
}

func TestNewContainerWiresServicesOnMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()

	reg, err := OpenRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	recorder := &closeRecorder{}
	container, err := NewContainer(ctx, cfg, reg,
		WithClock(func() time.Time { return now }),
		WithCloser(recorder.hook("first")),
		WithCloser(recorder.hook("second")),
	)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if _, err := container.Services.Stock.Set(ctx, services.SetStockCommand{ProductID: "prod-1", Quantity: 5}); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	order, err := container.Services.Orders.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:    "user-1",
		CustomerName:  "Asha Rao",
		CustomerEmail: "asha@example.com",
		Items: []services.CartLine{{
			ProductID: "prod-1",
			SKU:       "sku-1",
			Name:      "Teapot",
			Quantity:  2,
			UnitPrice: 1500,
		}},
		ShippingAddress: services.Address{
			Recipient:  "Asha Rao",
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			PostalCode: "560001",
			Country:    "in",
		},
		Actor: "user-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderNumber != "ORD-2026-000000001" {
		t.Fatalf("expected first order number, got %q", order.OrderNumber)
	}
	if order.Totals.Total != 3800 {
		t.Fatalf("expected total 3800, got %d", order.Totals.Total)
	}
	record, err := container.Services.Stock.Get(ctx, "prod-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if record.Quantity != 3 {
		t.Fatalf("expected stock decremented to 3, got %d", record.Quantity)
	}

	if err := container.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if strings.Join(recorder.calls, ",") != "second,first" {
		t.Fatalf("expected closers in reverse order, got %v", recorder.calls)
	}
}

func TestNewContainerCheckOnlyStockWhenDecrementDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Orders.DecrementStockOnCreate = false

	store := memory.NewStore()
	container, err := NewContainer(ctx, cfg, store)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if _, err := container.Services.Stock.Set(ctx, services.SetStockCommand{ProductID: "prod-1", Quantity: 5}); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	_, err = container.Services.Orders.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:    "user-1",
		CustomerName:  "Asha Rao",
		CustomerEmail: "asha@example.com",
		Items:         []services.CartLine{{ProductID: "prod-1", Name: "Teapot", Quantity: 2, UnitPrice: 1500}},
		ShippingAddress: services.Address{
			Recipient:  "Asha Rao",
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			PostalCode: "560001",
			Country:    "in",
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	record, err := container.Services.Stock.Get(ctx, "prod-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if record.Quantity != 5 {
		t.Fatalf("expected stock untouched, got %d", record.Quantity)
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestOpenRegistryRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "postgres"
	if _, err := OpenRegistry(cfg, nil); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestOptionalInfrastructureDisabledWithoutConfig(t *testing.T) {
	ctx := context.Background()
	messaging, err := NewMessaging(ctx, config.PubSubConfig{ProjectID: "test-project"})
	if err != nil || messaging != nil {
		t.Fatalf("expected messaging disabled, got %v %v", messaging, err)
	}
	exports, err := NewExportStorage(ctx, config.StorageConfig{})
	if err != nil || exports != nil {
		t.Fatalf("expected exports disabled, got %v %v", exports, err)
	}
	if err := messaging.Close(ctx); err != nil {
		t.Fatalf("nil messaging close: %v", err)
	}
	if err := exports.Close(ctx); err != nil {
		t.Fatalf("nil exports close: %v", err)
	}
}

func TestNewMessagingReportsTopicHealth(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}

	messaging, err := NewMessaging(ctx, config.PubSubConfig{ProjectID: "test-project", OrderEventsTopic: "order-events"}, opts...)
	if err != nil {
		t.Fatalf("NewMessaging: %v", err)
	}
	defer func() {
		_ = messaging.Close(ctx)
	}()

	if err := messaging.Check.Check(ctx); err == nil {
		t.Fatalf("expected missing topic to fail the check")
	}

	admin, err := pubsub.NewClient(ctx, "test-project", opts...)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = admin.Close()
	}()
	if _, err := admin.CreateTopic(ctx, "order-events"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if err := messaging.Check.Check(ctx); err != nil {
		t.Fatalf("expected topic check to pass, got %v", err)
	}
	if messaging.Check.Name != "pubsub" {
		t.Fatalf("unexpected check name %q", messaging.Check.Name)
	}
}

func TestNewMessagingRequiresProject(t *testing.T) {
	_, err := NewMessaging(context.Background(), config.PubSubConfig{OrderEventsTopic: "order-events"})
	if err == nil {
		t.Fatalf("expected error without project id")
	}
}
