package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/events"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
	reposfirestore "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/memory"
)

const dependencyCheckTimeout = 2 * time.Second

// OpenRegistry selects the persistence backend named by cfg.Store.Backend. extraChecks are reported by the
// registry's health repository next to the store's own probe.
func OpenRegistry(cfg config.Config, provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (repositories.Registry, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case config.StoreBackendMemory:
		return memory.NewStore(memory.WithHealthChecks(extraChecks...)), nil
	case config.StoreBackendFirestore, "":
		if provider == nil {
			provider = pfirestore.NewProvider(cfg.Firestore)
		}
		reg, err := reposfirestore.NewRegistry(provider, extraChecks...)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// Messaging holds the Pub/Sub publisher and the resources it owns.
type Messaging struct {
	Publisher *events.PubSubPublisher
	Check     repositories.DependencyCheck

	client *pubsub.Client
}

// NewMessaging connects the order events topic. It returns nil without error when no topic is configured.
func NewMessaging(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*Messaging, error) {
	topicID := strings.TrimSpace(cfg.OrderEventsTopic)
	if topicID == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required when an order events topic is set")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	publisher, err := events.NewPubSubPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}

	return &Messaging{
		Publisher: publisher,
		Check: repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: dependencyCheckTimeout,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicID)
				}
				return nil
			},
		},
		client: client,
	}, nil
}

// Close flushes pending messages and releases the client.
func (m *Messaging) Close(context.Context) error {
	if m == nil {
		return nil
	}
	if m.Publisher != nil {
		m.Publisher.Stop()
	}
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// ExportStorage holds the Cloud Storage exporter used by statistics exports.
type ExportStorage struct {
	Exporter *storage.Exporter

	client *gcs.Client
}

// NewExportStorage opens the exports bucket. It returns nil without error when no bucket is configured.
func NewExportStorage(ctx context.Context, cfg config.StorageConfig, opts ...option.ClientOption) (*ExportStorage, error) {
	bucket := strings.TrimSpace(cfg.ExportsBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	exporter, err := storage.NewExporter(client, bucket, cfg.ExportPrefix)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage exporter: %w", err)
	}
	return &ExportStorage{Exporter: exporter, client: client}, nil
}

// Close releases the storage client.
func (s *ExportStorage) Close(context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
