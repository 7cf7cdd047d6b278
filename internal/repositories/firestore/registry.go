// Package firestore implements the repository interfaces on Cloud Firestore.
//
// Repositories join the transaction opened by the platform UnitOfWork when one is present in the
// context. Firestore rejects reads issued after the first write of a transaction, so inside a
// transaction Update and Insert only write: the caller's earlier read of the same document is what
// guards against concurrent modification, because Firestore aborts the commit when a document in
// the read set changed.
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	ordersCollection     = "orders"
	stockCollection      = "stock"
	promotionsCollection = "promotions"
	returnsCollection    = "returns"
	countersCollection   = "counters"
	auditLogsCollection  = "auditLogs"
)

// Registry wires every Firestore repository onto one provider.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork

	orders     *OrderRepository
	stock      *StockRepository
	promotions *PromotionRepository
	returns    *ReturnRepository
	counters   *CounterRepository
	auditLogs  *AuditLogRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore registry. extraChecks are reported alongside the
// Firestore probe by Health().Collect.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires firestore provider")
	}
	uow := pfirestore.NewUnitOfWork(provider)
	base := store{provider: provider, uow: uow}

	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check:   base.ping,
	}}, extraChecks...)

	return &Registry{
		provider:   provider,
		uow:        uow,
		orders:     &OrderRepository{store: base},
		stock:      &StockRepository{store: base},
		promotions: &PromotionRepository{store: base},
		returns:    &ReturnRepository{store: base},
		counters:   &CounterRepository{store: base},
		auditLogs:  &AuditLogRepository{store: base},
		health:     repositories.NewDependencyHealthRepository(checks, time.Now),
	}, nil
}

func (r *Registry) Close(context.Context) error { return r.provider.Close() }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Stock() repositories.StockRepository          { return r.stock }
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }
func (r *Registry) Returns() repositories.ReturnRepository       { return r.returns }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) AuditLogs() repositories.AuditLogRepository   { return r.auditLogs }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// store holds the helpers shared by every repository.
type store struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork
}

func (s store) collection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

func (s store) doc(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// get reads ref through the open transaction when there is one.
func (s store) get(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func (s store) getAll(ctx context.Context, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.GetAll(refs)
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.GetAll(ctx, refs)
}

func (s store) create(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

func (s store) set(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

func (s store) ping(ctx context.Context) error {
	coll, err := s.collection(ctx, countersCollection)
	if err != nil {
		return err
	}
	iter := coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}
