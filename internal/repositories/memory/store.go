// Package memory provides an in-process repository registry used for local development and tests.
// Every write is serialised through one mutex; UnitOfWork transactions hold it for their whole
// duration and undo their writes when fn fails.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for health reports.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHealthChecks adds dependency probes reported by Health().Collect.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(s *Store) {
		s.checks = append(s.checks, checks...)
	}
}

// Store keeps every collection in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	orders     map[string]domain.Order
	byCustomer map[string]map[string]struct{}
	byStatus   map[domain.OrderStatus]map[string]struct{}
	byToken    map[string]map[string]struct{}

	stock      map[string]domain.StockRecord
	promotions map[string]domain.Promotion
	returns    map[string]domain.ReturnRequest
	counters   map[string]int64
	auditLogs  []domain.AuditLogEntry

	now    func() time.Time
	checks []repositories.DependencyCheck
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		orders:     make(map[string]domain.Order),
		byCustomer: make(map[string]map[string]struct{}),
		byStatus:   make(map[domain.OrderStatus]map[string]struct{}),
		byToken:    make(map[string]map[string]struct{}),
		stock:      make(map[string]domain.StockRecord),
		promotions: make(map[string]domain.Promotion),
		returns:    make(map[string]domain.ReturnRequest),
		counters:   make(map[string]int64),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s} }
func (s *Store) Stock() repositories.StockRepository          { return stockRepository{s} }
func (s *Store) Promotions() repositories.PromotionRepository { return promotionRepository{s} }
func (s *Store) Returns() repositories.ReturnRepository       { return returnRepository{s} }
func (s *Store) Counters() repositories.CounterRepository     { return counterRepository{s} }
func (s *Store) AuditLogs() repositories.AuditLogRepository   { return auditLogRepository{s} }

func (s *Store) Health() repositories.HealthRepository {
	checks := append([]repositories.DependencyCheck{{
		Name:  "store",
		Check: func(context.Context) error { return nil },
	}}, s.checks...)
	return repositories.NewDependencyHealthRepository(checks, s.now)
}

type txKey struct{ store *Store }

// journal records undo steps for the writes of one transaction.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// RunInTx runs fn while holding the store lock. Nested calls with the transaction context join
// the outer transaction. Writes are undone when fn returns an error or panics.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := s.txFromContext(ctx); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{store: s}, j)); err != nil {
		j.rollback()
	}
	return err
}

func (s *Store) txFromContext(ctx context.Context) (*journal, bool) {
	j, ok := ctx.Value(txKey{store: s}).(*journal)
	return j, ok && j != nil
}

// do runs fn with the store locked, reusing the open transaction of ctx when there is one.
func (s *Store) do(ctx context.Context, fn func(j *journal) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j, ok := s.txFromContext(ctx); ok {
		return fn(j)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &journal{}
	if err := fn(j); err != nil {
		j.rollback()
		return err
	}
	return nil
}

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
)

// Error implements repositories.RepositoryError for the memory store.
type Error struct {
	op   string
	kind errorKind
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("memory %s: %s", e.op, e.msg)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, kind: kindNotFound, msg: fmt.Sprintf(format, args...)}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, kind: kindConflict, msg: fmt.Sprintf(format, args...)}
}

func addToIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
