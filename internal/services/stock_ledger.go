package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/repositories"
)

// StockLedgerDeps bundles collaborators required to construct the stock ledger.
type StockLedgerDeps struct {
	Stock      repositories.StockRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     Logger
	Metrics    Metrics
	Audit      AuditLogService
}

type stockLedger struct {
	stock      repositories.StockRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     Logger
	metrics    Metrics
	audit      AuditLogService
}

// NewStockLedger wires the stock ledger.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	audit := deps.Audit
	if audit == nil {
		audit = noopAuditLog{}
	}
	return &stockLedger{
		stock:      deps.Stock,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		metrics: metrics,
		audit:   audit,
	}, nil
}

// Adjust applies delta to one product. Unknown products are reported with Found=false and logged.
func (s *stockLedger) Adjust(ctx context.Context, productID string, delta int) (StockAdjustment, error) {
	results, err := s.AdjustMany(ctx, []StockDelta{{ProductID: productID, Delta: delta}})
	if err != nil {
		return StockAdjustment{}, err
	}
	return results[0], nil
}

func (s *stockLedger) AdjustMany(ctx context.Context, deltas []StockDelta) ([]StockAdjustment, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	normalised := make([]StockDelta, 0, len(deltas))
	for _, d := range deltas {
		id := strings.TrimSpace(d.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
		}
		normalised = append(normalised, StockDelta{ProductID: id, Delta: d.Delta})
	}

	results, err := s.stock.AdjustMany(ctx, normalised, s.clock())
	if err != nil {
		return nil, mapRepositoryError(err, ErrStockNotFound, ErrStockInvalidInput)
	}

	for _, adj := range results {
		if !adj.Found {
			s.logger(ctx, "stock.adjust.unknown_product", map[string]any{
				"productId": adj.ProductID,
				"delta":     adj.Delta,
			})
			continue
		}
		switch moved := adj.After - adj.Before; {
		case moved > 0:
			s.metrics.StockAdjusted(ctx, "restore", moved)
		case moved < 0:
			s.metrics.StockAdjusted(ctx, "consume", -moved)
		}
		if adj.Before+adj.Delta < 0 {
			s.logger(ctx, "stock.adjust.clamped", map[string]any{
				"productId": adj.ProductID,
				"before":    adj.Before,
				"delta":     adj.Delta,
			})
		}
	}
	return results, nil
}

// CheckAvailability reports every product whose stock cannot cover the requested quantity. Lines
// for the same product are summed first.
func (s *stockLedger) CheckAvailability(ctx context.Context, items []StockRequest) (AvailabilityResult, error) {
	if len(items) == 0 {
		return AvailabilityResult{}, fmt.Errorf("%w: at least one item is required", ErrStockInvalidInput)
	}

	type need struct {
		name     string
		quantity int
	}
	var order []string
	needs := make(map[string]*need)
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return AvailabilityResult{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
		}
		if item.Quantity <= 0 {
			return AvailabilityResult{}, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, id)
		}
		n, ok := needs[id]
		if !ok {
			n = &need{name: displayName(item.Name, id)}
			needs[id] = n
			order = append(order, id)
		}
		n.quantity += item.Quantity
	}

	records, err := s.stock.GetMany(ctx, order)
	if err != nil {
		return AvailabilityResult{}, mapRepositoryError(err, ErrStockNotFound, ErrStockInvalidInput)
	}

	result := AvailabilityResult{Valid: true}
	for _, id := range order {
		n := needs[id]
		record, ok := records[id]
		switch {
		case !ok:
			result.Errors = append(result.Errors, fmt.Sprintf("%s is not available", n.name))
		case record.Quantity < n.quantity:
			result.Errors = append(result.Errors, fmt.Sprintf("Only %d of %s available, %d requested", record.Quantity, n.name, n.quantity))
		}
	}
	result.Valid = len(result.Errors) == 0
	return result, nil
}

func (s *stockLedger) Get(ctx context.Context, productID string) (StockRecord, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return StockRecord{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	record, err := s.stock.Get(ctx, id)
	if err != nil {
		return StockRecord{}, mapRepositoryError(err, ErrStockNotFound, ErrStockInvalidInput)
	}
	return record, nil
}

// Set overwrites the stored quantity, used for seeding and physical recounts. The previous
// quantity is read in the same unit of work so the audit entry carries an exact diff.
func (s *stockLedger) Set(ctx context.Context, cmd SetStockCommand) (StockRecord, error) {
	id := strings.TrimSpace(cmd.ProductID)
	if id == "" {
		return StockRecord{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.Quantity < 0 {
		return StockRecord{}, fmt.Errorf("%w: quantity must not be negative", ErrStockInvalidInput)
	}
	actor := firstNonEmpty(cmd.Actor, systemActor)
	record := StockRecord{ProductID: id, Quantity: cmd.Quantity, UpdatedAt: s.clock()}
	var before any
	err := runInTx(ctx, s.unitOfWork, func(ctx context.Context) error {
		before = nil
		previous, err := s.stock.Get(ctx, id)
		switch {
		case err == nil:
			before = previous.Quantity
		case !isNotFound(err):
			return mapRepositoryError(err, ErrStockNotFound, ErrStockInvalidInput)
		}
		if err := s.stock.Set(ctx, record); err != nil {
			return mapRepositoryError(err, ErrStockNotFound, ErrStockInvalidInput)
		}
		afterCommit(ctx, func(ctx context.Context) {
			s.audit.Record(ctx, AuditLogRecord{
				Actor:     actor,
				Action:    AuditActionStockSet,
				TargetRef: stockTargetRef(id),
				Metadata:  auditReason(cmd.Reason),
				Diff:      map[string]AuditLogDiff{"quantity": {Before: before, After: cmd.Quantity}},
			})
		})
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.logger(ctx, "stock.set", map[string]any{"productId": id, "quantity": cmd.Quantity, "actor": actor})
	return record, nil
}

// Correct applies a manual delta for staff. Unknown products are reported with Found=false and
// leave no audit entry because nothing changed.
func (s *stockLedger) Correct(ctx context.Context, cmd StockCorrectionCommand) (StockAdjustment, error) {
	adj, err := s.Adjust(ctx, cmd.ProductID, cmd.Delta)
	if err != nil {
		return StockAdjustment{}, err
	}
	if !adj.Found {
		return adj, nil
	}
	severity := defaultAuditSeverity
	if adj.Before+adj.Delta < 0 {
		severity = "warn"
	}
	metadata := auditReason(cmd.Reason)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["delta"] = adj.Delta
	s.audit.Record(ctx, AuditLogRecord{
		Actor:     firstNonEmpty(cmd.Actor, systemActor),
		Action:    AuditActionStockCorrect,
		TargetRef: stockTargetRef(adj.ProductID),
		Severity:  severity,
		Metadata:  metadata,
		Diff:      map[string]AuditLogDiff{"quantity": {Before: adj.Before, After: adj.After}},
	})
	return adj, nil
}

func stockTargetRef(productID string) string {
	return "/stock/" + productID
}

func auditReason(reason string) map[string]any {
	if reason = strings.TrimSpace(reason); reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}

func displayName(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}
