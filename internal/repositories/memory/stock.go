package memory

import (
	"context"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type stockRepository struct {
	s *Store
}

func (r stockRepository) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	var out domain.StockRecord
	err := r.s.do(ctx, func(*journal) error {
		record, ok := r.s.stock[productID]
		if !ok {
			return notFound("stock.get", "product %s not found", productID)
		}
		out = record
		return nil
	})
	return out, err
}

func (r stockRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.StockRecord, error) {
	out := make(map[string]domain.StockRecord, len(productIDs))
	err := r.s.do(ctx, func(*journal) error {
		for _, id := range productIDs {
			if record, ok := r.s.stock[id]; ok {
				out[id] = record
			}
		}
		return nil
	})
	return out, err
}

func (r stockRepository) Set(ctx context.Context, record domain.StockRecord) error {
	id := strings.TrimSpace(record.ProductID)
	if id == "" {
		return conflict("stock.set", "product id is required")
	}
	if record.Quantity < 0 {
		record.Quantity = 0
	}
	record.ProductID = id
	return r.s.do(ctx, func(j *journal) error {
		r.s.putStock(j, record)
		return nil
	})
}

func (r stockRepository) AdjustMany(ctx context.Context, deltas []repositories.StockDelta, now time.Time) ([]repositories.StockAdjustment, error) {
	results := make([]repositories.StockAdjustment, 0, len(deltas))
	err := r.s.do(ctx, func(j *journal) error {
		for _, delta := range deltas {
			record, ok := r.s.stock[delta.ProductID]
			if !ok {
				results = append(results, repositories.StockAdjustment{ProductID: delta.ProductID, Delta: delta.Delta})
				continue
			}
			adjustment := repositories.StockAdjustment{
				ProductID: delta.ProductID,
				Delta:     delta.Delta,
				Before:    record.Quantity,
				After:     domain.ApplyStockDelta(record.Quantity, delta.Delta),
				Found:     true,
			}
			if adjustment.After != adjustment.Before {
				record.Quantity = adjustment.After
				record.UpdatedAt = now.UTC()
				r.s.putStock(j, record)
			}
			results = append(results, adjustment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) putStock(j *journal, record domain.StockRecord) {
	prev, existed := s.stock[record.ProductID]
	s.stock[record.ProductID] = record
	j.record(func() {
		if existed {
			s.stock[prev.ProductID] = prev
			return
		}
		delete(s.stock, record.ProductID)
	})
}
