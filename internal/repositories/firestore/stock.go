package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

type stockDocument struct {
	Quantity  int       `firestore:"quantity"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// StockRepository implements repositories.StockRepository with one document per product.
type StockRepository struct {
	store
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	ref, err := r.doc(ctx, stockCollection, productID)
	if err != nil {
		return domain.StockRecord{}, pfirestore.WrapError("stock.get", err)
	}
	snap, err := r.get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.StockRecord{}, pfirestore.NotFound("stock.get", fmt.Errorf("product %s not found", productID))
		}
		return domain.StockRecord{}, pfirestore.WrapError("stock.get", err)
	}
	return decodeStock(snap)
}

func (r *StockRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.StockRecord, error) {
	refs, err := r.refs(ctx, productIDs)
	if err != nil {
		return nil, pfirestore.WrapError("stock.get_many", err)
	}
	snaps, err := r.getAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("stock.get_many", err)
	}
	out := make(map[string]domain.StockRecord, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		record, err := decodeStock(snap)
		if err != nil {
			return nil, err
		}
		out[record.ProductID] = record
	}
	return out, nil
}

func (r *StockRepository) Set(ctx context.Context, record domain.StockRecord) error {
	id := strings.TrimSpace(record.ProductID)
	if id == "" {
		return errors.New("stock.set: product id is required")
	}
	ref, err := r.doc(ctx, stockCollection, id)
	if err != nil {
		return pfirestore.WrapError("stock.set", err)
	}
	doc := stockDocument{Quantity: max(record.Quantity, 0), UpdatedAt: record.UpdatedAt.UTC()}
	return pfirestore.WrapError("stock.set", r.set(ctx, ref, doc))
}

// AdjustMany reads every referenced product before writing any of them so it can run inside a
// caller's transaction ahead of that transaction's other writes.
func (r *StockRepository) AdjustMany(ctx context.Context, deltas []repositories.StockDelta, now time.Time) ([]repositories.StockAdjustment, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	var results []repositories.StockAdjustment
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		ids := make([]string, 0, len(deltas))
		seen := make(map[string]bool, len(deltas))
		for _, d := range deltas {
			if !seen[d.ProductID] {
				seen[d.ProductID] = true
				ids = append(ids, d.ProductID)
			}
		}
		refs, err := r.refs(ctx, ids)
		if err != nil {
			return err
		}
		snaps, err := r.getAll(ctx, refs)
		if err != nil {
			return err
		}
		current := make(map[string]stockDocument, len(snaps))
		for _, snap := range snaps {
			if snap == nil || !snap.Exists() {
				continue
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
			}
			current[snap.Ref.ID] = doc
		}

		results = make([]repositories.StockAdjustment, 0, len(deltas))
		dirty := make(map[string]bool)
		for _, d := range deltas {
			doc, ok := current[d.ProductID]
			if !ok {
				results = append(results, repositories.StockAdjustment{ProductID: d.ProductID, Delta: d.Delta})
				continue
			}
			adj := repositories.StockAdjustment{
				ProductID: d.ProductID,
				Delta:     d.Delta,
				Before:    doc.Quantity,
				After:     domain.ApplyStockDelta(doc.Quantity, d.Delta),
				Found:     true,
			}
			if adj.After != adj.Before {
				doc.Quantity = adj.After
				doc.UpdatedAt = now.UTC()
				current[d.ProductID] = doc
				dirty[d.ProductID] = true
			}
			results = append(results, adj)
		}

		for i, id := range ids {
			if !dirty[id] {
				continue
			}
			if err := r.set(ctx, refs[i], current[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("stock.adjust", err)
	}
	return results, nil
}

func (r *StockRepository) refs(ctx context.Context, productIDs []string) ([]*firestore.DocumentRef, error) {
	coll, err := r.collection(ctx, stockCollection)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		refs = append(refs, coll.Doc(id))
	}
	return refs, nil
}

func decodeStock(snap *firestore.DocumentSnapshot) (domain.StockRecord, error) {
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.StockRecord{}, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
	}
	return domain.StockRecord{ProductID: snap.Ref.ID, Quantity: doc.Quantity, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}
