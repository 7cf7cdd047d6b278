package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out sequence numbers from documents in the counters collection.
type CounterRepository struct {
	store
}

// Next atomically increments counterID. Callers should not invoke it after writes in an open
// transaction because it reads the counter document.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counters.next: counter id is required")
	}
	ref, err := r.doc(ctx, countersCollection, id)
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}

	var next int64
	err = r.uow.RunInTx(ctx, func(ctx context.Context) error {
		doc := counterDocument{}
		snap, err := r.get(ctx, ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		case codes.NotFound:
		default:
			return err
		}
		doc.CurrentValue++
		doc.UpdatedAt = time.Now().UTC()
		next = doc.CurrentValue
		return r.set(ctx, ref, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
