package memory

import (
	"context"
	"strings"
	"time"
)

type counterRepository struct {
	s *Store
}

func (r counterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, conflict("counters.next", "counter id is required")
	}
	var next int64
	err := r.s.do(ctx, func(j *journal) error {
		prev := r.s.counters[id]
		next = prev + 1
		r.s.counters[id] = next
		j.record(func() { r.s.counters[id] = prev })
		return nil
	})
	return next, err
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
