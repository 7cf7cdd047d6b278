package repositories

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck is one dependency probe executed by the readiness endpoint.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type dependencyHealthRepository struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository builds a HealthRepository running checks concurrently.
func NewDependencyHealthRepository(checks []DependencyCheck, now func() time.Time) HealthRepository {
	if now == nil {
		now = time.Now
	}
	return &dependencyHealthRepository{checks: append([]DependencyCheck(nil), checks...), now: now}
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}
	report := domain.HealthReport{
		Status:    domain.HealthStatusOK,
		Checks:    make(map[string]domain.HealthCheck, len(r.checks)),
		CheckedAt: r.now().UTC(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range r.checks {
		if check.Name == "" || check.Check == nil {
			continue
		}
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = defaultDependencyTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := r.now()
			err := check.Check(checkCtx)
			result := domain.HealthCheck{Status: domain.HealthStatusOK, Latency: r.now().Sub(start)}
			if err != nil {
				result.Status = domain.HealthStatusError
				result.Error = err.Error()
			}

			mu.Lock()
			report.Checks[check.Name] = result
			if err != nil {
				report.Status = domain.HealthStatusDegraded
			}
			mu.Unlock()
		}(check)
	}
	wg.Wait()
	return report, nil
}
