package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/warp/settlement-engine/monitoring"
)

// =============================================================================
// CONFLICT RETRY - Re-run a write when the optimistic head check fails
// =============================================================================

// RetryConfig bounds how often a write is re-attempted after
// ErrConcurrentModification. Every attempt re-reads the head, so the balance
// is re-validated before the next write.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
}

type conflictRetrier struct {
	policy  retrypolicy.RetryPolicy[any]
	metrics *monitoring.Metrics
}

func newConflictRetrier(cfg RetryConfig, metrics *monitoring.Metrics) *conflictRetrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay <= cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 10
	}
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, ErrConcurrentModification)
		}).
		Build()
	return &conflictRetrier{policy: policy, metrics: metrics}
}

// Run executes fn, retrying on conflicts. When retries run out the last
// error from fn is returned unchanged, so callers still see
// ErrConcurrentModification rather than a policy wrapper.
func (r *conflictRetrier) Run(ctx context.Context, fn func() error) error {
	var last error
	attempts := 0
	err := failsafe.With[any](r.policy).WithContext(ctx).Run(func() error {
		if attempts > 0 {
			r.metrics.IncRetry()
		}
		attempts++
		last = fn()
		return last
	})
	if err != nil && last != nil {
		return last
	}
	return err
}
