// File: internal/orchestrator/retry.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
)

// tryStrategies walks the ordered candidate strategies for an abstract target.
// A transient failure retries the same strategy under exponential backoff;
// ErrNoMatch means the strategy does not fit this page layout and advances to
// the next candidate without burning retry budget. The returned error is the
// last strategy's failure once all candidates are exhausted.
func (o *Orchestrator) tryStrategies(ctx context.Context, site, target string, op func(selectors.LocatorStrategy) error) error {
	strategies, err := o.registry.Resolve(site, target)
	if err != nil {
		return err
	}

	var lastErr error
	for _, strategy := range strategies {
		attempt := func() error {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
			err := op(strategy)
			if errors.Is(err, schemas.ErrNoMatch) {
				// Layout mismatch is not transient; stop retrying this one.
				return backoff.Permanent(err)
			}
			return err
		}

		policy := backoff.WithContext(o.newBackoff(), ctx)
		err := backoff.Retry(attempt, policy)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, schemas.ErrNoMatch) {
			o.logger.Debug("Strategy did not match page layout; advancing.",
				zap.String("site", site),
				zap.String("target", target),
				zap.String("strategy", strategy.Name),
			)
			continue
		}
		if ctx.Err() != nil {
			return err
		}
		o.logger.Warn("Strategy failed after retries; advancing.",
			zap.String("site", site),
			zap.String("target", target),
			zap.String("strategy", strategy.Name),
			zap.Error(err),
		)
	}
	return fmt.Errorf("all %d strategies for %q exhausted: %w", len(strategies), target, lastErr)
}

func (o *Orchestrator) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.Retry.InitialBackoff
	b.MaxInterval = o.cfg.Retry.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(o.cfg.Retry.MaxAttempts-1))
}
