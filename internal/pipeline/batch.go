package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Limiter caps in-flight calls to the generation provider. One Limiter
// is shared process-wide across all workers so concurrent jobs respect a
// single global cap rather than one cap each.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter creates a limiter admitting at most n concurrent holders.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() {
	<-l.sem
}

// BatchConfig tunes the rate-limited batch executor.
type BatchConfig struct {
	// Concurrency is the per-run cap on in-flight units of work.
	Concurrency int
	// BatchDelay is the pause between batches, protecting the provider
	// from bursts.
	BatchDelay time.Duration
}

// RunBatches processes items in batches of at most Concurrency, waiting
// BatchDelay between batches. Results come back in input order
// regardless of completion order. If any unit fails, the run fails fast
// and completed results are discarded (no partial commit). onProgress,
// if non-nil, receives completed/total after each batch.
func RunBatches[T, R any](
	ctx context.Context,
	items []T,
	cfg BatchConfig,
	limiter *Limiter,
	unit func(ctx context.Context, index int, item T) (R, error),
	onProgress func(completed, total int),
) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	k := cfg.Concurrency
	if k < 1 {
		k = 1
	}

	results := make([]R, len(items))
	total := len(items)

	for start := 0; start < total; start += k {
		end := start + k
		if end > total {
			end = total
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				if limiter != nil {
					if err := limiter.Acquire(gctx); err != nil {
						return err
					}
					defer limiter.Release()
				}

				r, err := unit(gctx, i, items[i])
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if onProgress != nil {
			onProgress(end, total)
		}

		if end < total && cfg.BatchDelay > 0 {
			timer := time.NewTimer(cfg.BatchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}

	return results, nil
}
