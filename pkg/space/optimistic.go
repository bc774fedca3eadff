package space

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// retryOptimistic runs attempt until it reports done, sleeping a random
// duration in [0, maxBackoff) between attempts. Errors returned by attempt
// abort the loop. Running out of attempts yields ErrConflictExhausted.
func retryOptimistic[T any](ctx context.Context, attempts int, maxBackoff time.Duration, attempt func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	for i := 0; i < attempts; i++ {
		result, done, err := attempt(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return result, nil
		}

		if err := sleep(ctx, randomDuration(maxBackoff)); err != nil {
			return zero, err
		}
	}

	return zero, &Error{
		Code:    ErrConflictExhausted,
		Message: fmt.Sprintf("failed to execute an optimistic locked update after %d retries", attempts),
	}
}

// optimisticCreate describes a find-or-create protected by an insert,
// a uniqueness re-check and a commit or rollback.
type optimisticCreate[T any] struct {
	// lookup finds an existing row, committed or not.
	lookup func(ctx context.Context) (T, bool, error)

	// committed reports whether a found row is usable.
	committed func(T) bool

	// stale reports whether an uncommitted row was abandoned by its creator.
	stale func(T) bool

	// create inserts an uncommitted candidate.
	create func(ctx context.Context) (T, error)

	// unique reports whether the candidate is the only live row.
	unique func(ctx context.Context, candidate T) (bool, error)

	// commit marks the candidate as usable and reports whether it still existed.
	commit func(ctx context.Context, candidate T) (bool, error)

	// rollback hard-deletes the candidate.
	rollback func(ctx context.Context, candidate T) error
}

// findOrCreate converges concurrent callers onto a single committed row.
//
// A caller that finds an uncommitted row backs off and looks again: the
// creator is either about to commit or about to roll back. Rows left
// uncommitted past the stale threshold are rolled back by whoever sees them.
func findOrCreate[T any](ctx context.Context, s *Space, op optimisticCreate[T]) (T, error) {
	return retryOptimistic(ctx, s.opts.MaxOptimisticLockAttempts, s.opts.OptimisticLockBackoff, func(ctx context.Context) (T, bool, error) {
		var zero T

		found, ok, err := op.lookup(ctx)
		if err != nil {
			return zero, false, err
		}
		if ok {
			if op.committed(found) {
				return found, true, nil
			}
			if op.stale == nil || !op.stale(found) {
				s.metrics.RecordOptimisticRetry(s.name)
				return zero, false, nil
			}
			if err := op.rollback(ctx, found); err != nil {
				return zero, false, err
			}
		}

		candidate, err := op.create(ctx)
		if err != nil {
			return zero, false, err
		}

		unique, err := op.unique(ctx, candidate)
		if err != nil {
			return zero, false, err
		}
		if unique {
			committed, err := op.commit(ctx, candidate)
			if err != nil {
				return zero, false, err
			}
			if committed {
				return candidate, true, nil
			}
		} else if err := op.rollback(ctx, candidate); err != nil {
			return zero, false, err
		}

		s.metrics.RecordOptimisticRetry(s.name)
		return zero, false, nil
	})
}

func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
