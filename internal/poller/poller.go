package poller

import (
	"context"
	"time"

	"mcpdash/internal/api"
	"mcpdash/pkg/logging"
)

// Result classifies how a poll resolved.
type Result string

const (
	// Reached means the predicate held on a fetched value.
	Reached Result = "reached"
	// TimedOut means the attempt budget or the wall-clock ceiling was
	// exhausted without the predicate holding.
	TimedOut Result = "timed_out"
	// Cancelled means the caller's context was cancelled. It is resolved,
	// not thrown: the poller never treats cancellation as an error.
	Cancelled Result = "cancelled"
)

// Spec bounds a poll. Both values must be finite and positive; open-ended
// retry loops are disallowed by construction.
type Spec struct {
	Interval    time.Duration
	MaxAttempts int
}

// Validate rejects unbounded or degenerate polling policies.
func (s Spec) Validate() error {
	if s.Interval <= 0 {
		return &api.ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if s.MaxAttempts < 1 {
		return &api.ValidationError{Field: "maxAttempts", Reason: "must be at least 1"}
	}
	return nil
}

// Ceiling is the hard wall-clock bound of the whole poll, independent of how
// long individual fetches or predicate evaluations take.
func (s Spec) Ceiling() time.Duration {
	return s.Interval * time.Duration(s.MaxAttempts)
}

// Report is the resolved outcome of one poll.
type Report[T any] struct {
	Result   Result
	Value    T
	Attempts int
	// LastErr is the most recent transient fetch error, kept for the
	// timed-out report; it is absorbed, never surfaced per attempt.
	LastErr error
}

// Await repeatedly fetches an externally-observed value at a fixed interval
// until predicate holds, the attempt budget runs out, the ceiling elapses,
// or ctx is cancelled. A transient fetch error consumes one attempt but does
// not terminate the poll. No fetch is issued after cancellation.
func Await[T any](ctx context.Context, spec Spec, fetch func(context.Context) (T, error), predicate func(T) bool) (Report[T], error) {
	var report Report[T]

	if err := spec.Validate(); err != nil {
		return report, err
	}

	// The ceiling is enforced as a context deadline so a slow fetch or
	// predicate cannot extend the total wait.
	pollCtx, cancel := context.WithTimeout(ctx, spec.Ceiling())
	defer cancel()

	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			report.Result = Cancelled
			return report, nil
		}
		if pollCtx.Err() != nil {
			report.Result = TimedOut
			return report, nil
		}

		value, err := fetch(pollCtx)
		report.Attempts = attempt
		if err != nil {
			if api.IsCancelled(err) && ctx.Err() != nil {
				report.Result = Cancelled
				return report, nil
			}
			report.LastErr = err
			logging.Debug("Poller", "Attempt %d/%d failed: %v", attempt, spec.MaxAttempts, err)
		} else if predicate(value) {
			report.Result = Reached
			report.Value = value
			return report, nil
		}

		if attempt == spec.MaxAttempts {
			break
		}

		timer := time.NewTimer(spec.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			report.Result = Cancelled
			return report, nil
		case <-pollCtx.Done():
			timer.Stop()
			report.Result = TimedOut
			return report, nil
		case <-timer.C:
		}
	}

	if ctx.Err() != nil {
		report.Result = Cancelled
		return report, nil
	}
	report.Result = TimedOut
	return report, nil
}
