package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Policy configures backoff behavior for transient external failures.
type Policy struct {
	MaxRetries int           // retry attempts after the first call
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // backoff cap
	Factor     float64       // exponential growth factor
	Jitter     bool          // randomize delays to avoid thundering herd
}

// Default returns the standard policy applied to tracker and VCS calls.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Factor:     2.0,
		Jitter:     true,
	}
}

// randFloat is a variable so tests can pin jitter.
var randFloat = rand.Float64

// Delay returns the backoff before retry number attempt (0-indexed).
// With jitter the result is delay * (0.5 + rand), so it stays within
// [0.5x, 1.5x] of the exponential schedule.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter {
		d = d * (0.5 + randFloat())
	}
	return time.Duration(d)
}

// Do calls fn, retrying transient failures per the policy. Permanent errors
// fail fast. The last error is returned after exhaustion. Sleeping respects
// ctx; cancellation returns ctx.Err() immediately.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		last = err

		if !Transient(err) {
			slog.Warn("permanent error, not retrying",
				slog.String("op", op), slog.Any("error", err))
			return err
		}
		if attempt >= p.MaxRetries {
			slog.Error("retries exhausted",
				slog.String("op", op),
				slog.Int("attempts", attempt+1),
				slog.Any("error", err))
			return err
		}

		delay := p.Delay(attempt)
		slog.Info("transient error, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
