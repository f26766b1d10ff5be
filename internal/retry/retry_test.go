package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jawhnycooke/longhaul/internal/retry"
)

// fastPolicy keeps test sleeps negligible.
func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Factor:     2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	t.Parallel()
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return &retry.StatusError{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoFailsFastOnPermanent(t *testing.T) {
	t.Parallel()
	calls := 0
	wantErr := &retry.StatusError{Code: 404}
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on permanent)", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		return &retry.StatusError{Code: 500}
	})
	if err == nil {
		t.Fatal("Do should return the last error after exhaustion")
	}
	// MaxRetries=3 means 4 total attempts.
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := retry.Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Factor: 2.0}
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, "op", func() error {
			calls++
			return &retry.StatusError{Code: 502}
		})
	}()
	// Give the first attempt time to fail and enter the backoff sleep.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelayExponentialNoJitter(t *testing.T) {
	t.Parallel()
	p := retry.Policy{BaseDelay: time.Second, MaxDelay: 60 * time.Second, Factor: 2.0}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // capped
		{10, 60 * time.Second},
	}
	for _, tc := range tests {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	t.Parallel()
	p := retry.Default()
	for attempt := 0; attempt < 5; attempt++ {
		base := time.Duration(float64(time.Second) * pow2(attempt))
		if base > p.MaxDelay {
			base = p.MaxDelay
		}
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d < base/2 || d > base+base/2 {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, d, base/2, base+base/2)
			}
		}
	}
}

func pow2(n int) float64 {
	f := 1.0
	for i := 0; i < n; i++ {
		f *= 2
	}
	return f
}

func TestTransientClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 429", &retry.StatusError{Code: 429}, true},
		{"status 500", &retry.StatusError{Code: 500}, true},
		{"status 503", &retry.StatusError{Code: 503}, true},
		{"status 401", &retry.StatusError{Code: 401}, false},
		{"status 404", &retry.StatusError{Code: 404}, false},
		{"status 422", &retry.StatusError{Code: 422}, false},
		{"wrapped status", fmt.Errorf("tracker: %w", &retry.StatusError{Code: 502}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"permanent marker", retry.Permanent(errors.New("connection reset")), false},
		{"timeout text", errors.New("dial tcp: i/o timeout"), true},
		{"rate limit text", errors.New("API rate limit exceeded"), true},
		{"throttle text", errors.New("request was throttled"), true},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := retry.Transient(tc.err); got != tc.want {
				t.Errorf("Transient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDiagnose(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("API rate limit exceeded for installation"), "rate-limited"},
		{errors.New("HTTP 401: bad credentials"), "auth"},
		{errors.New("HTTP 404: not found"), "missing-resource"},
		{errors.New("dial tcp: connection refused"), "network"},
		{errors.New("! [rejected] main -> main (non-fast-forward)"), "push-conflict"},
		{errors.New("invalid character '}' looking for beginning of value"), "state-corruption"},
		{errors.New("mystery"), "unclassified"},
	}
	for _, tc := range tests {
		got := retry.Diagnose(tc.err)
		if got.Category != tc.want {
			t.Errorf("Diagnose(%v).Category = %q, want %q", tc.err, got.Category, tc.want)
		}
		if got.Remediation == "" {
			t.Errorf("Diagnose(%v) has empty remediation", tc.err)
		}
	}
	if d := retry.Diagnose(nil); d.Category != "" {
		t.Errorf("Diagnose(nil) = %+v, want zero", d)
	}
}
