package execution

import (
	"context"
	"math"
	"time"

	"trade-signal-pipeline/internal/config"
)

// RetryPolicy is exponential backoff for transient broker errors.
// With the defaults the waits between four attempts are 1s, 2s and 4s.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultRetryPolicy returns 1s base, doubling, four attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxAttempts: 4}
}

// RetryPolicyFromConfig maps the retry config section.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{BaseDelay: c.BaseDelay, Multiplier: c.Multiplier, MaxAttempts: c.MaxAttempts}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, sleep sleepFunc, fn func(ctx context.Context) error) (int, error) {
	if sleep == nil {
		sleep = sleepCtx
	}
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt == max {
			return attempt, err
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return attempt, err
		}
	}
	return max, err
}
