package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// RetryConfig is the retry policy for CRM calls. The delay doubles after
// every attempt, starting at InitialBackoff and capped at MaxBackoff. A
// server-supplied Retry-After wins over the computed delay when it is longer.
type RetryConfig struct {
	// MaxAttempts counts the first try. 0 and 1 both mean a single attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Jitter randomizes the upper half of each delay so that concurrent
	// fan-out requests do not retry in lockstep.
	Jitter bool

	// ShouldRetry replaces IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry runs before each sleep. attempt is 1 for the first retry.
	OnRetry func(attempt int, err error)
}

// NoRetry is the transport default: a single attempt, errors surface as-is.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// DefaultRetryConfig returns a retry configuration for deployments that opt
// in to retrying rate-limited or 5xx CRM responses.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		Jitter:         true,
	}
}

// retryAfter is implemented by errors that carry a server-requested delay,
// such as a 429 from HubSpot with a Retry-After header.
type retryAfter interface {
	RetryAfter() time.Duration
}

// Do calls fn until it succeeds, returns an error that should not be
// retried, runs out of attempts, or ctx is done. The last error from fn is
// returned unchanged.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || ctx.Err() != nil || !shouldRetry(err) {
			return err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, cfg.delay(attempt, err)) {
			return err
		}
	}
}

// delay returns the wait before retry number attempt (1-based).
func (cfg RetryConfig) delay(attempt int, err error) time.Duration {
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	ceiling := cfg.MaxBackoff
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}

	d := initial
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	d = min(d, ceiling)

	if cfg.Jitter && d > 1 {
		half := d / 2
		d = half + rand.N(half+1)
	}

	var hint retryAfter
	if errors.As(err, &hint) {
		if ra := hint.RetryAfter(); ra > d {
			d = min(ra, ceiling)
		}
	}
	return d
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry of a CRM
// request.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying request",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
