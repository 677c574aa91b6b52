package fetch

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"` // 0 = uncapped
	BackoffMultiple float64       `yaml:"backoff_multiple"`
	// Jitter adds up to Jitter*delay of random extra wait. 0 disables it.
	Jitter float64 `yaml:"jitter"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	BaseDelay:       100 * time.Millisecond,
	BackoffMultiple: 2.0,
}

// Validate reports configuration values the retry loop cannot work with.
func (c RetryConfig) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.BaseDelay <= 0 {
		errs = append(errs, errors.New("base delay must be positive"))
	}
	if c.MaxDelay < 0 {
		errs = append(errs, errors.New("max delay must not be negative"))
	}
	if c.BackoffMultiple != 0 && c.BackoffMultiple < 1 {
		errs = append(errs, errors.New("backoff multiple must be >= 1"))
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		errs = append(errs, errors.New("jitter must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// WithDefaults fills zero values from DefaultRetryConfig.
func (c RetryConfig) WithDefaults() RetryConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if c.BackoffMultiple == 0 {
		c.BackoffMultiple = DefaultRetryConfig.BackoffMultiple
	}
	return c
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay * BackoffMultiple^(attempt-1), capped by MaxDelay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	c = c.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffMultiple, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		delay += delay * c.Jitter * rand.Float64()
	}
	return toDuration(delay)
}

// maxDurationFloat is 2^63; every float64 at or above it overflows Duration.
const maxDurationFloat = float64(math.MaxInt64)

// toDuration converts d, saturating at the largest Duration.
func toDuration(d float64) time.Duration {
	if d >= maxDurationFloat || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// RetryState is owned by a single retry loop and dropped when it exits.
type RetryState struct {
	Attempt   int
	LastErr   error
	NextDelay time.Duration
}

// fail records a failed attempt and reports whether another one is allowed.
func (s *RetryState) fail(err error, class ErrorClass, cfg RetryConfig) bool {
	s.LastErr = err
	if class == ClassTerminal || s.Attempt >= cfg.MaxAttempts {
		s.NextDelay = 0
		return false
	}
	s.NextDelay = cfg.Backoff(s.Attempt)
	return true
}
