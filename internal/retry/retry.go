// Package retry provides bounded retries with exponential backoff.
//
// The model-call wrapper is the main consumer: transient provider failures
// are retried with doubling delays, permanent failures (wrapped with
// Permanent) stop immediately, and a server-supplied retry-after hint
// (wrapped with After) overrides the computed delay for that wait.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter enables randomization of delays.
	Jitter bool
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent retrying.
	Duration time.Duration
}

// Do executes the operation with retries.
//
// The delay between attempts doubles (by Factor) from InitialDelay up to
// MaxDelay. When the failed attempt's error carries a delay hint (see After),
// that hint is used for the following wait instead of the computed backoff;
// the exponential schedule still advances underneath. Context cancellation
// interrupts both the waits and further attempts.
func Do(ctx context.Context, config Config, op func() error) Result {
	start := time.Now()
	result := Result{}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Factor <= 0 {
		config.Factor = 2.0
	}

	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		}

		err := op()
		if err == nil {
			result.Err = nil
			result.Duration = time.Since(start)
			return result
		}

		result.Err = err

		if IsPermanent(err) {
			result.Duration = time.Since(start)
			return result
		}

		if attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			// Jitter: delay * [0.5, 1.5]
			jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
			sleep = time.Duration(float64(delay) * jitterFactor)
		}
		if hint, ok := DelayHint(err); ok {
			// The server said when to come back; no jitter on top. The wait
			// is still interruptible below, so a large hint cannot wedge a
			// canceled context.
			sleep = hint
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(attempt int) error

// WithAttemptNumber executes with the attempt number available to the
// operation, so callers can log which retry they are on.
func WithAttemptNumber(ctx context.Context, config Config, op RetryableFunc) Result {
	attempt := 0
	return Do(ctx, config, func() error {
		attempt++
		return op(attempt)
	})
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// AfterError carries a server-suggested delay before the next attempt.
type AfterError struct {
	Err   error
	Delay time.Duration
}

func (e *AfterError) Error() string {
	return e.Err.Error()
}

func (e *AfterError) Unwrap() error {
	return e.Err
}

// After wraps a retryable error with the delay the server asked for,
// typically parsed from a retry-after header.
func After(err error, delay time.Duration) error {
	if err == nil {
		return nil
	}
	return &AfterError{Err: err, Delay: delay}
}

// DelayHint extracts a server-suggested delay from an error chain.
func DelayHint(err error) (time.Duration, bool) {
	var after *AfterError
	if errors.As(err, &after) && after.Delay > 0 {
		return after.Delay, true
	}
	return 0, false
}

// Backoff calculates the backoff duration for a given attempt.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// Exponential creates a config for exponential backoff.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Factor:       2.0,
		Jitter:       true,
	}
}
