// Package retry runs an operation until it succeeds, gives up, or its
// context ends. The engine uses it for receipt writes against a briefly
// unavailable database.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config controls attempt count and backoff.
type Config struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// InitialDelay is the sleep after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Factor multiplies the delay after each failure.
	Factor float64
	// Jitter randomizes each sleep within [0.5, 1.5] of the computed delay.
	Jitter bool
}

// Exponential returns a jittered exponential backoff config.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Linear returns a fixed-delay config.
func Linear(maxAttempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Factor:       1.0,
	}
}

// Result reports how a retried operation ended.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error, nil on success.
	Err error
	// Duration is the total time spent.
	Duration time.Duration
}

// Do runs op until it returns nil, a permanent error, the attempt budget is
// exhausted, or ctx ends.
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
			jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
			sleep = time.Duration(float64(delay) * jitterFactor)
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

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do stops immediately. Unique-constraint violations
// and validation failures go through here.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
