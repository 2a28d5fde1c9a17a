// Package retry runs provider calls with a bounded number of attempts and
// linear backoff. Permanent errors stop the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config configures the retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the unit of the linear backoff: the wait after attempt i
	// is BaseDelay*i.
	BaseDelay time.Duration
}

// DefaultConfig returns three attempts with a one second base delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int
	// TotalDuration is the time spent across attempts and backoff.
	TotalDuration time.Duration
	// LastError is the error returned by the final attempt.
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it after the first
// attempt. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked with
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff returns the wait between attempt and attempt+1.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return c.BaseDelay * time.Duration(attempt)
}

// Do calls fn until it succeeds, returns a permanent error, or MaxAttempts is
// reached. The context is checked before every attempt and while waiting, so
// cancellation is observed at each retry boundary. onAttempt, when not nil, is
// invoked after every failed attempt with its 1-based number.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onAttempt ...func(attempt int, err error)) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		for _, cb := range onAttempt {
			cb(attempt, err)
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, cfg.Backoff(attempt)); err != nil {
			return err
		}
	}
	return &ExhaustedError{
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

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
