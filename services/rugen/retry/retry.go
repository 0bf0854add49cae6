// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry runs an operation under a bounded exponential-backoff
// policy with a pluggable retryable/fatal classifier.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	// Default: 2s
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	// Default: 20s
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	// Default: 0
	JitterFactor float64

	// Retryable classifies errors. Nil means every error is retryable
	// unless wrapped with Permanent.
	Retryable func(error) bool

	// OnRetry runs after a retryable failure and before the wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 5 attempts, 2s base doubling to a 20s cap, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     20 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Validate checks if the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidPolicy
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < p.InitialBackoff {
		return ErrInvalidPolicy
	}
	if p.BackoffFactor < 1.0 {
		return ErrInvalidPolicy
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		return ErrInvalidPolicy
	}
	return nil
}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// Func is an operation that can be retried. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - p: Retry policy.
//   - fn: The operation.
//
// Outputs:
//   - Result: Statistics about the operation.
//   - error: The last error if all attempts failed, nil on success.
//
// There is no wait after the last attempt.
func Do(ctx context.Context, p Policy, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}

	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return !IsPermanent(err) }
	}

	backoff := p.InitialBackoff
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		result.LastError = err

		if !retryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := withJitter(backoff, p.JitterFactor)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}
		backoff = NextBackoff(backoff, p.BackoffFactor, p.MaxBackoff)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// Backoffs returns the waits Do would use between attempts, without jitter.
func (p Policy) Backoffs() []time.Duration {
	if p.MaxAttempts < 2 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	b := p.InitialBackoff
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, b)
		b = NextBackoff(b, p.BackoffFactor, p.MaxBackoff)
	}
	return out
}

// NextBackoff calculates the next backoff value.
func NextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}

func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanentError marks an error as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the default classifier stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
