// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

// recordSleep returns a Sleep that records waits instead of sleeping.
func recordSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default policy is valid", DefaultPolicy(), false},
		{"zero max attempts is invalid", Policy{MaxAttempts: 0, BackoffFactor: 2}, true},
		{"negative initial backoff is invalid", Policy{MaxAttempts: 3, InitialBackoff: -time.Second, MaxBackoff: time.Second, BackoffFactor: 2}, true},
		{"max below initial is invalid", Policy{MaxAttempts: 3, InitialBackoff: 10 * time.Second, MaxBackoff: time.Second, BackoffFactor: 2}, true},
		{"factor below 1 is invalid", Policy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 0.5}, true},
		{"jitter above 1 is invalid", Policy{MaxAttempts: 3, BackoffFactor: 2, JitterFactor: 1.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int32
	result, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 1 || calls != 1 {
		t.Errorf("Attempts = %d, calls = %d, want 1/1", result.Attempts, calls)
	}
}

func TestDo_BackoffDoublesToCap(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleep(&waits)

	result, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("err = %v, want errFlaky", err)
	}
	if result.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.Attempts)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestPolicy_Backoffs(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 7
	got := p.Backoffs()
	want := []time.Duration{2, 4, 8, 16, 20, 20}
	if len(got) != len(want) {
		t.Fatalf("Backoffs() = %v", got)
	}
	for i := range want {
		if got[i] != want[i]*time.Second {
			t.Errorf("Backoffs()[%d] = %v, want %v", i, got[i], want[i]*time.Second)
		}
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleep(&waits)

	fatal := errors.New("maximum context length")
	result, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		return Permanent(fatal)
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want wrapped fatal", err)
	}
	if !IsPermanent(err) {
		t.Error("IsPermanent() = false")
	}
	if result.Attempts != 1 || len(waits) != 0 {
		t.Errorf("Attempts = %d, waits = %v", result.Attempts, waits)
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.Retryable = func(err error) bool { return errors.Is(err, errFlaky) }

	other := errors.New("other")
	result, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return errFlaky
		}
		return other
	})
	if !errors.Is(err, other) || result.Attempts != 2 {
		t.Errorf("Attempts = %d, err = %v", result.Attempts, err)
	}
}

func TestDo_OnRetryHook(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 3
	p.Sleep = func(context.Context, time.Duration) error { return nil }

	var hooked []int
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		hooked = append(hooked, attempt)
	}
	_, _ = Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		return errFlaky
	})
	if len(hooked) != 2 || hooked[0] != 1 || hooked[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", hooked)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		return errFlaky
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestTimerSleep(t *testing.T) {
	if err := timerSleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("timerSleep() = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := timerSleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("timerSleep(cancelled) = %v", err)
	}
}
