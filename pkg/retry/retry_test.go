package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func alwaysTransient(error) bool { return true }

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy, alwaysTransient, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err=%v calls=%d, want nil and 1", err, calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want nil and 3", err, calls)
	}
}

func TestDo_NonTransientReturnsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), DefaultPolicy, func(err error) bool { return false }, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("err=%v calls=%d, want permanent and 1", err, calls)
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	policy := Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 2 {
		t.Errorf("err=%v calls=%d, want transient and 2", err, calls)
	}
}

func TestDo_TinyBackoffDoesNotPanic(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Nanosecond, MaxBackoff: time.Nanosecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 3 {
		t.Errorf("err=%v calls=%d, want transient and 3", err, calls)
	}
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}
	calls := 0
	err := Do(ctx, policy, alwaysTransient, func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("err=%v calls=%d, want context.Canceled and 1", err, calls)
	}
}
