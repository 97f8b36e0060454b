package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 2, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	want := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), 2, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Do() error = %v, want %v", err, want)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	want := errors.New("bad credentials")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		calls++
		return Permanent(want)
	})
	if !errors.Is(err, want) {
		t.Fatalf("Do() error = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, 3, time.Minute, time.Minute, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after cancellation)", calls)
	}
}
