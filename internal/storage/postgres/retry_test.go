package postgres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	want := errors.New("down")
	calls := 0
	err := withRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 5, time.Hour, func(context.Context) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewStoreRequiresDSN(t *testing.T) {
	if _, err := NewStore(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
