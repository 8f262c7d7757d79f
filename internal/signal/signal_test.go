package signal

import (
	"context"
	"testing"
	"time"
)

func TestDeadlineReflectsContextState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDeadline(ctx)
	if d.Expired() {
		t.Fatalf("fresh context should not be expired")
	}
	cancel()
	if !d.Expired() {
		t.Fatalf("canceled context should be expired")
	}
	if d.Err() != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", d.Err())
	}
}

func TestContextCancelsOnStop(t *testing.T) {
	ctx, _, stop := Context()

	select {
	case <-ctx.Done():
		t.Fatalf("context should not be canceled before a shutdown signal arrives")
	case <-time.After(20 * time.Millisecond):
	}

	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("context should be canceled once stop is called")
	}
}
