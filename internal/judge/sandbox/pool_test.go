package sandbox

import (
	"context"
	"testing"
	"time"

	appErr "codemate/pkg/errors"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	if !p.TryAcquire() || !p.TryAcquire() {
		t.Fatalf("expected 2 free slots")
	}
	if p.TryAcquire() {
		t.Fatalf("third acquire should fail on a pool of 2")
	}
	p.Release()
	if !p.TryAcquire() {
		t.Fatalf("released slot should be reusable")
	}
}

func TestPoolAcquireTimesOutAsQueueFull(t *testing.T) {
	t.Parallel()

	p := NewPool(1)
	if !p.TryAcquire() {
		t.Fatalf("first acquire failed")
	}
	err := p.Acquire(context.Background(), 10*time.Millisecond)
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	p := NewPool(1)
	if !p.TryAcquire() {
		t.Fatalf("first acquire failed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Acquire(ctx, 0); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPoolMinimumSize(t *testing.T) {
	t.Parallel()

	if got := NewPool(0).Size(); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}
}
