package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndShutdown(t *testing.T) {
	t.Parallel()

	p := New(2, 10)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(func(context.Context) { count.Add(1) }); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	blocker := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(func(context.Context) { close(started); <-blocker }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started
	if err := p.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("expected queue slot, got %v", err)
	}
	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()

	p := New(1, 4)
	var ran atomic.Bool
	_ = p.Submit(func(context.Context) { panic("boom") })
	_ = p.Submit(func(context.Context) { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if !ran.Load() {
		t.Fatalf("task after panic did not run")
	}
}

func TestShutdownTimeoutCancelsRunningTasks(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Shutdown(ctx)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("running task was not cancelled")
	}
}
