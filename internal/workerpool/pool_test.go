package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitJoinsAllWorkers(t *testing.T) {
	g := New("test")
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		g.Go("w", func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
	if got := g.Running(); got != 0 {
		t.Fatalf("Running() = %d, want 0", got)
	}
}

func TestWaitRespectsContextDeadline(t *testing.T) {
	g := New("test")
	blocker := make(chan struct{})
	g.Go("blocked", func() { <-blocker })

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Wait should have timed out in ~100ms, took %v", elapsed)
	}
	if got := g.Running(); got != 1 {
		t.Fatalf("Running() = %d, want 1", got)
	}

	close(blocker)
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
}

func TestPanicRecovery(t *testing.T) {
	g := New("test")
	var count atomic.Int32

	g.Go("panics", func() {
		panic("test panic")
	})
	g.Go("ok", func() {
		count.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := count.Load(); got != 1 {
		t.Fatalf("worker after panic: count = %d, want 1", got)
	}
	if got := g.Panics(); got != 1 {
		t.Fatalf("Panics() = %d, want 1", got)
	}
}

func TestEmptyGroupIsDone(t *testing.T) {
	g := New("empty")
	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("empty group never reported done")
	}
}
