package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 3, QueueSize: 16})
	defer d.Close(context.Background())

	var count int32
	for i := 0; i < 10; i++ {
		if err := d.Submit(Job{Key: "m1", Name: "count", Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	d.Wait()
	if got := atomic.LoadInt32(&count); got != 10 {
		t.Fatalf("expected 10 jobs, got %d", got)
	}
	if stats := d.Stats(); stats.Workers < 1 || stats.Workers > 3 {
		t.Fatalf("worker count out of bounds: %+v", stats)
	}
}

func TestDispatcherKeepsPerKeyOrder(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 16})
	defer d.Close(context.Background())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// hold the only worker so the rest queue up behind it
	release := make(chan struct{})
	if err := d.Submit(Job{Key: "block", Name: "block", Run: func(context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("submit block: %v", err)
	}
	for _, j := range []Job{
		{Key: "a", Name: "a1", Run: record("a1")},
		{Key: "a", Name: "a2", Run: record("a2")},
		{Key: "a", Name: "a3", Run: record("a3")},
		{Key: "b", Name: "b1", Run: record("b1")},
	} {
		if err := d.Submit(j); err != nil {
			t.Fatalf("submit %s: %v", j.Name, err)
		}
	}
	close(release)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	if len(order) != 4 {
		t.Fatalf("unexpected order %v", order)
	}
	if !(pos["a1"] < pos["a2"] && pos["a2"] < pos["a3"]) {
		t.Fatalf("per-key order violated: %v", order)
	}
}

func TestDispatcherBusy(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	defer d.Close(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocker := func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	if err := d.Submit(Job{Key: "k", Name: "first", Run: blocker}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	var busy bool
	for i := 0; i < 50 && !busy; i++ {
		if err := d.Submit(Job{Key: "k", Name: "more", Run: blocker}); errors.Is(err, ErrDispatcherBusy) {
			busy = true
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	close(release)
	if !busy {
		t.Fatalf("expected ErrDispatcherBusy once the queue filled")
	}
	d.Wait()
}

func TestDispatcherJobTimeout(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4, JobTimeout: 20 * time.Millisecond})
	defer d.Close(context.Background())

	errCh := make(chan error, 1)
	if err := d.Submit(Job{Key: "k", Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job was not cancelled by its timeout")
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close(context.Background())

	if err := d.Submit(Job{Key: "k", Name: "panic", Run: func(context.Context) error { panic("boom") }}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ran := make(chan struct{})
	if err := d.Submit(Job{Key: "k", Name: "after", Run: func(context.Context) error { close(ran); return nil }}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestDispatcherCloseCancelsRunningJobs(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	started := make(chan struct{})
	if err := d.Submit(Job{Key: "k", Name: "long", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Submit(Job{Key: "k", Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestPoolShrinksToMin(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Hour, func(Job) {})
	defer p.close()
	metas := []*workerMeta{p.acquire(), p.acquire(), p.acquire()}
	for _, m := range metas {
		if m == nil {
			t.Fatalf("acquire returned nil")
		}
		p.Release(m.ch)
	}
	p.mu.Lock()
	for _, m := range p.idle {
		m.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()

	p.shutdownExpired()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.stats().Running == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pool did not shrink: %+v", p.stats())
}
