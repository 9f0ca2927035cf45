package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recorder struct {
	mu  sync.Mutex
	ids []int64
	got chan int64
}

func newRecorder() *recorder {
	return &recorder{got: make(chan int64, 16)}
}

func (r *recorder) handle(_ context.Context, id int64) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	r.got <- id
}

func (r *recorder) wait(t *testing.T, n int) []int64 {
	t.Helper()

	timeout := time.After(3 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-timeout:
			t.Fatalf("timed out waiting for job %d/%d", i+1, n)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

func TestNewPool_Validation(t *testing.T) {
	t.Parallel()

	h := func(context.Context, int64) {}
	if _, err := NewPool(0, 1, h); err == nil {
		t.Fatalf("expected error for zero workers")
	}
	if _, err := NewPool(1, 0, h); err == nil {
		t.Fatalf("expected error for zero size")
	}
	if _, err := NewPool(1, 1, nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestPool_RunsSubmittedJobs(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p, err := NewPool(2, 8, rec.handle)
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for _, id := range []int64{1, 2, 3} {
		if err := p.Submit(ctx, id); err != nil {
			t.Fatalf("Submit(%d) error: %v", id, err)
		}
	}

	if got := rec.wait(t, 3); len(got) != 3 {
		t.Fatalf("expected 3 handled jobs, got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestPool_SubmitWhenFull(t *testing.T) {
	t.Parallel()

	p, err := NewPool(1, 1, func(context.Context, int64) {})
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}

	ctx := context.Background()
	if err := p.Submit(ctx, 1); err != nil {
		t.Fatalf("first Submit() error: %v", err)
	}
	if err := p.Submit(ctx, 2); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPool_HandlerPanicDoesNotStopWorker(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p, err := NewPool(1, 4, func(ctx context.Context, id int64) {
		if id == 1 {
			panic("boom")
		}
		rec.handle(ctx, id)
	})
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	_ = p.Submit(ctx, 1)
	_ = p.Submit(ctx, 2)

	if got := rec.wait(t, 1); got[0] != 2 {
		t.Fatalf("expected job 2 to run after panic, got %v", got)
	}
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rec := newRecorder()
	q, err := NewRedisQueue(rdb, "", 1, rec.handle)
	if err != nil {
		t.Fatalf("NewRedisQueue() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Submit(ctx, 10); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if err := q.Submit(ctx, 11); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	got := rec.wait(t, 2)
	if got[0] != 10 || got[1] != 11 {
		t.Fatalf("expected FIFO order [10 11], got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}
