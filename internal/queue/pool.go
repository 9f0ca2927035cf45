package queue

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool is an in-process queue drained by a fixed number of workers.
type Pool struct {
	jobs    chan int64
	workers int
	handler Handler
}

func NewPool(workers, size int, handler Handler) (*Pool, error) {
	if workers <= 0 {
		return nil, errors.New("workers must be > 0")
	}
	if size <= 0 {
		return nil, errors.New("queue size must be > 0")
	}
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	return &Pool{
		jobs:    make(chan int64, size),
		workers: workers,
		handler: handler,
	}, nil
}

// Submit never blocks; when the buffer is full the job is refused with
// ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- messageID:
		return nil
	default:
		return fmt.Errorf("message %d: %w", messageID, ErrQueueFull)
	}
}

func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-p.jobs:
					safeHandle(ctx, p.handler, id)
				}
			}
		})
	}
	return g.Wait()
}
