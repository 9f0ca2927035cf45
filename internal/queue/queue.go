// Package queue carries send jobs (message ids) from the router to the
// dispatch workers. Delivery is at-least-once; handlers must be idempotent.
package queue

import (
	"context"
	"errors"
	"log/slog"
)

var ErrQueueFull = errors.New("send queue full")

// Handler processes one send job.
type Handler func(ctx context.Context, messageID int64)

type Submitter interface {
	Submit(ctx context.Context, messageID int64) error
}

// Runner consumes submitted jobs until ctx is cancelled.
type Runner interface {
	Submitter
	Run(ctx context.Context) error
}

func safeHandle(ctx context.Context, h Handler, id int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("send job panic recovered", "message_id", id, "panic", r)
		}
	}()
	h(ctx, id)
}
