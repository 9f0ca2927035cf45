package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultKey = "sms:send_queue"

	popTimeout = time.Second
	errBackoff = 500 * time.Millisecond
)

// RedisQueue shares send jobs between router processes through a Redis
// list.
type RedisQueue struct {
	rdb     redis.UniversalClient
	key     string
	workers int
	handler Handler
}

func NewRedisQueue(rdb redis.UniversalClient, key string, workers int, handler Handler) (*RedisQueue, error) {
	if workers <= 0 {
		return nil, errors.New("workers must be > 0")
	}
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key, workers: workers, handler: handler}, nil
}

func (q *RedisQueue) Submit(ctx context.Context, messageID int64) error {
	return q.rdb.LPush(ctx, q.key, messageID).Err()
}

func (q *RedisQueue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				q.popOne(ctx)
			}
			return nil
		})
	}
	return g.Wait()
}

func (q *RedisQueue) popOne(ctx context.Context) {
	res, err := q.rdb.BRPop(ctx, popTimeout, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		slog.Warn("send queue pop failed", "key", q.key, "err", err)
		select {
		case <-ctx.Done():
		case <-time.After(errBackoff):
		}
		return
	}

	// res is [key, value]
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		slog.Error("send queue dropped malformed job", "value", res[1], "err", err)
		return
	}
	safeHandle(ctx, q.handler, id)
}
