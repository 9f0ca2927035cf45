package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/sms-router/internal/model"
)

// DefaultReceiptTTL keeps receipts around long enough for delivery reports
// to be correlated.
const DefaultReceiptTTL = 24 * time.Hour

type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func receiptKey(messageID int64) string {
	return fmt.Sprintf("sms:sent:%d", messageID)
}

func (c *RedisCache) StoreReceipt(ctx context.Context, r Receipt) error {
	r.SentAt = r.SentAt.UTC()

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, receiptKey(r.MessageID), b, c.ttl).Err()
}

func (c *RedisCache) Receipt(ctx context.Context, messageID int64) (*Receipt, error) {
	raw, err := c.rdb.Get(ctx, receiptKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("receipt %d: %w", messageID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %d: %w", messageID, err)
	}
	return &r, nil
}
