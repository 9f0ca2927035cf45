package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb redis.UniversalClient
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if err := validate(name, ttl); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, unavailable(name)
	}

	return &Lease{Name: name, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (l *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{keyPrefix + lease.Name}, lease.Token).Err()
}
