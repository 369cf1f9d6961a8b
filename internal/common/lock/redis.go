package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"receipt-workers/internal/common/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a lease-based lock shared by every replica using the same Redis.
// The lease expires after ttl so a crashed holder cannot block others forever.
type Redis struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	interval time.Duration
	logger   logger.Logger
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *Redis {
	return &Redis{
		rdb:      rdb,
		ttl:      ttl,
		interval: 100 * time.Millisecond,
		logger:   log,
	}
}

func (r *Redis) Acquire(ctx context.Context, name string) (Release, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", name, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The holder's ctx may be done by now.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.rdb, []string{key}, token).Err(); err != nil {
				r.logger.Warn("redis lock release failed", map[string]interface{}{
					"lock":  name,
					"error": err,
				})
			}
		})
	}, nil
}
