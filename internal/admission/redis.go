package admission

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/copilot-relay/internal/domain"
)

// RedisLimiter enforces a requests-per-minute limit with a sliding
// window in Redis, shared across relay instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int
}

func NewRedisLimiter(redisURL string, limit int) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{client: client, limit: limit}, nil
}

func (l *RedisLimiter) Admit(ctx context.Context, key string) error {
	rkey := "admission:" + key
	now := time.Now()
	windowStart := now.Add(-time.Minute)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, rkey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	countCmd := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if int(countCmd.Val()) > l.limit {
		return domain.ErrRateLimitExceeded
	}
	return nil
}

// Client exposes the underlying connection for health checks.
func (l *RedisLimiter) Client() *redis.Client {
	return l.client
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
