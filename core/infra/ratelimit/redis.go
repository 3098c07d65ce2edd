package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyqddx/shuyuan/core/infra/logging"
)

const component = "ratelimit"

// Redis is a fixed-window limiter sharing counters across instances.
// When Redis is unreachable the limiter fails open: serving an extra
// request beats refusing all of them.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis connects to the given redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client, now: time.Now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	start := windowStart(r.now(), window)
	counter := "ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, counter)
	// Keep the counter one extra window so clock skew between
	// instances cannot expire it early.
	pipe.Expire(ctx, counter, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Warn(component, "redis unavailable, failing open", "error", err)
		return true, nil
	}
	return incr.Val() <= int64(limit), nil
}

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
