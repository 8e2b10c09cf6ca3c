package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spanlight/spanlight/internal/models"
)

// Deduper fences duplicate notifications across instances sharing a
// store. Acquire returns false when another dispatch already claimed
// the key within its TTL.
type Deduper interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops an acquired key so a failed dispatch can retry
	// before the TTL expires.
	Release(ctx context.Context, key string) error
	Close() error
}

// dedupKey identifies one notification slot: the alert, the state it
// notified in, and the cooldown bucket the trigger falls into. Two
// instances racing the same transition compute the same key.
func dedupKey(alert *models.Alert, trigger *models.AlertTrigger) string {
	bucket := int64(0)
	if secs := int64(alert.CooldownDuration().Seconds()); secs > 0 {
		bucket = trigger.TriggeredAt.Unix() / secs
	}
	return fmt.Sprintf("spanlight:notify:%s:%s:%d", alert.ID, trigger.State, bucket)
}

// NoopDeduper always grants the key. Suitable for single-instance
// deployments without Redis.
type NoopDeduper struct{}

// Acquire always reports success.
func (NoopDeduper) Acquire(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

// Release is a no-op.
func (NoopDeduper) Release(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopDeduper) Close() error { return nil }

// RedisOptions configures the Redis-backed deduper.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisDeduper implements Deduper with Redis SET NX, giving every
// notification slot a single winner across instances.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper connects to Redis and verifies it responds.
func NewRedisDeduper(opts RedisOptions) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &RedisDeduper{client: client}, nil
}

// Acquire claims the key if no other instance holds it.
func (d *RedisDeduper) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, 1, ttl).Result()
}

// Release drops the key.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

// Ping checks the connection health.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
