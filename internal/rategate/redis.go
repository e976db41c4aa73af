package rategate

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps admission windows in a Redis sorted set per key, scored
// by request time in milliseconds. Useful when several server instances
// must share admission state.
type RedisStore struct {
	client *redis.Client
	prefix string
	seq    atomic.Uint64
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "rate:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "rate:"}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Admit(ctx context.Context, key string, policy Policy, now time.Time) (time.Duration, bool, error) {
	rkey := s.key(key)
	cutoff := now.Add(-policy.Window)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", strconv.FormatInt(cutoff.UnixMilli(), 10))
	card := pipe.ZCard(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("prune rate window: %w", err)
	}

	if card.Val() >= int64(policy.Limit) {
		retryAfter := policy.Window
		oldest, err := s.client.ZRangeWithScores(ctx, rkey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestAt := time.UnixMilli(int64(oldest[0].Score))
			retryAfter = oldestAt.Sub(cutoff)
		}
		return retryAfter, false, nil
	}

	// Member carries a sequence suffix so same-millisecond requests stay distinct.
	member := fmt.Sprintf("%d-%d", now.UnixMilli(), s.seq.Add(1))
	add := s.client.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	if err := add.Err(); err != nil {
		return 0, false, fmt.Errorf("record admission: %w", err)
	}
	_ = s.client.Expire(ctx, rkey, policy.Window+time.Minute).Err()
	return 0, true, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
