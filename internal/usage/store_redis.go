package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKey is the key prefix for usage counters.
	DefaultRedisKey = "llmrelay:usage"

	// DefaultRedisTTL bounds how long counters survive without new traffic.
	DefaultRedisTTL = 24 * time.Hour
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0")
	URL string

	// Key is the prefix for usage keys (defaults to "llmrelay:usage")
	Key string

	// TTL is refreshed on every write (defaults to 24 hours)
	TTL time.Duration
}

// RedisStore aggregates usage in Redis hashes so several relay instances
// share one set of counters. Layout:
//
//	<key>:providers        set of provider names
//	<key>:provider:<name>  hash {requests, tokens}
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreWithClient(client, cfg.Key, cfg.TTL)
	if logger != nil {
		logger.Info("redis usage store connected", "key", s.key, "ttl", s.ttl)
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. Empty key and zero ttl use the defaults.
func NewRedisStoreWithClient(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

func (s *RedisStore) providersKey() string { return s.key + ":providers" }

func (s *RedisStore) providerKey(name string) string { return s.key + ":provider:" + name }

// WriteBatch implements Store with one pipelined round trip per batch.
func (s *RedisStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	type delta struct{ requests, tokens int64 }
	deltas := make(map[string]*delta)
	for _, e := range entries {
		if e == nil {
			continue
		}
		d, ok := deltas[e.Provider]
		if !ok {
			d = &delta{}
			deltas[e.Provider] = d
		}
		d.requests++
		d.tokens += int64(e.Tokens)
	}

	pipe := s.client.TxPipeline()
	for name, d := range deltas {
		key := s.providerKey(name)
		pipe.HIncrBy(ctx, key, "requests", d.requests)
		pipe.HIncrBy(ctx, key, "tokens", d.tokens)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, s.providersKey(), name)
	}
	pipe.Expire(ctx, s.providersKey(), s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write usage to redis: %w", err)
	}
	return nil
}

// Totals implements Store.
func (s *RedisStore) Totals(ctx context.Context) (map[string]Totals, error) {
	names, err := s.client.SMembers(ctx, s.providersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list usage providers: %w", err)
	}

	out := make(map[string]Totals, len(names))
	for _, name := range names {
		fields, err := s.client.HGetAll(ctx, s.providerKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read usage for %s: %w", name, err)
		}
		if len(fields) == 0 {
			// expired while the set entry survived
			continue
		}
		out[name] = Totals{
			Requests: parseCounter(fields["requests"]),
			Tokens:   parseCounter(fields["tokens"]),
		}
	}
	return out, nil
}

func parseCounter(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Flush implements Store. Writes are synchronous so there is nothing pending.
func (s *RedisStore) Flush(context.Context) error { return nil }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
