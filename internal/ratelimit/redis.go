package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript checks and increments a fixed-window counter in one round trip.
// It returns {allowed, count, ttl_ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current == false then
	redis.call('SET', key, 1, 'PX', window)
	return {1, 1, window}
end

local count = tonumber(current)
local ttl = redis.call('PTTL', key)
if ttl < 0 then
	redis.call('PEXPIRE', key, window)
	ttl = window
end

if count < limit then
	count = redis.call('INCR', key)
	return {1, count, ttl}
end

return {0, count, ttl}
`)

// RedisStore keeps counters in Redis so several gateway instances share one
// quota. Keys expire with their window.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces counter keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis parses url, connects and pings the server.
func DialRedis(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStore(rdb, opts...), nil
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (int, time.Duration, bool, error) {
	res, err := takeScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key}, window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return 0, 0, false, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 3 {
		return 0, 0, false, fmt.Errorf("redis take: unexpected reply %v", res)
	}

	return int(res[1]), time.Duration(res[2]) * time.Millisecond, res[0] == 1, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
