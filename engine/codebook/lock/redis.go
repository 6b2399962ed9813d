package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/compozy/codebook/pkg/logger"
)

const defaultPrefix = "codebook:lock:"

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// refreshScript extends the expiry only while the key still holds our token.
const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, prefix string) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}, nil
}

// Open connects to url, verifies the connection and returns a locker plus a
// close function for the client.
func Open(ctx context.Context, url string, prefix string) (*RedisLocker, func() error, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("lock: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("lock: ping redis: %w", err)
	}
	locker, err := NewRedisLocker(client, prefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.FromContext(ctx).Debug("redis lock backend connected", "addr", opts.Addr, "prefix", locker.prefix)
	return locker, client.Close, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := l.prefix + resource
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %q: %w", resource, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, resource)
	}
	logger.FromContext(ctx).Debug("lock acquired", "resource", resource, "ttl", ttl)
	return &redisLock{client: l.client, key: key, resource: resource, token: token}, nil
}

type redisLock struct {
	client   redis.UniversalClient
	key      string
	resource string
	token    string
}

func (l *redisLock) Resource() string {
	return l.resource
}

func (l *redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	extended, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("lock: refresh %q: %w", l.resource, err)
	}
	if extended == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.resource)
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", l.resource, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.resource)
	}
	return nil
}
