package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// REDIS LOCKER - Shared across server instances
// =============================================================================

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by another holder is never released by us.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithRetryDelay sets the poll interval while a key is held elsewhere.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(r *Redis) { r.retryDelay = d }
}

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

func WithLogger(logger logrus.FieldLogger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

func withTokens(next func() string) RedisOption {
	return func(r *Redis) { r.token = next }
}

type Redis struct {
	client     redis.Cmdable
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
	token      func() string
	logger     logrus.FieldLogger
}

func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		ttl:        30 * time.Second,
		retryDelay: 25 * time.Millisecond,
		prefix:     "settlement:lock:",
		token:      func() string { return uuid.NewString() },
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := r.token()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-time.After(r.retryDelay):
		}
	}

	return func() {
		// Release must run even when the caller's ctx has been cancelled.
		if err := r.client.Eval(context.Background(), releaseScript, []string{k}, token).Err(); err != nil {
			r.logger.WithError(err).WithField("key", k).Warn("failed to release lock; it will expire")
		}
	}, nil
}
