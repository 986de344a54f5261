package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Deletes the key only if it still holds our token, so an expired lock taken
// over by another holder is never released by us.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisLocker is a Locker shared between processes, using SET NX with an expiry.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
	logger        *slog.Logger
}

// NewRedisLocker creates a RedisLocker. Keys are stored as prefix+key.
func NewRedisLocker(client *redis.Client, prefix string, expiration, retryInterval time.Duration, maxRetries int) *RedisLocker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		expiration:    expiration,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		logger:        slog.Default(),
	}
}

// TryLock makes a single attempt to take the lock.
func (l *RedisLocker) TryLock(ctx context.Context, key, token string) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, token, l.expiration).Result()
}

// Lock retries TryLock until it succeeds, ctx is done or retries run out.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for i := 0; i < l.maxRetries; i++ {
		ok, err := l.TryLock(ctx, key, token)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// The caller's context may already be cancelled.
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				l.client.Eval(unlockCtx, unlockScript, []string{l.prefix + key}, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	return nil, ErrLockFailed
}

// release runs the unlock script. A failed release leaves the key held until
// it expires, so it is logged rather than dropped.
func (l *RedisLocker) release(key, token string) {
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := l.client.Eval(ctx, unlockScript, []string{l.prefix + key}, token).Int()
	if err != nil {
		l.logger.Error("failed to release lock", "key", l.prefix+key, "error", err)
		return
	}
	if n == 0 {
		l.logger.Warn("lock expired before release", "key", l.prefix+key, "ttl", l.expiration)
	}
}
