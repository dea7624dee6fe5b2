package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLocker implements Locker with SET NX and a token checked on release,
// so several agents sharing one catalog never reconcile the same account at
// the same time.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(cfg RedisConfig) *RedisLocker {
	return NewRedisLockerWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

func NewRedisLockerWithClient(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Init verifies the server is reachable.
func (l *RedisLocker) Init(ctx context.Context) error {
	if err := l.Ping(ctx); err != nil {
		return fmt.Errorf("lock: redis unreachable: %w", err)
	}
	return nil
}

func (l *RedisLocker) Cleanup(ctx context.Context) error {
	return l.Close()
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: failed to acquire '%s': %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("lock: failed to release '%s': %w", key, err)
		}
		return nil
	}, nil
}
