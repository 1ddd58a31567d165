package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

func NewRedisWorkflowLock(redisClient redis.Cmdable) WorkflowLock {
	return &redisWorkflowLock{redisClient: redisClient}
}

type redisWorkflowLock struct {
	redisClient redis.Cmdable
}

func (d *redisWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, ttl time.Duration, f func(context.Context) error) error {
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		return f(ctx)
	}
	token := lockToken()
	locked, err := d.redisClient.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return errors.WithMessagef(LockFailedError, "[redisWorkflowLock] key %s, err: %v", key, err)
	}
	if !locked {
		return errors.WithMessagef(LockFailedError, "[redisWorkflowLock] key %s has been locked", key)
	}
	defer d.release(key, token)
	return f(context.WithValue(ctx, lockKey(key), token))
}

func (d *redisWorkflowLock) release(key string, token string) {
	// ctx 可能已经被 cancel, 释放锁用新的 context
	reply, err := releaseScript.Run(context.Background(), d.redisClient, []string{key}, token).Int64()
	if err != nil {
		slog.Warn("release redis lock failed", "key", key, "err", err)
		return
	}
	if reply != 1 {
		slog.Warn("redis lock already expired", "key", key)
	}
}
