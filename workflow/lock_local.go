package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

func NewLocalWorkflowLock() WorkflowLock {
	return &localWorkflowLock{
		locks: &sync.Map{},
	}
}

// localWorkflowLock 单进程使用, 多进程部署要用 redis 锁
type localWorkflowLock struct {
	locks *sync.Map // key -> *localLockEntry, entry 不删除
}

type localLockEntry struct {
	mu    sync.Mutex // 锁本身
	guard sync.Mutex // 保护 token 和 timer
	token string
	timer *time.Timer
}

func (l *localWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, ttl time.Duration, f func(context.Context) error) error {
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		// 已经持有锁
		return f(ctx)
	}

	value, _ := l.locks.LoadOrStore(key, &localLockEntry{})
	entry := value.(*localLockEntry)
	if !entry.mu.TryLock() {
		return errors.WithMessagef(LockFailedError, "[localWorkflowLock] key %s has been locked", key)
	}
	token := lockToken()
	entry.guard.Lock()
	entry.token = token
	entry.timer = time.AfterFunc(ttl, func() {
		l.release(key, entry, token)
	})
	entry.guard.Unlock()
	defer l.release(key, entry, token)
	return f(context.WithValue(ctx, lockKey(key), token))
}

func (l *localWorkflowLock) release(key string, entry *localLockEntry, token string) {
	entry.guard.Lock()
	defer entry.guard.Unlock()
	if entry.token != token {
		// 超时之后已经被释放
		slog.Debug("local lock token mismatch", "key", key)
		return
	}
	entry.token = ""
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.mu.Unlock()
}
