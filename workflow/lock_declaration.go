package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	LockFailedError = errors.New("lock failed")
)

// WorkflowLock 进程间互斥, Runner 认领任务的时候用
type WorkflowLock interface {
	// NonBlockingSynchronized
	//  @Description:  1.非阻塞,拿不到锁立刻返回 LockFailedError
	//                 2.同一个 ctx 链路上可以重入
	//  @param ctx 原来的ctx
	//  @param key 锁的key
	//  @param ttl 锁最长持有时间, 到期自动释放
	//  @param f 持有锁时执行的闭包
	//  @return error
	NonBlockingSynchronized(ctx context.Context, key string, ttl time.Duration, f func(context.Context) error) error
}

type lockKey string

func lockToken() string {
	return uuid.NewString()
}
