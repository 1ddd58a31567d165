package workflow

import (
	"context"
	"time"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusDead    JobStatus = "dead"
)

// Job 延迟执行的事件, 只保存节点的类型和ID, 执行的时候重新加载节点
type Job struct {
	ID         int64     `json:"id"`
	EventType  EventType `json:"event_type"`
	NodeType   NodeKind  `json:"node_type"`
	NodeID     string    `json:"node_id"`
	Attempt    int64     `json:"attempt"`    // 事件的重试次数, 透传给 PerformEvent
	Deliveries int64     `json:"deliveries"` // 任务本身被执行的次数
	FiresAt    time.Time `json:"fires_at"`
	Status     JobStatus `json:"status"`
	LastError  string    `json:"last_error,omitempty"`
}

// JobQueue 任务队列, 至少一次投递
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	// ClaimDue 认领 fires_at <= now 的任务, pending -> running 是条件更新, 结果按入队顺序
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Retry 任务执行失败, 在 at 重新变成 pending
	Retry(ctx context.Context, job *Job, at time.Time, cause error) error
	// Bury 不再重试
	Bury(ctx context.Context, job *Job, cause error) error
}
