package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type ScheduleParams struct {
	EventType EventType `json:"event_type" validate:"required"`
	NodeType  NodeKind  `json:"node_type" validate:"required,oneof=node workflow"`
	NodeID    string    `json:"node_id" validate:"required"`
	FiresAt   time.Time `json:"fires_at" validate:"required"`
	Attempt   int64     `json:"attempt" validate:"gte=0"`
}

// AsyncWorker "稍后执行" 和 "执行" 之间的边界
type AsyncWorker struct {
	engine *Engine
}

func newAsyncWorker(engine *Engine) *AsyncWorker {
	return &AsyncWorker{engine: engine}
}

func errorsNodeType(nodeType NodeKind) error {
	return errors.WithMessagef(ErrNodeTypeNotFound, "node type: %s", nodeType)
}

// Schedule 只保存节点的类型和ID, 执行的时候重新加载, 避免用到过期的内存数据
func (w *AsyncWorker) Schedule(ctx context.Context, event EventType, node *Node, fireAt time.Time, attempt int64) error {
	params := &ScheduleParams{
		EventType: event,
		NodeType:  node.NodeType(),
		NodeID:    node.ID,
		FiresAt:   fireAt,
		Attempt:   attempt,
	}
	if err := validateParams(params); err != nil {
		return err
	}
	if _, ok := handlerFor(event); !ok {
		return errors.WithMessagef(ErrEventTypeNotFound, "event: %s", event)
	}
	job := &Job{
		EventType: params.EventType,
		NodeType:  params.NodeType,
		NodeID:    params.NodeID,
		Attempt:   params.Attempt,
		FiresAt:   params.FiresAt,
	}
	if err := w.engine.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	w.engine.logger.DebugContext(ctx, "event scheduled",
		"event", event,
		"node_id", node.ID,
		"job_id", job.ID,
		"fires_at", fireAt,
		"attempt", attempt)
	return nil
}

// Perform 任务到期时执行, deactivated 的节点直接跳过
func (w *AsyncWorker) Perform(ctx context.Context, eventName string, nodeType string, nodeID string, attempt int64) error {
	event, err := LookupEventType(eventName)
	if err != nil {
		return err
	}
	kind := NodeKind(nodeType)
	if kind != NodeKindNode && kind != NodeKindWorkflow {
		return errorsNodeType(kind)
	}
	node, err := w.engine.LoadNode(ctx, kind, nodeID)
	if err != nil {
		return err
	}
	if node.IsDeactivated() {
		w.engine.logger.InfoContext(ctx, "skip event on deactivated node", "event", event, "node_id", nodeID)
		return nil
	}
	return w.engine.FireEvent(ctx, event, node, w.engine.PerformEvent(attempt))
}

// RunJob 执行一个已经认领的任务, 失败的任务按退避重新入队, 超过次数或者不可重试的直接埋掉
func (w *AsyncWorker) RunJob(ctx context.Context, job *Job) error {
	e := w.engine
	performErr := w.Perform(ctx, string(job.EventType), string(job.NodeType), job.NodeID, job.Attempt)
	if performErr == nil {
		return e.queue.Complete(ctx, job)
	}

	logArgs := []any{"job_id", job.ID, "event", job.EventType, "node_id", job.NodeID, "deliveries", job.Deliveries, "err", performErr}
	if IsSeriousError(performErr) {
		e.logger.ErrorContext(ctx, "job failed", logArgs...)
	} else {
		e.logger.WarnContext(ctx, "job failed", logArgs...)
	}
	if !isRetryableJobError(performErr) || job.Deliveries >= e.config.MaxJobDeliveries {
		return e.queue.Bury(ctx, job, performErr)
	}
	backoff := e.config.JobRetryBackoff * time.Duration(job.Deliveries)
	return e.queue.Retry(ctx, job, e.Now().Add(backoff), performErr)
}

// isRetryableJobError 规则冲突和找不到数据重试也不会成功
func isRetryableJobError(err error) bool {
	return !errors.Is(err, ErrInvalidStatusChange) &&
		!errors.Is(err, ErrNodeNotFound) &&
		!errors.Is(err, ErrWorkflowNotFound) &&
		!errors.Is(err, ErrEventTypeNotFound) &&
		!errors.Is(err, ErrNodeTypeNotFound)
}

// Drain 同步执行所有已经到期的任务, 执行过程中新产生的到期任务也会执行, 直到没有到期任务
// 用引擎的时钟判断是否到期, 未来的任务不会执行
func (w *AsyncWorker) Drain(ctx context.Context) (int, error) {
	performed := 0
	for {
		if err := ctx.Err(); err != nil {
			return performed, err
		}
		jobs, err := w.engine.queue.ClaimDue(ctx, w.engine.Now(), w.engine.config.DrainBatchSize)
		if err != nil {
			return performed, err
		}
		if len(jobs) == 0 {
			return performed, nil
		}
		for _, job := range jobs {
			if err := w.RunJob(ctx, job); err != nil {
				return performed, err
			}
			performed++
		}
	}
}
