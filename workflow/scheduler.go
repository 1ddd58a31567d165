package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
)

// Scheduler 决定事件怎么执行: 当场执行, 或者交给 AsyncWorker 稍后执行
type Scheduler interface {
	Call(ctx context.Context, event EventType, node *Node) error
}

// PerformEvent 当场执行事件, 是单次事件执行的错误边界
// 非法状态变化和并发冲突原样返回, 其他错误当作业务失败, 转成 errored 并按重试次数决定是否重试
type PerformEvent struct {
	engine  *Engine
	attempt int64
}

func (e *Engine) PerformEvent(attempt int64) *PerformEvent {
	return &PerformEvent{engine: e, attempt: attempt}
}

func (p *PerformEvent) Attempt() int64 {
	return p.attempt
}

func (p *PerformEvent) Call(ctx context.Context, event EventType, node *Node) error {
	handler, ok := handlerFor(event)
	if !ok {
		return errors.WithMessagef(ErrEventTypeNotFound, "event: %s", event)
	}
	err := p.run(ctx, handler, node)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidStatusChange) || errors.Is(err, ErrStaleStatusChange) {
		return err
	}
	p.engine.logger.ErrorContext(ctx, "event failed",
		"event", event,
		"node_id", node.ID,
		"attempt", p.attempt,
		"err", err)
	return p.engine.handleDomainFailure(ctx, node, p.attempt, err)
}

func (p *PerformEvent) run(ctx context.Context, handler eventHandler, node *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event panic: %v, stack: %s", r, debug.Stack())
		}
	}()
	return handler(ctx, p.engine, node, p)
}

// ScheduleNow 立即入队
type ScheduleNow struct {
	engine *Engine
}

func (e *Engine) ScheduleNow() *ScheduleNow {
	return &ScheduleNow{engine: e}
}

func (s *ScheduleNow) Call(ctx context.Context, event EventType, node *Node) error {
	return s.engine.worker.Schedule(ctx, event, node, s.engine.Now(), 0)
}

// ScheduleAt 在节点的 fires_at 入队, 定时器依赖这个
type ScheduleAt struct {
	engine *Engine
}

func (e *Engine) ScheduleAt() *ScheduleAt {
	return &ScheduleAt{engine: e}
}

func (s *ScheduleAt) Call(ctx context.Context, event EventType, node *Node) error {
	fireAt := node.FiresAt
	if fireAt.IsZero() {
		fireAt = s.engine.Now()
	}
	return s.engine.worker.Schedule(ctx, event, node, fireAt, 0)
}

// ScheduleRetry 在 now + retry_interval(分钟) 入队
type ScheduleRetry struct {
	engine  *Engine
	attempt int64
}

func (e *Engine) ScheduleRetry(attempt int64) *ScheduleRetry {
	return &ScheduleRetry{engine: e, attempt: attempt}
}

func (s *ScheduleRetry) Call(ctx context.Context, event EventType, node *Node) error {
	fireAt := s.engine.Now().Add(time.Duration(node.NodeDetail.RetryInterval) * time.Minute)
	return s.engine.worker.Schedule(ctx, event, node, fireAt, s.attempt)
}

func attemptOf(scheduler Scheduler) int64 {
	if p, ok := scheduler.(*PerformEvent); ok {
		return p.attempt
	}
	return 0
}

// handleDomainFailure 两个状态轴都置为 errored, 还有重试次数就扣一次并安排 RetryNode, 否则停在 errored
// 客户端可能已经走过了 ready, RetryNode 只能从 errored 把它拉回 ready
func (e *Engine) handleDomainFailure(ctx context.Context, node *Node, attempt int64, cause error) error {
	if node.IsWorkflow() {
		return nil
	}
	manager := e.stateManager(node)
	failed := Statuses{Server: ServerStatusErrored}
	if node.ClientStatus() != ClientStatusErrored {
		failed.Client = ClientStatusErrored
	}
	if err := manager.Transition(ctx, failed); err != nil {
		return errors.WithMessagef(err, "mark node errored failed, cause: %v", cause)
	}
	remaining := node.NodeDetail.RetriesRemaining
	if remaining <= 0 {
		e.logger.WarnContext(ctx, "node errored, no retries remaining", "node_id", node.ID, "attempt", attempt)
		return nil
	}
	rowsAffected, err := e.repo.UpdateNode(ctx, &UpdateNodeParams{
		Where:  &UpdateNodeWhere{ID: node.ID, RetriesRemaining: Int64(remaining)},
		Fields: &UpdateNodeField{RetriesRemaining: Int64(remaining - 1)},
	})
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.WithMessagef(ErrRetryBudgetConflict, "node id: %s", node.ID)
	}
	node.NodeDetail.RetriesRemaining = remaining - 1
	if err := manager.Transition(ctx, Statuses{Server: ServerStatusRetrying}); err != nil {
		return err
	}
	return e.FireEvent(ctx, EventRetryNode, node, e.ScheduleRetry(attempt+1))
}
