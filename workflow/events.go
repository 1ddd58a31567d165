package workflow

import (
	"context"

	"github.com/pkg/errors"
)

// EventType 事件的类型, 每个类型对应 handlerFor 里面的一个处理函数
type EventType string

const (
	EventMarkChildrenReady EventType = "MarkChildrenReady"
	EventChildrenReady     EventType = "ChildrenReady"
	EventScheduleNextNode  EventType = "ScheduleNextNode"
	EventStartNode         EventType = "StartNode"
	EventClientProcessing  EventType = "ClientProcessing"
	EventClientComplete    EventType = "ClientComplete"
	EventClientError       EventType = "ClientError"
	EventNodeComplete      EventType = "NodeComplete"
	EventRetryNode         EventType = "RetryNode"
	EventResetNode         EventType = "ResetNode"
	EventPauseNode         EventType = "PauseNode"
	EventResumeNode        EventType = "ResumeNode"
)

var AllEventTypes = []EventType{
	EventMarkChildrenReady, EventChildrenReady, EventScheduleNextNode, EventStartNode,
	EventClientProcessing, EventClientComplete, EventClientError, EventNodeComplete,
	EventRetryNode, EventResetNode, EventPauseNode, EventResumeNode,
}

// eventHandler 事件处理函数, scheduler 是当前这次执行的上下文, 后续事件通过它或者新的 scheduler 触发
type eventHandler func(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error

func handlerFor(event EventType) (eventHandler, bool) {
	switch event {
	case EventMarkChildrenReady:
		return markChildrenReady, true
	case EventChildrenReady:
		return childrenReady, true
	case EventScheduleNextNode:
		return scheduleNextNode, true
	case EventStartNode:
		return startNode, true
	case EventClientProcessing:
		return clientProcessing, true
	case EventClientComplete:
		return clientComplete, true
	case EventClientError:
		return clientError, true
	case EventNodeComplete:
		return nodeComplete, true
	case EventRetryNode:
		return retryNode, true
	case EventResetNode:
		return resetNode, true
	case EventPauseNode:
		return pauseNode, true
	case EventResumeNode:
		return resumeNode, true
	}
	return nil, false
}

// LookupEventType 异步任务里面存的是事件名
func LookupEventType(name string) (EventType, error) {
	event := EventType(name)
	if _, ok := handlerFor(event); !ok {
		return "", errors.WithMessagef(ErrEventTypeNotFound, "event: %s", name)
	}
	return event, nil
}

// countsTowardsParent fire_and_forget 的节点父节点不等它
func countsTowardsParent(child *Node) bool {
	return !child.IsDeactivated() && child.Mode != NodeModeFireAndForget
}

func markChildrenReady(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error {
	children, err := e.children(ctx, node)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.IsDeactivated() {
			continue
		}
		if child.Statuses != (Statuses{Client: ClientStatusPending, Server: ServerStatusPending}) {
			continue
		}
		if err := e.stateManager(child).Transition(ctx, Statuses{Client: ClientStatusReady, Server: ServerStatusReady}); err != nil {
			return err
		}
	}
	return e.FireEvent(ctx, EventChildrenReady, node, scheduler)
}

func childrenReady(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error {
	children, err := e.children(ctx, node)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.IsDeactivated() {
			continue
		}
		if child.ServerStatus() == ServerStatusPending {
			return nil
		}
	}
	return e.FireEvent(ctx, EventScheduleNextNode, node, scheduler)
}

func scheduleNextNode(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error {
	children, err := e.children(ctx, node)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.IsDeactivated() || child.ServerStatus() == ServerStatusComplete {
			continue
		}
		if child.ServerStatus() == ServerStatusReady {
			if err := e.stateManager(child).Transition(ctx, Statuses{Server: ServerStatusStarted}); err != nil {
				return err
			}
			if err := e.FireEvent(ctx, EventStartNode, child, e.ScheduleAt()); err != nil {
				return err
			}
		}
		// 阻塞节点没完成, 后面的兄弟节点都不能开始
		if child.Mode == NodeModeBlocking {
			break
		}
	}

	if node.IsWorkflow() {
		return nil
	}
	for _, child := range children {
		if countsTowardsParent(child) && child.ServerStatus() != ServerStatusComplete {
			return nil
		}
	}
	return e.FireEvent(ctx, EventNodeComplete, node, scheduler)
}

func startNode(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error {
	if node.IsWorkflow() {
		return nil
	}
	// 暂停之后已经入队的定时任务
	if node.ServerStatus() != ServerStatusStarted {
		e.logger.WarnContext(ctx, "skip StartNode, node not started",
			"node_id", node.ID, "server_status", node.ServerStatus())
		return nil
	}
	manager := e.stateManager(node)
	if !node.NodeDetail.LegacyType.PerformsClientAction() {
		if err := manager.Transition(ctx, Statuses{Client: ClientStatusReceived, Server: ServerStatusSentToClient}); err != nil {
			return err
		}
		if err := manager.Transition(ctx, Statuses{Client: ClientStatusComplete, Server: ServerStatusProcessingChildren}); err != nil {
			return err
		}
		if node.NodeDetail.CompleteWorkflow {
			changed, err := e.repo.MarkWorkflowComplete(ctx, node.WorkflowID)
			if err != nil {
				return err
			}
			if changed {
				e.logger.InfoContext(ctx, "workflow complete", "workflow_id", node.WorkflowID, "node_id", node.ID)
			}
		}
		return e.FireEvent(ctx, EventMarkChildrenReady, node, scheduler)
	}

	return manager.WithRollback(ctx, Statuses{}, func(ctx context.Context, manager *StateManager) error {
		if err := manager.Transition(ctx, Statuses{Client: ClientStatusReceived, Server: ServerStatusSentToClient}); err != nil {
			return err
		}
		action := newClientAction(node, attemptOf(scheduler))
		if err := e.notifier.Notify(ctx, action); err != nil {
			return errors.WithMessagef(ErrClientActionFailed, "node id: %s, err: %v", node.ID, err)
		}
		return nil
	})
}

func clientProcessing(ctx context.Context, e *Engine, node *Node, _ Scheduler) error {
	return e.stateManager(node).Transition(ctx, Statuses{Client: ClientStatusProcessing})
}

func clientComplete(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error {
	return e.stateManager(node).WithRollback(ctx, Statuses{}, func(ctx context.Context, manager *StateManager) error {
		if err := manager.Transition(ctx, Statuses{Client: ClientStatusComplete, Server: ServerStatusProcessingChildren}); err != nil {
			return err
		}
		return e.FireEvent(ctx, EventMarkChildrenReady, node, scheduler)
	})
}

func clientError(ctx context.Context, e *Engine, node *Node, scheduler Scheduler) error {
	if err := e.stateManager(node).Transition(ctx, Statuses{Client: ClientStatusErrored}); err != nil {
		return err
	}
	return e.handleDomainFailure(ctx, node, attemptOf(scheduler), errors.New("client reported error"))
}

func nodeComplete(ctx context.Context, e *Engine, node *Node, _ Scheduler) error {
	if err := e.stateManager(node).Transition(ctx, Statuses{Server: ServerStatusComplete}); err != nil {
		return err
	}
	parent, err := e.parent(ctx, node)
	if err != nil {
		return err
	}
	return e.FireEvent(ctx, EventScheduleNextNode, parent, e.ScheduleNow())
}

func retryNode(ctx context.Context, e *Engine, node *Node, _ Scheduler) error {
	manager := e.stateManager(node)
	statuses := Statuses{Server: ServerStatusReady}
	if node.ClientStatus() == ClientStatusErrored {
		statuses.Client = ClientStatusReady
	}
	if err := manager.Transition(ctx, statuses); err != nil {
		return err
	}
	if err := manager.Transition(ctx, Statuses{Server: ServerStatusStarted}); err != nil {
		return err
	}
	return e.FireEvent(ctx, EventStartNode, node, e.ScheduleNow())
}

// resetNode 停用整棵子树, 已经入队的任务在执行时会因为 deactivated 跳过
func resetNode(ctx context.Context, e *Engine, node *Node, _ Scheduler) error {
	worklist, err := e.children(ctx, node)
	if err != nil {
		return err
	}
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if !current.IsDeactivated() {
			if err := e.stateManager(current).Transition(ctx, Statuses{Server: ServerStatusDeactivated}); err != nil {
				return err
			}
		}
		children, err := e.children(ctx, current)
		if err != nil {
			return err
		}
		worklist = append(worklist, children...)
	}
	return nil
}

func pauseNode(ctx context.Context, e *Engine, node *Node, _ Scheduler) error {
	return e.stateManager(node).Transition(ctx, Statuses{Server: ServerStatusPaused})
}

func resumeNode(ctx context.Context, e *Engine, node *Node, _ Scheduler) error {
	if node.ServerStatus() != ServerStatusPaused {
		return &InvalidServerStatusChangeError{CurrentStatus: node.ServerStatus(), AttemptedStatus: ServerStatusStarted}
	}
	if err := e.stateManager(node).Transition(ctx, Statuses{Server: ServerStatusStarted}); err != nil {
		return err
	}
	return e.FireEvent(ctx, EventStartNode, node, e.ScheduleNow())
}
