package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// statusAny 表里面的通配项, 它的目标状态从任何状态都可以到达
const statusAny = "any"

var validClientStatusChanges = map[ClientStatus][]ClientStatus{
	statusAny:              {ClientStatusErrored},
	ClientStatusPending:    {ClientStatusReady},
	ClientStatusReady:      {ClientStatusReceived},
	ClientStatusReceived:   {ClientStatusProcessing, ClientStatusComplete},
	ClientStatusProcessing: {ClientStatusComplete},
	ClientStatusErrored:    {ClientStatusReady},
	ClientStatusComplete:   {ClientStatusComplete},
}

var validServerStatusChanges = map[ServerStatus][]ServerStatus{
	statusAny:                      {ServerStatusDeactivated, ServerStatusErrored, ServerStatusRetrying},
	ServerStatusDeactivated:        {ServerStatusDeactivated},
	ServerStatusPending:            {ServerStatusReady},
	ServerStatusReady:              {ServerStatusStarted},
	ServerStatusStarted:            {ServerStatusSentToClient, ServerStatusPaused},
	ServerStatusSentToClient:       {ServerStatusProcessingChildren},
	ServerStatusPaused:             {ServerStatusStarted},
	ServerStatusProcessingChildren: {ServerStatusComplete},
	ServerStatusErrored:            {ServerStatusRetrying},
	ServerStatusRetrying:           {ServerStatusReady},
	ServerStatusComplete:           {ServerStatusComplete},
}

func contains[T comparable](list []T, target T) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func IsValidClientStatusChange(from, to ClientStatus) bool {
	return contains(validClientStatusChanges[from], to) || contains(validClientStatusChanges[statusAny], to)
}

func IsValidServerStatusChange(from, to ServerStatus) bool {
	return contains(validServerStatusChanges[from], to) || contains(validServerStatusChanges[statusAny], to)
}

// StateManager 节点状态唯一的修改入口
// 写入是条件更新: id + 内存里已知的状态, 没有命中说明被别的 worker 改过了
type StateManager struct {
	repo   WorkflowRepo
	node   *Node
	logger *slog.Logger
}

func NewStateManager(repo WorkflowRepo, node *Node, logger *slog.Logger) *StateManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateManager{repo: repo, node: node, logger: logger}
}

func (m *StateManager) Node() *Node {
	return m.node
}

// CurrentStatuses workflow 没有状态, 返回空
func (m *StateManager) CurrentStatuses() Statuses {
	if m.node.IsWorkflow() {
		return Statuses{}
	}
	return m.node.Statuses
}

// Transition 每个轴单独校验, 然后一次条件更新
func (m *StateManager) Transition(ctx context.Context, statuses Statuses) error {
	if m.node.IsWorkflow() || statuses.IsEmpty() {
		return nil
	}
	current := m.node.Statuses
	if statuses.Client != "" && !IsValidClientStatusChange(current.Client, statuses.Client) {
		return &InvalidClientStatusChangeError{CurrentStatus: current.Client, AttemptedStatus: statuses.Client}
	}
	if statuses.Server != "" && !IsValidServerStatusChange(current.Server, statuses.Server) {
		return &InvalidServerStatusChangeError{CurrentStatus: current.Server, AttemptedStatus: statuses.Server}
	}
	return m.updateStatuses(ctx, statuses)
}

// Rollback 不校验直接写, 只用于撤销失败的多步操作
func (m *StateManager) Rollback(ctx context.Context, statuses Statuses) error {
	if m.node.IsWorkflow() || statuses.IsEmpty() {
		return nil
	}
	return m.updateStatuses(ctx, statuses)
}

// WithRollback 执行 fn, 失败时把状态恢复到 fn 执行前(合并 overrides)
// 非法状态变化不回滚, 原样返回; 回滚本身失败只打日志, 返回的始终是 fn 的错误
// fn panic 时同样回滚, 然后继续 panic
func (m *StateManager) WithRollback(ctx context.Context, overrides Statuses, fn func(ctx context.Context, manager *StateManager) error) error {
	target := m.CurrentStatuses().Merge(overrides)
	defer func() {
		if r := recover(); r != nil {
			m.restore(ctx, target, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err := fn(ctx, m)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidStatusChange) {
		return err
	}
	m.restore(ctx, target, err)
	return err
}

func (m *StateManager) restore(ctx context.Context, target Statuses, cause error) {
	if target == m.CurrentStatuses() {
		return
	}
	if rollbackErr := m.Rollback(ctx, target); rollbackErr != nil {
		m.logger.ErrorContext(ctx, "rollback statuses failed",
			"node_id", m.node.ID,
			"target", target,
			"rollback_err", rollbackErr,
			"err", cause)
	}
}

func (m *StateManager) updateStatuses(ctx context.Context, statuses Statuses) error {
	before := m.node.Statuses
	fields := &UpdateNodeStatusesField{}
	changes := make([]*StatusChangePo, 0, 2)
	if statuses.Client != "" {
		fields.CurrentClientStatus = String(string(statuses.Client))
		changes = append(changes, &StatusChangePo{
			NodeID:     m.node.ID,
			StatusType: string(StatusTypeClient),
			FromStatus: string(before.Client),
			ToStatus:   string(statuses.Client),
		})
	}
	if statuses.Server != "" {
		fields.CurrentServerStatus = String(string(statuses.Server))
		changes = append(changes, &StatusChangePo{
			NodeID:     m.node.ID,
			StatusType: string(StatusTypeServer),
			FromStatus: string(before.Server),
			ToStatus:   string(statuses.Server),
		})
	}

	var fresh *NodePo
	err := m.repo.Transaction(ctx, func(ctx context.Context) error {
		rowsAffected, err := m.repo.UpdateNodeStatuses(ctx, &UpdateNodeStatusesParams{
			Where: &UpdateNodeStatusesWhere{
				ID:                  m.node.ID,
				CurrentClientStatus: string(before.Client),
				CurrentServerStatus: string(before.Server),
			},
			Fields: fields,
		})
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return newStaleStatusChangeError(m.node.ID)
		}
		if err := m.repo.CreateStatusChanges(ctx, changes); err != nil {
			return err
		}
		fresh, err = m.repo.GetNode(ctx, m.node.ID)
		return err
	})
	if err != nil {
		return err
	}
	reloaded := nodePoToEntity(fresh)
	*m.node = *reloaded
	return nil
}
