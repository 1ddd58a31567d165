package workflow

import (
	"context"
)

// WorkflowRepo 持久化边界, 节点状态只允许通过 UpdateNodeStatuses 的条件更新修改
type WorkflowRepo interface {
	CreateWorkflow(ctx context.Context, workflow *WorkflowPo) (*WorkflowPo, error)
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowPo, error)
	QueryWorkflow(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowPo, error)
	// MarkWorkflowComplete complete 只会从 false 变成 true 一次, 返回是否是这次调用改的
	MarkWorkflowComplete(ctx context.Context, workflowID string) (bool, error)

	CreateNode(ctx context.Context, node *NodePo) (*NodePo, error)
	GetNode(ctx context.Context, nodeID string) (*NodePo, error)
	QueryNode(ctx context.Context, param *QueryNodeParams) ([]*NodePo, error)
	CountNode(ctx context.Context, param *QueryNodeParams) (int64, error)
	// UpdateNodeStatuses 条件更新, 返回命中并修改的行数, 0 表示状态已经被别人改了
	UpdateNodeStatuses(ctx context.Context, param *UpdateNodeStatusesParams) (int64, error)
	// UpdateNode 非状态字段的条件更新, 返回修改的行数
	UpdateNode(ctx context.Context, param *UpdateNodeParams) (int64, error)

	CreateStatusChanges(ctx context.Context, changes []*StatusChangePo) error
	QueryStatusChange(ctx context.Context, param *QueryStatusChangeParams) ([]*StatusChangePo, error)

	// QueryWorkflowIDsByNode 排查用, 按节点条件聚合出工作流ID
	QueryWorkflowIDsByNode(ctx context.Context, param *QueryWorkflowIDsByNodeParams) ([]string, error)

	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
