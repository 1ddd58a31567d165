package workflow

import (
	"context"
	"time"
)

type WorkflowService interface {
	/**
	 * @description: 创建工作流, 只创建根, 节点通过 AddNode 添加
	 * @param ctx context.Context
	 * @param req *CreateWorkflowReq
	 * @return *Workflow, error
	 */
	CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*Workflow, error)
	/**
	 * @description: 添加节点, 新节点状态是 (pending, pending), position 是当前兄弟节点的个数
	 *				 req.ParentID 为空表示顶层节点
	 *				 一般在 decision 节点执行过程中由客户端添加子节点, 客户端完成后子节点开始执行
	 * @param ctx context.Context
	 * @param req *AddNodeReq
	 * @return *Node, error
	 */
	AddNode(ctx context.Context, req *AddNodeReq) (*Node, error)
	/**
	 * @description: 启动工作流, 异步触发 workflow 的 MarkChildrenReady
	 * @param ctx context.Context
	 * @param workflowID string
	 * @return error
	 */
	StartWorkflow(ctx context.Context, workflowID string) error
	/**
	 * @description: 客户端上报节点状态, 当场执行对应的事件
	 *				 processing -> ClientProcessing
	 *				 complete   -> ClientComplete
	 *				 errored    -> ClientError, 按重试次数决定是否重试
	 *				 非法的状态变化返回 InvalidClientStatusChangeError
	 * @param ctx context.Context
	 * @param req *UpdateClientStatusReq
	 * @return error
	 */
	UpdateClientStatus(ctx context.Context, req *UpdateClientStatusReq) error
	/**
	 * @description: 停用节点的整棵子树, 已经入队的任务执行时会跳过
	 * @param ctx context.Context
	 * @param nodeID string
	 * @return error
	 */
	ResetNode(ctx context.Context, nodeID string) error
	// PauseNode started -> paused
	PauseNode(ctx context.Context, nodeID string) error
	// ResumeNode paused -> started, 并且重新安排 StartNode
	ResumeNode(ctx context.Context, nodeID string) error
	/**
	 * @description: 给没完成的定时器重新安排 StartNode, 迁移或者队列数据丢失后使用
	 * @param ctx context.Context
	 * @param workflowID string
	 * @return []*Node 安排了的定时器节点, error
	 */
	ResumeTimers(ctx context.Context, workflowID string) ([]*Node, error)

	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	// StatusHistory 节点的状态变化记录, 按写入顺序
	StatusHistory(ctx context.Context, nodeID string) ([]*StatusChange, error)

	ErrorWorkflows(ctx context.Context, params *DebugQueryParams) ([]*Workflow, error)
	StuckWorkflows(ctx context.Context, params *DebugQueryParams) ([]*Workflow, error)
	MultipleExecutingDecisions(ctx context.Context, params *DebugQueryParams) ([]*Workflow, error)
}

type CreateWorkflowReq struct {
	Name    string         `json:"name" validate:"required"`
	UserID  string         `json:"user_id" validate:"required"`
	Decider string         `json:"decider"`
	Subject map[string]any `json:"subject"` // 可以为空
}

type AddNodeReq struct {
	WorkflowID       string         `json:"workflow_id" validate:"required"`
	ParentID         *string        `json:"parent_id"`
	Name             string         `json:"name" validate:"required"`
	Mode             NodeMode       `json:"mode" validate:"required,oneof=blocking non_blocking fire_and_forget"`
	LegacyType       LegacyType     `json:"legacy_type" validate:"required,oneof=decision branch activity timer flag"`
	FiresAt          *time.Time     `json:"fires_at"` // 为空表示立即
	RetryInterval    int64          `json:"retry_interval" validate:"gte=0"`
	RetriesRemaining int64          `json:"retries_remaining" validate:"gte=0"`
	CompleteWorkflow bool           `json:"complete_workflow"`
	Metadata         map[string]any `json:"metadata"`
	Data             map[string]any `json:"data"`
}

type UpdateClientStatusReq struct {
	NodeID string       `json:"node_id" validate:"required"`
	Status ClientStatus `json:"status" validate:"required,oneof=processing complete errored"`
	// Result 客户端的结果, 写入 client_node_detail.data 的 result 字段
	Result map[string]any `json:"result"`
}

type DebugQueryParams struct {
	UserID *string `json:"user_id"`
	// StuckThreshold 只有 StuckWorkflows 使用, 多久没有更新算卡住
	StuckThreshold time.Duration `json:"stuck_threshold"`
}

// WorkflowServiceImpl 工作流服务
type WorkflowServiceImpl struct {
	engine *Engine
}

func NewWorkflowService(engine *Engine) WorkflowService {
	return &WorkflowServiceImpl{engine: engine}
}
