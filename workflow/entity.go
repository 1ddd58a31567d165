package workflow

import "time"

// Workflow 工作流entity, 一棵节点树的根
type Workflow struct {
	ID        string
	Name      string
	UserID    string
	Decider   string
	Subject   *JSONDetail
	Complete  bool
	Migrated  bool
	CreatedAt int64
	UpdatedAt int64
}

// Statuses 节点的两个状态轴, 空字符串表示这个轴不变
type Statuses struct {
	Client ClientStatus `json:"current_client_status,omitempty"`
	Server ServerStatus `json:"current_server_status,omitempty"`
}

func (s Statuses) IsEmpty() bool {
	return s.Client == "" && s.Server == ""
}

// Merge override 中非空的轴覆盖当前值
func (s Statuses) Merge(override Statuses) Statuses {
	if override.Client != "" {
		s.Client = override.Client
	}
	if override.Server != "" {
		s.Server = override.Server
	}
	return s
}

// ClientNodeDetail 驱动节点的外部客户端可见的数据
type ClientNodeDetail struct {
	Metadata *JSONDetail `json:"metadata"`
	Data     *JSONDetail `json:"data"`
}

// NodeDetail 引擎内部的执行参数
type NodeDetail struct {
	LegacyType       LegacyType `json:"legacy_type"`
	RetryInterval    int64      `json:"retry_interval"` // 单位分钟
	RetriesRemaining int64      `json:"retries_remaining"`
	CompleteWorkflow bool       `json:"complete_workflow"`
}

// Node 状态机管理的节点entity
// 状态只能通过 StateManager 修改
type Node struct {
	ID               string
	Kind             NodeKind
	ParentID         *string
	WorkflowID       string
	UserID           string
	Mode             NodeMode
	Statuses         Statuses
	Name             string
	Position         int64
	FiresAt          time.Time
	ClientNodeDetail ClientNodeDetail
	NodeDetail       NodeDetail
	CreatedAt        int64
	UpdatedAt        int64
}

func (n *Node) IsWorkflow() bool {
	return n != nil && n.Kind == NodeKindWorkflow
}

func (n *Node) ClientStatus() ClientStatus {
	return n.Statuses.Client
}

func (n *Node) ServerStatus() ServerStatus {
	return n.Statuses.Server
}

func (n *Node) IsDeactivated() bool {
	return !n.IsWorkflow() && n.Statuses.Server == ServerStatusDeactivated
}

// NodeType 异步任务里面用来重新加载节点的类型名
func (n *Node) NodeType() NodeKind {
	if n.IsWorkflow() {
		return NodeKindWorkflow
	}
	return NodeKindNode
}

// NodeFromWorkflow workflow 作为根节点参与事件, 它的子节点是所有顶层节点
func NodeFromWorkflow(wf *Workflow) *Node {
	return &Node{
		ID:         wf.ID,
		Kind:       NodeKindWorkflow,
		WorkflowID: wf.ID,
		UserID:     wf.UserID,
		Mode:       NodeModeBlocking,
		Name:       wf.Name,
		CreatedAt:  wf.CreatedAt,
		UpdatedAt:  wf.UpdatedAt,
	}
}

// StatusChange 状态变化的审计记录, 只追加
type StatusChange struct {
	ID         int64
	NodeID     string
	StatusType StatusType
	FromStatus string
	ToStatus   string
	CreatedAt  int64
}
