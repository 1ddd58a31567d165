package workflow

import "github.com/pkg/errors"

var (
	ErrWorkflowParamInvalid = errors.New("workflow param invalid")
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrNodeNotFound         = errors.New("node not found")
	ErrEventTypeNotFound    = errors.New("event type not found")
	ErrNodeTypeNotFound     = errors.New("node type not found")
	ErrNodeDeactivated      = errors.New("node deactivated")
	ErrRetryBudgetConflict  = errors.New("retries_remaining changed concurrently")
	ErrJobClaimConflict     = errors.New("job already claimed")
	ErrClientActionFailed   = errors.New("client action failed")
	ErrInvalidStatusChange  = errors.New("invalid status change")
	ErrStaleStatusChange    = errors.New("stale status change")
)

// StatusType 状态轴，client 是外部可见的进度，server 是引擎内部执行状态，两者互相独立
type StatusType string

const (
	StatusTypeClient StatusType = "current_client_status"
	StatusTypeServer StatusType = "current_server_status"
)

type ClientStatus string

const (
	ClientStatusPending    ClientStatus = "pending"
	ClientStatusReady      ClientStatus = "ready"
	ClientStatusReceived   ClientStatus = "received"
	ClientStatusProcessing ClientStatus = "processing"
	ClientStatusComplete   ClientStatus = "complete"
	ClientStatusErrored    ClientStatus = "errored"
)

type ServerStatus string

const (
	ServerStatusPending            ServerStatus = "pending"
	ServerStatusReady              ServerStatus = "ready"
	ServerStatusStarted            ServerStatus = "started"
	ServerStatusSentToClient       ServerStatus = "sent_to_client"
	ServerStatusPaused             ServerStatus = "paused"
	ServerStatusProcessingChildren ServerStatus = "processing_children"
	ServerStatusComplete           ServerStatus = "complete"
	ServerStatusErrored            ServerStatus = "errored"
	ServerStatusRetrying           ServerStatus = "retrying"
	ServerStatusDeactivated        ServerStatus = "deactivated"
)

// AllClientStatuses/AllServerStatuses 用于穷举校验状态表
var (
	AllClientStatuses = []ClientStatus{
		ClientStatusPending, ClientStatusReady, ClientStatusReceived,
		ClientStatusProcessing, ClientStatusComplete, ClientStatusErrored,
	}
	AllServerStatuses = []ServerStatus{
		ServerStatusPending, ServerStatusReady, ServerStatusStarted, ServerStatusSentToClient,
		ServerStatusPaused, ServerStatusProcessingChildren, ServerStatusComplete,
		ServerStatusErrored, ServerStatusRetrying, ServerStatusDeactivated,
	}
)

// IsInFlightServerStatus 节点已经开始执行但还没有结束
func IsInFlightServerStatus(status ServerStatus) bool {
	switch status {
	case ServerStatusStarted, ServerStatusSentToClient, ServerStatusPaused,
		ServerStatusProcessingChildren, ServerStatusErrored, ServerStatusRetrying:
		return true
	}
	return false
}

// IsExecutingServerStatus 排查接口里"正在执行"的定义, 不包括暂停和错误
func IsExecutingServerStatus(status ServerStatus) bool {
	return status == ServerStatusStarted || status == ServerStatusSentToClient || status == ServerStatusProcessingChildren
}

// NodeKind 节点的种类, workflow 作为根节点参与事件分发, 但不参与状态机
type NodeKind string

const (
	NodeKindNode     NodeKind = "node"
	NodeKindWorkflow NodeKind = "workflow"
)

// NodeMode 执行方式
type NodeMode string

const (
	// 阻塞: 后面的兄弟节点要等当前节点完成
	NodeModeBlocking NodeMode = "blocking"
	// 非阻塞: 兄弟节点可以继续, 但父节点要等它完成
	NodeModeNonBlocking NodeMode = "non_blocking"
	// 父节点也不等
	NodeModeFireAndForget NodeMode = "fire_and_forget"
)

type LegacyType string

const (
	LegacyTypeDecision LegacyType = "decision"
	LegacyTypeBranch   LegacyType = "branch"
	LegacyTypeActivity LegacyType = "activity"
	LegacyTypeTimer    LegacyType = "timer"
	LegacyTypeFlag     LegacyType = "flag"
)

// PerformsClientAction flag 类型不需要客户端参与, 启动后直接完成
func (t LegacyType) PerformsClientAction() bool {
	return t != LegacyTypeFlag
}

func IsValidNodeMode(mode NodeMode) bool {
	return mode == NodeModeBlocking || mode == NodeModeNonBlocking || mode == NodeModeFireAndForget
}

func IsValidLegacyType(t LegacyType) bool {
	switch t {
	case LegacyTypeDecision, LegacyTypeBranch, LegacyTypeActivity, LegacyTypeTimer, LegacyTypeFlag:
		return true
	}
	return false
}

// IsSeriousError 是否需要人工介入, 用于决定日志级别
// 规则冲突和找不到数据是严重错误, 并发冲突是正常的竞争, 打warn
func IsSeriousError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleStatusChange) || errors.Is(err, ErrJobClaimConflict) || errors.Is(err, ErrRetryBudgetConflict) {
		return false
	}
	return errors.Is(err, ErrInvalidStatusChange) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrEventTypeNotFound) ||
		errors.Is(err, ErrNodeTypeNotFound) ||
		errors.Is(err, ErrWorkflowParamInvalid)
}
