package workflow

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/blingmoon/tree-workflow/workflow"

// EventHook 事件执行前的观察点, 监控和追踪从这里接入
type EventHook func(ctx context.Context, event EventType, node *Node, scheduler Scheduler)

type EngineConfig struct {
	MaxJobDeliveries int64         `yaml:"max_job_deliveries" validate:"gte=1"`
	JobRetryBackoff  time.Duration `yaml:"job_retry_backoff" validate:"gt=0"`
	DrainBatchSize   int           `yaml:"drain_batch_size" validate:"gte=1"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxJobDeliveries: 5,
		JobRetryBackoff:  10 * time.Second,
		DrainBatchSize:   100,
	}
}

type Engine struct {
	repo     WorkflowRepo
	queue    JobQueue
	worker   *AsyncWorker
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	hooks    []EventHook
	config   EngineConfig
}

type EngineOption func(*Engine)

func WithNotifier(notifier Notifier) EngineOption {
	return func(e *Engine) { e.notifier = notifier }
}

func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) { e.tracer = tp.Tracer(instrumentationName) }
}

func WithEventHook(hook EventHook) EngineOption {
	return func(e *Engine) { e.hooks = append(e.hooks, hook) }
}

func WithEngineConfig(config EngineConfig) EngineOption {
	return func(e *Engine) { e.config = config }
}

func NewEngine(repo WorkflowRepo, queue JobQueue, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:     repo,
		queue:    queue,
		notifier: noopNotifier{},
		clock:    time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
		config:   DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("module", "workflow")
	e.worker = newAsyncWorker(e)
	return e
}

func (e *Engine) Now() time.Time {
	return e.clock()
}

func (e *Engine) Worker() *AsyncWorker {
	return e.worker
}

func (e *Engine) Repo() WorkflowRepo {
	return e.repo
}

// FireEvent 事件执行的唯一入口
func (e *Engine) FireEvent(ctx context.Context, event EventType, node *Node, scheduler Scheduler) error {
	ctx, span := e.tracer.Start(ctx, "workflow.FireEvent "+string(event), trace.WithAttributes(
		attribute.String("workflow.event", string(event)),
		attribute.String("workflow.node_id", node.ID),
		attribute.String("workflow.node_type", string(node.NodeType())),
		attribute.String("workflow.workflow_id", node.WorkflowID),
	))
	defer span.End()

	e.logger.DebugContext(ctx, "fire event",
		"event", event,
		"node_id", node.ID,
		"node_type", node.NodeType(),
		"client_status", node.ClientStatus(),
		"server_status", node.ServerStatus())
	for _, hook := range e.hooks {
		hook(ctx, event, node, scheduler)
	}
	err := scheduler.Call(ctx, event, node)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) stateManager(node *Node) *StateManager {
	return NewStateManager(e.repo, node, e.logger)
}

// LoadNode 按类型加载, workflow 加载成根节点
func (e *Engine) LoadNode(ctx context.Context, nodeType NodeKind, id string) (*Node, error) {
	switch nodeType {
	case NodeKindWorkflow:
		po, err := e.repo.GetWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		return NodeFromWorkflow(workflowPoToEntity(po)), nil
	case NodeKindNode:
		po, err := e.repo.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		return nodePoToEntity(po), nil
	}
	return nil, errorsNodeType(nodeType)
}

// children 按 position 排好序, workflow 的子节点是顶层节点
func (e *Engine) children(ctx context.Context, node *Node) ([]*Node, error) {
	params := &QueryNodeParams{OrderByPosition: true}
	if node.IsWorkflow() {
		params.WorkflowID = String(node.ID)
		params.IsTopLevel = true
	} else {
		params.ParentID = String(node.ID)
	}
	pos, err := e.repo.QueryNode(ctx, params)
	if err != nil {
		return nil, err
	}
	children := make([]*Node, 0, len(pos))
	for _, po := range pos {
		children = append(children, nodePoToEntity(po))
	}
	return children, nil
}

func (e *Engine) parent(ctx context.Context, node *Node) (*Node, error) {
	if node.ParentID == nil {
		return e.LoadNode(ctx, NodeKindWorkflow, node.WorkflowID)
	}
	return e.LoadNode(ctx, NodeKindNode, *node.ParentID)
}
