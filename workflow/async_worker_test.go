package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firedEvent struct {
	event     EventType
	nodeID    string
	scheduler Scheduler
}

type eventRecorder struct {
	mu     sync.Mutex
	events []firedEvent
}

func (r *eventRecorder) hook(_ context.Context, event EventType, node *Node, scheduler Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, firedEvent{event: event, nodeID: node.ID, scheduler: scheduler})
}

func (r *eventRecorder) count(event EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, fired := range r.events {
		if fired.event == event {
			n++
		}
	}
	return n
}

func (r *eventRecorder) nodeIDs(event EventType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0)
	for _, fired := range r.events {
		if fired.event == event {
			ids = append(ids, fired.nodeID)
		}
	}
	return ids
}

func TestScheduleValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	node := env.addNode(t, env.createWorkflow(t), nil, "charge", LegacyTypeActivity)
	worker := env.engine.Worker()

	err := worker.Schedule(ctx, EventStartNode, node, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrWorkflowParamInvalid)
	err = worker.Schedule(ctx, EventStartNode, node, env.clock.Now(), -1)
	assert.ErrorIs(t, err, ErrWorkflowParamInvalid)
	err = worker.Schedule(ctx, EventType("Explode"), node, env.clock.Now(), 0)
	assert.ErrorIs(t, err, ErrEventTypeNotFound)
	assert.Empty(t, env.jobs(t, JobStatusPending))

	fireAt := env.clock.Now().Add(time.Minute)
	require.NoError(t, worker.Schedule(ctx, EventStartNode, node, fireAt, 2))
	pending := env.jobs(t, JobStatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, string(EventStartNode), pending[0].EventType)
	assert.Equal(t, string(NodeKindNode), pending[0].NodeType)
	assert.Equal(t, node.ID, pending[0].NodeID)
	assert.Equal(t, int64(2), pending[0].Attempt)
	assert.Equal(t, fireAt.UnixMilli(), pending[0].FiresAt)
	assert.Zero(t, pending[0].Deliveries)
}

func TestPerform(t *testing.T) {
	recorder := &eventRecorder{}
	env := newTestEnv(t, WithEventHook(recorder.hook))
	ctx := context.Background()
	wf := env.createWorkflow(t)
	node := env.addNode(t, wf, nil, "charge", LegacyTypeActivity)
	worker := env.engine.Worker()

	t.Run("停用的节点直接跳过", func(t *testing.T) {
		deactivated := env.addNode(t, wf, nil, "gone", LegacyTypeActivity)
		env.forceStatuses(t, deactivated, Statuses{Client: ClientStatusReady, Server: ServerStatusDeactivated})
		require.NoError(t, worker.Perform(ctx, string(EventStartNode), string(NodeKindNode), deactivated.ID, 0))
		assert.Zero(t, recorder.count(EventStartNode))
	})

	t.Run("workflow节点", func(t *testing.T) {
		require.NoError(t, worker.Perform(ctx, string(EventScheduleNextNode), string(NodeKindWorkflow), wf.ID, 3))
		require.Equal(t, []string{wf.ID}, recorder.nodeIDs(EventScheduleNextNode))
		perform, ok := recorder.events[0].scheduler.(*PerformEvent)
		require.True(t, ok)
		assert.Equal(t, int64(3), perform.Attempt())
	})

	t.Run("找不到", func(t *testing.T) {
		err := worker.Perform(ctx, "Explode", string(NodeKindNode), node.ID, 0)
		assert.ErrorIs(t, err, ErrEventTypeNotFound)
		err = worker.Perform(ctx, string(EventStartNode), "branch", node.ID, 0)
		assert.ErrorIs(t, err, ErrNodeTypeNotFound)
		err = worker.Perform(ctx, string(EventStartNode), string(NodeKindNode), "missing", 0)
		assert.ErrorIs(t, err, ErrNodeNotFound)
		err = worker.Perform(ctx, string(EventScheduleNextNode), string(NodeKindWorkflow), "missing", 0)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})
}

func TestDrainFutureJob(t *testing.T) {
	recorder := &eventRecorder{}
	env := newTestEnv(t, WithEventHook(recorder.hook))
	ctx := context.Background()
	wf := env.createWorkflow(t)
	root := NodeFromWorkflow(wf)

	require.NoError(t, env.engine.Worker().Schedule(ctx, EventChildrenReady, root, env.clock.Now().Add(time.Minute), 0))
	assert.Zero(t, env.drain(t))
	assert.Zero(t, recorder.count(EventChildrenReady))

	env.clock.Advance(time.Minute)
	assert.Equal(t, 1, env.drain(t))
	assert.Equal(t, 1, recorder.count(EventChildrenReady))

	assert.Zero(t, env.drain(t))
	assert.Equal(t, 1, recorder.count(EventChildrenReady), "只执行一次")
}

func TestDrainOrder(t *testing.T) {
	recorder := &eventRecorder{}
	env := newTestEnv(t, WithEventHook(recorder.hook))
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		wf := env.createWorkflow(t)
		ids = append(ids, wf.ID)
		require.NoError(t, env.engine.Worker().Schedule(ctx, EventChildrenReady, NodeFromWorkflow(wf), env.clock.Now(), 0))
	}
	assert.Equal(t, 3, env.drain(t))
	// ChildrenReady 会再触发 ScheduleNextNode, 只看入队的事件
	assert.Equal(t, ids, recorder.nodeIDs(EventChildrenReady))
}

func TestDrainInBatches(t *testing.T) {
	config := DefaultEngineConfig()
	config.DrainBatchSize = 2
	env := newTestEnv(t, WithEngineConfig(config))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		root := NodeFromWorkflow(env.createWorkflow(t))
		require.NoError(t, env.engine.Worker().Schedule(ctx, EventChildrenReady, root, env.clock.Now(), 0))
	}
	assert.Equal(t, 5, env.drain(t))
	assert.Len(t, env.jobs(t, JobStatusDone), 5)
}

func TestRunJob(t *testing.T) {
	ctx := context.Background()

	t.Run("并发冲突重新入队", func(t *testing.T) {
		env := newTestEnv(t)
		node := env.addNode(t, env.createWorkflow(t), nil, "charge", LegacyTypeActivity)
		node = env.forceStatuses(t, node, Statuses{Client: ClientStatusReady, Server: ServerStatusStarted})

		// 执行前别的 worker 改过了状态, 重新加载之后再比较也会失败
		engine := NewEngine(env.repo, NewGormJobQueue(env.db),
			WithClock(env.clock.Now),
			WithNotifier(env.notifier),
			WithEventHook(func(_ context.Context, event EventType, hooked *Node, _ Scheduler) {
				if event == EventStartNode && hooked.ServerStatus() == ServerStatusStarted {
					env.forceStatuses(t, hooked, Statuses{Client: ClientStatusReady, Server: ServerStatusPaused})
				}
			}),
		)
		require.NoError(t, engine.Worker().Schedule(ctx, EventStartNode, node, env.clock.Now(), 0))

		performed, err := engine.Worker().Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, performed)
		pending := env.jobs(t, JobStatusPending)
		require.Len(t, pending, 1)
		assert.Equal(t, int64(1), pending[0].Deliveries)
		assert.Contains(t, pending[0].LastError, "Stale status change")
		assert.Equal(t, env.clock.Now().Add(DefaultEngineConfig().JobRetryBackoff).UnixMilli(), pending[0].FiresAt)

		// 第二次执行时节点是 paused, StartNode 跳过
		env.clock.Advance(DefaultEngineConfig().JobRetryBackoff)
		performed, err = engine.Worker().Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, performed)
		assert.Len(t, env.jobs(t, JobStatusDone), 1)
		assert.Empty(t, env.notifier.NodeIDs())
	})

	t.Run("非法状态变化直接埋掉", func(t *testing.T) {
		env := newTestEnv(t)
		node := env.addNode(t, env.createWorkflow(t), nil, "charge", LegacyTypeActivity)
		require.NoError(t, env.engine.Worker().Schedule(ctx, EventPauseNode, node, env.clock.Now(), 0))

		assert.Equal(t, 1, env.drain(t))
		dead := env.jobs(t, JobStatusDead)
		require.Len(t, dead, 1)
		assert.Contains(t, dead[0].LastError, "Cannot transition current_server_status from pending to paused")
	})

	t.Run("找不到节点直接埋掉", func(t *testing.T) {
		env := newTestEnv(t)
		node := &Node{ID: "missing", Kind: NodeKindNode}
		require.NoError(t, env.engine.Worker().Schedule(ctx, EventStartNode, node, env.clock.Now(), 0))
		assert.Equal(t, 1, env.drain(t))
		assert.Len(t, env.jobs(t, JobStatusDead), 1)
	})

	t.Run("超过投递次数", func(t *testing.T) {
		config := DefaultEngineConfig()
		config.MaxJobDeliveries = 1
		env := newTestEnv(t, WithEngineConfig(config))
		node := env.addNode(t, env.createWorkflow(t), nil, "charge", LegacyTypeActivity)
		node = env.forceStatuses(t, node, Statuses{Client: ClientStatusReady, Server: ServerStatusStarted})
		engine := NewEngine(env.repo, NewGormJobQueue(env.db),
			WithClock(env.clock.Now),
			WithEngineConfig(config),
			WithEventHook(func(_ context.Context, event EventType, hooked *Node, _ Scheduler) {
				if event == EventStartNode {
					env.forceStatuses(t, hooked, Statuses{Client: ClientStatusReady, Server: ServerStatusPaused})
				}
			}),
		)
		require.NoError(t, engine.Worker().Schedule(ctx, EventStartNode, node, env.clock.Now(), 0))
		performed, err := engine.Worker().Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, performed)
		dead := env.jobs(t, JobStatusDead)
		require.Len(t, dead, 1)
		assert.Contains(t, dead[0].LastError, "Stale status change")
	})
}
