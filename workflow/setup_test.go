package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(time.Now().UnixMilli())}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	actions []*ClientAction
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, action *ClientAction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.actions = append(n.actions, action)
	return nil
}

func (n *recordingNotifier) SetErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) NodeIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.actions))
	for _, action := range n.actions {
		ids = append(ids, action.NodeID)
	}
	return ids
}

type testEnv struct {
	db       *gorm.DB
	repo     WorkflowRepo
	queue    JobQueue
	clock    *fakeClock
	notifier *recordingNotifier
	engine   *Engine
	service  WorkflowService
}

// setupTestDB sqlite 内存库只能用一个连接, 否则每个连接是不同的库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(AllModels()...))
	return db
}

func newTestEnv(t *testing.T, opts ...EngineOption) *testEnv {
	db := setupTestDB(t)
	return newTestEnvWithQueue(t, db, NewGormJobQueue(db), opts...)
}

func newTestEnvWithQueue(t *testing.T, db *gorm.DB, queue JobQueue, opts ...EngineOption) *testEnv {
	env := &testEnv{
		db:       db,
		repo:     NewWorkflowRepo(db),
		queue:    queue,
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
	}
	env.build(opts...)
	return env
}

func (env *testEnv) build(opts ...EngineOption) {
	engineOpts := append([]EngineOption{
		WithClock(env.clock.Now),
		WithNotifier(env.notifier),
	}, opts...)
	env.engine = NewEngine(env.repo, env.queue, engineOpts...)
	env.service = NewWorkflowService(env.engine)
}

// flakyRepo 查询某个节点的子节点时失败指定次数
type flakyRepo struct {
	WorkflowRepo
	mu       sync.Mutex
	parentID string
	failures int
}

func (r *flakyRepo) failChildrenOf(parentID string, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parentID = parentID
	r.failures = failures
}

func (r *flakyRepo) QueryNode(ctx context.Context, param *QueryNodeParams) ([]*NodePo, error) {
	r.mu.Lock()
	if r.failures > 0 && param.ParentID != nil && *param.ParentID == r.parentID {
		r.failures--
		r.mu.Unlock()
		return nil, errors.New("database is locked")
	}
	r.mu.Unlock()
	return r.WorkflowRepo.QueryNode(ctx, param)
}

// withFlakyRepo 换成会失败的仓库, 引擎和服务重新创建
func (env *testEnv) withFlakyRepo(opts ...EngineOption) *flakyRepo {
	flaky := &flakyRepo{WorkflowRepo: env.repo}
	env.repo = flaky
	env.build(opts...)
	return flaky
}

func (env *testEnv) createWorkflow(t *testing.T) *Workflow {
	wf, err := env.service.CreateWorkflow(context.Background(), &CreateWorkflowReq{
		Name:    "order_fulfillment",
		UserID:  "user-1",
		Decider: "OrderDecider",
	})
	require.NoError(t, err)
	return wf
}

type nodeOption func(req *AddNodeReq)

func withMode(mode NodeMode) nodeOption {
	return func(req *AddNodeReq) { req.Mode = mode }
}

func withRetries(remaining int64, interval int64) nodeOption {
	return func(req *AddNodeReq) {
		req.RetriesRemaining = remaining
		req.RetryInterval = interval
	}
}

func withFiresAt(at time.Time) nodeOption {
	return func(req *AddNodeReq) { req.FiresAt = &at }
}

func withCompleteWorkflow() nodeOption {
	return func(req *AddNodeReq) { req.CompleteWorkflow = true }
}

func (env *testEnv) addNode(t *testing.T, wf *Workflow, parent *Node, name string, legacyType LegacyType, opts ...nodeOption) *Node {
	req := &AddNodeReq{
		WorkflowID: wf.ID,
		Name:       name,
		Mode:       NodeModeBlocking,
		LegacyType: legacyType,
	}
	if parent != nil {
		req.ParentID = &parent.ID
	}
	for _, opt := range opts {
		opt(req)
	}
	node, err := env.service.AddNode(context.Background(), req)
	require.NoError(t, err)
	return node
}

func (env *testEnv) reload(t *testing.T, node *Node) *Node {
	fresh, err := env.engine.LoadNode(context.Background(), NodeKindNode, node.ID)
	require.NoError(t, err)
	return fresh
}

// forceStatuses 绕过状态机直接改库, 只用来准备测试数据或者模拟别的 worker
func (env *testEnv) forceStatuses(t *testing.T, node *Node, statuses Statuses) *Node {
	err := env.db.Model(&NodePo{}).Where("id = ?", node.ID).Updates(map[string]any{
		"current_client_status": string(statuses.Client),
		"current_server_status": string(statuses.Server),
	}).Error
	require.NoError(t, err)
	return env.reload(t, node)
}

func (env *testEnv) drain(t *testing.T) int {
	performed, err := env.engine.Worker().Drain(context.Background())
	require.NoError(t, err)
	return performed
}

func (env *testEnv) jobs(t *testing.T, status JobStatus) []*JobPo {
	pos := make([]*JobPo, 0)
	require.NoError(t, env.db.Where("status = ?", string(status)).Order("id asc").Find(&pos).Error)
	return pos
}

func (env *testEnv) history(t *testing.T, node *Node) []*StatusChange {
	changes, err := env.service.StatusHistory(context.Background(), node.ID)
	require.NoError(t, err)
	return changes
}
