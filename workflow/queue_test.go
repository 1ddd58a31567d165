package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func queueBackends(t *testing.T) map[string]func(t *testing.T) JobQueue {
	return map[string]func(t *testing.T) JobQueue{
		"gorm": func(t *testing.T) JobQueue {
			return NewGormJobQueue(setupTestDB(t))
		},
		"redis": func(t *testing.T) JobQueue {
			_, client := newMiniRedis(t)
			return NewRedisJobQueue(client, "test_job")
		},
	}
}

func enqueue(t *testing.T, queue JobQueue, nodeID string, at time.Time) *Job {
	job := &Job{EventType: EventStartNode, NodeType: NodeKindNode, NodeID: nodeID, FiresAt: at}
	require.NoError(t, queue.Enqueue(context.Background(), job))
	require.NotZero(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	return job
}

func claimedNodeIDs(jobs []*Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.NodeID)
	}
	return ids
}

func TestJobQueue(t *testing.T) {
	for name, newQueue := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.UnixMilli(time.Now().UnixMilli())

			t.Run("到期的按入队顺序认领", func(t *testing.T) {
				queue := newQueue(t)
				enqueue(t, queue, "a", now)
				enqueue(t, queue, "b", now.Add(-time.Second))
				enqueue(t, queue, "c", now)
				enqueue(t, queue, "future", now.Add(time.Minute))

				jobs, err := queue.ClaimDue(ctx, now, 10)
				require.NoError(t, err)
				require.Len(t, jobs, 3)
				// 和到期时间无关, 先入队的先认领
				assert.Equal(t, []string{"a", "b", "c"}, claimedNodeIDs(jobs))
				for _, job := range jobs {
					assert.Equal(t, JobStatusRunning, job.Status)
					assert.Equal(t, int64(1), job.Deliveries)
					assert.Equal(t, EventStartNode, job.EventType)
					assert.Equal(t, NodeKindNode, job.NodeType)
				}

				again, err := queue.ClaimDue(ctx, now, 10)
				require.NoError(t, err)
				assert.Empty(t, again, "已经认领的不会重复认领")

				later, err := queue.ClaimDue(ctx, now.Add(time.Minute), 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"future"}, claimedNodeIDs(later))
			})

			t.Run("limit", func(t *testing.T) {
				queue := newQueue(t)
				for _, id := range []string{"a", "b", "c"} {
					enqueue(t, queue, id, now)
				}
				enqueue(t, queue, "earliest", now.Add(-time.Minute))
				jobs, err := queue.ClaimDue(ctx, now, 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b"}, claimedNodeIDs(jobs))
				rest, err := queue.ClaimDue(ctx, now, 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"c", "earliest"}, claimedNodeIDs(rest))
			})

			t.Run("重试", func(t *testing.T) {
				queue := newQueue(t)
				enqueue(t, queue, "a", now)
				jobs, err := queue.ClaimDue(ctx, now, 10)
				require.NoError(t, err)
				require.Len(t, jobs, 1)

				at := now.Add(10 * time.Second)
				require.NoError(t, queue.Retry(ctx, jobs[0], at, errors.New("boom")))
				assert.Equal(t, JobStatusPending, jobs[0].Status)
				assert.Equal(t, "boom", jobs[0].LastError)
				assert.True(t, at.Equal(jobs[0].FiresAt))

				early, err := queue.ClaimDue(ctx, now, 10)
				require.NoError(t, err)
				assert.Empty(t, early)

				retried, err := queue.ClaimDue(ctx, at, 10)
				require.NoError(t, err)
				require.Len(t, retried, 1)
				assert.Equal(t, int64(2), retried[0].Deliveries)
				assert.Equal(t, "boom", retried[0].LastError)
			})

			t.Run("完成和埋掉", func(t *testing.T) {
				queue := newQueue(t)
				enqueue(t, queue, "a", now)
				enqueue(t, queue, "b", now)
				jobs, err := queue.ClaimDue(ctx, now, 10)
				require.NoError(t, err)
				require.Len(t, jobs, 2)

				require.NoError(t, queue.Complete(ctx, jobs[0]))
				assert.Equal(t, JobStatusDone, jobs[0].Status)
				require.NoError(t, queue.Bury(ctx, jobs[1], errors.New("fatal")))
				assert.Equal(t, JobStatusDead, jobs[1].Status)

				remaining, err := queue.ClaimDue(ctx, now.Add(time.Hour), 10)
				require.NoError(t, err)
				assert.Empty(t, remaining)
			})

			t.Run("不在执行中的任务", func(t *testing.T) {
				queue := newQueue(t)
				job := enqueue(t, queue, "a", now)
				assert.ErrorIs(t, queue.Complete(ctx, job), ErrJobClaimConflict)

				jobs, err := queue.ClaimDue(ctx, now, 10)
				require.NoError(t, err)
				require.Len(t, jobs, 1)
				require.NoError(t, queue.Complete(ctx, jobs[0]))
				assert.ErrorIs(t, queue.Complete(ctx, jobs[0]), ErrJobClaimConflict)
				assert.ErrorIs(t, queue.Retry(ctx, jobs[0], now, nil), ErrJobClaimConflict)
				assert.ErrorIs(t, queue.Bury(ctx, jobs[0], nil), ErrJobClaimConflict)
			})
		})
	}
}

func TestRedisJobQueueLayout(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	queue := NewRedisJobQueue(client, "")
	now := time.UnixMilli(time.Now().UnixMilli())

	job := enqueue(t, queue, "a", now)
	assert.Equal(t, int64(1), job.ID)
	members, err := mr.ZMembers("workflow_job:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)
	assert.True(t, mr.Exists("workflow_job:job:1"))

	jobs, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	running, err := mr.ZMembers("workflow_job:running")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, running)

	require.NoError(t, queue.Bury(ctx, jobs[0], errors.New("fatal")))
	dead, err := mr.Members("workflow_job:dead")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, dead)
}

func TestEngineWithRedisQueue(t *testing.T) {
	_, client := newMiniRedis(t)
	db := setupTestDB(t)
	env := newTestEnvWithQueue(t, db, NewRedisJobQueue(client, "engine"))
	wf := env.createWorkflow(t)
	first := env.addNode(t, wf, nil, "first", LegacyTypeActivity)
	second := env.addNode(t, wf, nil, "second", LegacyTypeActivity)

	env.start(t, wf)
	assert.Equal(t, []string{first.ID}, env.notifier.NodeIDs())
	env.complete(t, first)
	assert.Equal(t, []string{first.ID, second.ID}, env.notifier.NodeIDs())
}
