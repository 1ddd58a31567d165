package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunnerValidation(t *testing.T) {
	env := newTestEnv(t)
	config := DefaultRunnerConfig()
	config.Concurrency = 0
	_, err := NewRunner(env.engine, nil, config)
	assert.ErrorIs(t, err, ErrWorkflowParamInvalid)

	config = DefaultRunnerConfig()
	config.LockKey = ""
	_, err = NewRunner(env.engine, nil, config)
	assert.ErrorIs(t, err, ErrWorkflowParamInvalid)
}

func TestRunnerPollOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wf := env.createWorkflow(t)
	first := env.addNode(t, wf, nil, "first", LegacyTypeActivity)
	lock := NewLocalWorkflowLock()
	runner, err := NewRunner(env.engine, lock, DefaultRunnerConfig())
	require.NoError(t, err)

	require.NoError(t, env.service.StartWorkflow(ctx, wf.ID))

	t.Run("别的进程在认领", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, DefaultRunnerConfig().LockKey, time.Minute, func(context.Context) error {
			performed, err := runner.PollOnce(context.Background())
			assert.Zero(t, performed)
			return err
		})
		require.NoError(t, err)
		assert.Len(t, env.jobs(t, JobStatusPending), 1)
	})

	t.Run("认领并执行", func(t *testing.T) {
		performed, err := runner.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, performed)
		// MarkChildrenReady 之后 StartNode 入队, 下一轮执行
		performed, err = runner.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, performed)
		assert.Equal(t, []string{first.ID}, env.notifier.NodeIDs())

		performed, err = runner.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, performed)
	})
}

func TestRunnerConcurrentJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := make([]string, 0)
	for i := 0; i < 6; i++ {
		wf := env.createWorkflow(t)
		ids = append(ids, env.addNode(t, wf, nil, "only", LegacyTypeActivity).ID)
		require.NoError(t, env.service.StartWorkflow(ctx, wf.ID))
	}
	config := DefaultRunnerConfig()
	config.Concurrency = 3
	runner, err := NewRunner(env.engine, nil, config)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		performed, err := runner.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, performed)
	}
	assert.ElementsMatch(t, ids, env.notifier.NodeIDs())
	assert.Len(t, env.jobs(t, JobStatusDone), 12)
}

func TestRunnerStartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wf := env.createWorkflow(t)
	first := env.addNode(t, wf, nil, "first", LegacyTypeActivity)

	config := DefaultRunnerConfig()
	config.PollInterval = 10 * time.Millisecond
	runner, err := NewRunner(env.engine, nil, config)
	require.NoError(t, err)
	require.NoError(t, runner.Start(ctx))

	require.NoError(t, env.service.StartWorkflow(ctx, wf.ID))
	require.Eventually(t, func() bool {
		return len(env.notifier.NodeIDs()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	<-runner.Stop().Done()
	assert.Equal(t, []string{first.ID}, env.notifier.NodeIDs())
}
