package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workflowIDs(workflows []*Workflow) []string {
	ids := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		ids = append(ids, wf.ID)
	}
	return ids
}

func TestErrorWorkflows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	broken := env.createWorkflow(t)
	env.forceStatuses(t, env.addNode(t, broken, nil, "a", LegacyTypeActivity), Statuses{Client: ClientStatusReady, Server: ServerStatusErrored})
	env.forceStatuses(t, env.addNode(t, broken, nil, "b", LegacyTypeActivity), Statuses{Client: ClientStatusReady, Server: ServerStatusErrored})
	healthy := env.createWorkflow(t)
	env.forceStatuses(t, env.addNode(t, healthy, nil, "a", LegacyTypeActivity), Statuses{Client: ClientStatusReady, Server: ServerStatusStarted})

	workflows, err := env.service.ErrorWorkflows(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{broken.ID}, workflowIDs(workflows))

	other := "user-2"
	workflows, err = env.service.ErrorWorkflows(ctx, &DebugQueryParams{UserID: &other})
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestStuckWorkflows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stuck := env.createWorkflow(t)
	env.forceStatuses(t, env.addNode(t, stuck, nil, "a", LegacyTypeActivity), Statuses{Client: ClientStatusReceived, Server: ServerStatusSentToClient})
	finished := env.createWorkflow(t)
	env.forceStatuses(t, env.addNode(t, finished, nil, "a", LegacyTypeActivity), Statuses{Client: ClientStatusReady, Server: ServerStatusStarted})
	_, err := env.repo.MarkWorkflowComplete(ctx, finished.ID)
	require.NoError(t, err)
	idle := env.createWorkflow(t)
	env.addNode(t, idle, nil, "a", LegacyTypeActivity)

	t.Run("参数校验", func(t *testing.T) {
		_, err := env.service.StuckWorkflows(ctx, &DebugQueryParams{})
		assert.ErrorIs(t, err, ErrWorkflowParamInvalid)
		_, err = env.service.StuckWorkflows(ctx, nil)
		assert.ErrorIs(t, err, ErrWorkflowParamInvalid)
	})

	t.Run("还没到阈值", func(t *testing.T) {
		workflows, err := env.service.StuckWorkflows(ctx, &DebugQueryParams{StuckThreshold: time.Hour})
		require.NoError(t, err)
		assert.Empty(t, workflows)
	})

	t.Run("超过阈值", func(t *testing.T) {
		env.clock.Advance(2 * time.Hour)
		workflows, err := env.service.StuckWorkflows(ctx, &DebugQueryParams{StuckThreshold: time.Hour})
		require.NoError(t, err)
		assert.Equal(t, []string{stuck.ID}, workflowIDs(workflows))
	})
}

func TestMultipleExecutingDecisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doubled := env.createWorkflow(t)
	env.forceStatuses(t, env.addNode(t, doubled, nil, "d1", LegacyTypeDecision), Statuses{Client: ClientStatusReady, Server: ServerStatusStarted})
	env.forceStatuses(t, env.addNode(t, doubled, nil, "d2", LegacyTypeDecision), Statuses{Client: ClientStatusReceived, Server: ServerStatusSentToClient})
	single := env.createWorkflow(t)
	env.forceStatuses(t, env.addNode(t, single, nil, "d1", LegacyTypeDecision), Statuses{Client: ClientStatusReceived, Server: ServerStatusSentToClient})
	env.forceStatuses(t, env.addNode(t, single, nil, "d2", LegacyTypeDecision), Statuses{Client: ClientStatusReady, Server: ServerStatusPaused})
	env.forceStatuses(t, env.addNode(t, single, nil, "a", LegacyTypeActivity), Statuses{Client: ClientStatusReady, Server: ServerStatusStarted})

	workflows, err := env.service.MultipleExecutingDecisions(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{doubled.ID}, workflowIDs(workflows))
}
