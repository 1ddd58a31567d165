package workflow

import (
	"context"
	"time"
)

// ErrorWorkflows 有节点 server 状态是 errored 的工作流
func (e *Engine) ErrorWorkflows(ctx context.Context, userID *string) ([]*Workflow, error) {
	return e.workflowsByNode(ctx, &QueryWorkflowIDsByNodeParams{
		UserID:         userID,
		ServerStatusIn: []string{string(ServerStatusErrored)},
	})
}

// StuckWorkflows 没完成, 并且有执行中的节点超过 threshold 没有更新
func (e *Engine) StuckWorkflows(ctx context.Context, userID *string, threshold time.Duration) ([]*Workflow, error) {
	statuses := make([]string, 0)
	for _, status := range AllServerStatuses {
		if IsInFlightServerStatus(status) {
			statuses = append(statuses, string(status))
		}
	}
	before := e.Now().Add(-threshold).Unix()
	return e.workflowsByNode(ctx, &QueryWorkflowIDsByNodeParams{
		UserID:         userID,
		ServerStatusIn: statuses,
		UpdatedBefore:  &before,
		OnlyIncomplete: true,
	})
}

// MultipleExecutingDecisions 同时有多个 decision 在执行的工作流, 正常只会有一个
func (e *Engine) MultipleExecutingDecisions(ctx context.Context, userID *string) ([]*Workflow, error) {
	statuses := make([]string, 0)
	for _, status := range AllServerStatuses {
		if IsExecutingServerStatus(status) {
			statuses = append(statuses, string(status))
		}
	}
	return e.workflowsByNode(ctx, &QueryWorkflowIDsByNodeParams{
		UserID:          userID,
		LegacyTypeIn:    []string{string(LegacyTypeDecision)},
		ServerStatusIn:  statuses,
		MinMatchedNodes: 2,
	})
}

func (e *Engine) workflowsByNode(ctx context.Context, params *QueryWorkflowIDsByNodeParams) ([]*Workflow, error) {
	params.OrderByWorkflowID = true
	ids, err := e.repo.QueryWorkflowIDsByNode(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Workflow{}, nil
	}
	pos, err := e.repo.QueryWorkflow(ctx, &QueryWorkflowParams{
		IDIn: ids,
		Page: &Pager{IsNoLimit: Bool(true)},
	})
	if err != nil {
		return nil, err
	}
	workflows := make([]*Workflow, 0, len(pos))
	for _, po := range pos {
		workflows = append(workflows, workflowPoToEntity(po))
	}
	return workflows, nil
}
