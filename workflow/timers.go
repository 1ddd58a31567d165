package workflow

import (
	"context"
	"slices"
)

// ResumeTimers 遍历工作流整棵树, 已经 started 还没发出去的定时器在 fires_at 重新安排 StartNode
// 返回安排了的节点
func (e *Engine) ResumeTimers(ctx context.Context, workflowID string) ([]*Node, error) {
	root, err := e.LoadNode(ctx, NodeKindWorkflow, workflowID)
	if err != nil {
		return nil, err
	}
	worklist, err := e.children(ctx, root)
	if err != nil {
		return nil, err
	}
	// 先按 position 顺序处理
	slices.Reverse(worklist)

	scheduled := make([]*Node, 0)
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if current.IsDeactivated() {
			continue
		}
		if current.NodeDetail.LegacyType == LegacyTypeTimer && current.ServerStatus() == ServerStatusStarted {
			if err := e.FireEvent(ctx, EventStartNode, current, e.ScheduleAt()); err != nil {
				return nil, err
			}
			scheduled = append(scheduled, current)
		}
		children, err := e.children(ctx, current)
		if err != nil {
			return nil, err
		}
		slices.Reverse(children)
		worklist = append(worklist, children...)
	}
	return slices.Clip(scheduled), nil
}
