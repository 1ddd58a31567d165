package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (s *WorkflowServiceImpl) CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*Workflow, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflow failed, req: %v, err: %v", req, err)
	}
	po, err := s.engine.repo.CreateWorkflow(ctx, &WorkflowPo{
		ID:      uuid.NewString(),
		Name:    req.Name,
		UserID:  req.UserID,
		Decider: req.Decider,
		Subject: *NewJSONDetailFromMap(req.Subject),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflow failed, name: %s", req.Name)
	}
	return workflowPoToEntity(po), nil
}

func (s *WorkflowServiceImpl) AddNode(ctx context.Context, req *AddNodeReq) (*Node, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "AddNode failed, req: %v, err: %v", req, err)
	}
	wf, err := s.engine.repo.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	siblings := &QueryNodeParams{WorkflowID: &wf.ID}
	if req.ParentID != nil {
		parent, err := s.engine.repo.GetNode(ctx, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.WorkflowID != wf.ID {
			return nil, errors.Wrapf(ErrWorkflowParamInvalid, "parent %s belongs to workflow %s", parent.ID, parent.WorkflowID)
		}
		siblings.ParentID = &parent.ID
	} else {
		siblings.IsTopLevel = true
	}

	node := &Node{
		ID:         uuid.NewString(),
		Kind:       NodeKindNode,
		ParentID:   req.ParentID,
		WorkflowID: wf.ID,
		UserID:     wf.UserID,
		Mode:       req.Mode,
		Statuses:   Statuses{Client: ClientStatusPending, Server: ServerStatusPending},
		Name:       req.Name,
		FiresAt:    s.engine.Now(),
		ClientNodeDetail: ClientNodeDetail{
			Metadata: NewJSONDetailFromMap(req.Metadata),
			Data:     NewJSONDetailFromMap(req.Data),
		},
		NodeDetail: NodeDetail{
			LegacyType:       req.LegacyType,
			RetryInterval:    req.RetryInterval,
			RetriesRemaining: req.RetriesRemaining,
			CompleteWorkflow: req.CompleteWorkflow,
		},
	}
	if req.FiresAt != nil {
		node.FiresAt = *req.FiresAt
	}

	var created *NodePo
	err = s.engine.repo.Transaction(ctx, func(ctx context.Context) error {
		count, err := s.engine.repo.CountNode(ctx, siblings)
		if err != nil {
			return err
		}
		node.Position = count
		created, err = s.engine.repo.CreateNode(ctx, nodeEntityToPo(node))
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "AddNode failed, workflow id: %s", wf.ID)
	}
	return nodePoToEntity(created), nil
}

func (s *WorkflowServiceImpl) StartWorkflow(ctx context.Context, workflowID string) error {
	root, err := s.engine.LoadNode(ctx, NodeKindWorkflow, workflowID)
	if err != nil {
		return err
	}
	return s.engine.FireEvent(ctx, EventMarkChildrenReady, root, s.engine.ScheduleNow())
}

func (s *WorkflowServiceImpl) UpdateClientStatus(ctx context.Context, req *UpdateClientStatusReq) error {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "UpdateClientStatus failed, req: %v, err: %v", req, err)
	}
	node, err := s.loadActiveNode(ctx, req.NodeID)
	if err != nil {
		return err
	}
	var event EventType
	switch req.Status {
	case ClientStatusProcessing:
		event = EventClientProcessing
	case ClientStatusComplete:
		event = EventClientComplete
	case ClientStatusErrored:
		event = EventClientError
	}
	// 先校验, 非法的上报不能留下 result
	if !IsValidClientStatusChange(node.ClientStatus(), req.Status) {
		return &InvalidClientStatusChangeError{CurrentStatus: node.ClientStatus(), AttemptedStatus: req.Status}
	}
	if event == EventClientComplete && !IsValidServerStatusChange(node.ServerStatus(), ServerStatusProcessingChildren) {
		return &InvalidServerStatusChangeError{CurrentStatus: node.ServerStatus(), AttemptedStatus: ServerStatusProcessingChildren}
	}
	if req.Result != nil {
		data := node.ClientNodeDetail.Data.Clone()
		if err := data.Put(req.Result, "result"); err != nil {
			return err
		}
		if _, err := s.engine.repo.UpdateNode(ctx, &UpdateNodeParams{
			Where:  &UpdateNodeWhere{ID: node.ID},
			Fields: &UpdateNodeField{ClientData: data},
		}); err != nil {
			return errors.WithMessagef(err, "save client result failed, node id: %s", node.ID)
		}
		node.ClientNodeDetail.Data = data
	}
	return s.engine.FireEvent(ctx, event, node, s.engine.PerformEvent(0))
}

func (s *WorkflowServiceImpl) ResetNode(ctx context.Context, nodeID string) error {
	return s.fireInline(ctx, EventResetNode, nodeID)
}

func (s *WorkflowServiceImpl) PauseNode(ctx context.Context, nodeID string) error {
	return s.fireInline(ctx, EventPauseNode, nodeID)
}

func (s *WorkflowServiceImpl) ResumeNode(ctx context.Context, nodeID string) error {
	return s.fireInline(ctx, EventResumeNode, nodeID)
}

func (s *WorkflowServiceImpl) ResumeTimers(ctx context.Context, workflowID string) ([]*Node, error) {
	return s.engine.ResumeTimers(ctx, workflowID)
}

func (s *WorkflowServiceImpl) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	po, err := s.engine.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return workflowPoToEntity(po), nil
}

func (s *WorkflowServiceImpl) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	return s.engine.LoadNode(ctx, NodeKindNode, nodeID)
}

func (s *WorkflowServiceImpl) StatusHistory(ctx context.Context, nodeID string) ([]*StatusChange, error) {
	pos, err := s.engine.repo.QueryStatusChange(ctx, &QueryStatusChangeParams{
		NodeID: &nodeID,
		Page:   &Pager{IsNoLimit: Bool(true)},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryStatusChange failed, node id: %s", nodeID)
	}
	changes := make([]*StatusChange, 0, len(pos))
	for _, po := range pos {
		changes = append(changes, statusChangePoToEntity(po))
	}
	return changes, nil
}

func (s *WorkflowServiceImpl) ErrorWorkflows(ctx context.Context, params *DebugQueryParams) ([]*Workflow, error) {
	return s.engine.ErrorWorkflows(ctx, debugUserID(params))
}

func (s *WorkflowServiceImpl) StuckWorkflows(ctx context.Context, params *DebugQueryParams) ([]*Workflow, error) {
	if params == nil || params.StuckThreshold <= 0 {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "StuckWorkflows failed, stuck_threshold must be positive")
	}
	return s.engine.StuckWorkflows(ctx, params.UserID, params.StuckThreshold)
}

func (s *WorkflowServiceImpl) MultipleExecutingDecisions(ctx context.Context, params *DebugQueryParams) ([]*Workflow, error) {
	return s.engine.MultipleExecutingDecisions(ctx, debugUserID(params))
}

func debugUserID(params *DebugQueryParams) *string {
	if params == nil {
		return nil
	}
	return params.UserID
}

func (s *WorkflowServiceImpl) loadActiveNode(ctx context.Context, nodeID string) (*Node, error) {
	node, err := s.engine.LoadNode(ctx, NodeKindNode, nodeID)
	if err != nil {
		return nil, err
	}
	if node.IsDeactivated() {
		return nil, errors.WithMessagef(ErrNodeDeactivated, "node id: %s", nodeID)
	}
	return node, nil
}

func (s *WorkflowServiceImpl) fireInline(ctx context.Context, event EventType, nodeID string) error {
	node, err := s.loadActiveNode(ctx, nodeID)
	if err != nil {
		return err
	}
	return s.engine.FireEvent(ctx, event, node, s.engine.PerformEvent(0))
}
