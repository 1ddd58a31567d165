package workflow

import "time"

// 辅助函数：替代 String 和 Bool
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int64(i int64) *int64    { return &i }

func detailOrEmpty(d *JSONDetail) JSONDetail {
	if d == nil {
		return JSONDetail{data: make(map[string]any)}
	}
	return *d.Clone()
}

func workflowPoToEntity(po *WorkflowPo) *Workflow {
	if po == nil {
		return nil
	}
	subject := po.Subject.Clone()
	return &Workflow{
		ID:        po.ID,
		Name:      po.Name,
		UserID:    po.UserID,
		Decider:   po.Decider,
		Subject:   subject,
		Complete:  po.Complete,
		Migrated:  po.Migrated,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func nodePoToEntity(po *NodePo) *Node {
	if po == nil {
		return nil
	}
	return &Node{
		ID:         po.ID,
		Kind:       NodeKindNode,
		ParentID:   po.ParentID,
		WorkflowID: po.WorkflowID,
		UserID:     po.UserID,
		Mode:       NodeMode(po.Mode),
		Statuses: Statuses{
			Client: ClientStatus(po.CurrentClientStatus),
			Server: ServerStatus(po.CurrentServerStatus),
		},
		Name:     po.Name,
		Position: po.Position,
		FiresAt:  time.UnixMilli(po.FiresAt),
		ClientNodeDetail: ClientNodeDetail{
			Metadata: po.ClientMetadata.Clone(),
			Data:     po.ClientData.Clone(),
		},
		NodeDetail: NodeDetail{
			LegacyType:       LegacyType(po.LegacyType),
			RetryInterval:    po.RetryInterval,
			RetriesRemaining: po.RetriesRemaining,
			CompleteWorkflow: po.CompleteWorkflow,
		},
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func nodeEntityToPo(node *Node) *NodePo {
	return &NodePo{
		ID:                  node.ID,
		ParentID:            node.ParentID,
		WorkflowID:          node.WorkflowID,
		UserID:              node.UserID,
		Mode:                string(node.Mode),
		CurrentClientStatus: string(node.Statuses.Client),
		CurrentServerStatus: string(node.Statuses.Server),
		Name:                node.Name,
		Position:            node.Position,
		FiresAt:             node.FiresAt.UnixMilli(),
		ClientMetadata:      detailOrEmpty(node.ClientNodeDetail.Metadata),
		ClientData:          detailOrEmpty(node.ClientNodeDetail.Data),
		LegacyType:          string(node.NodeDetail.LegacyType),
		RetryInterval:       node.NodeDetail.RetryInterval,
		RetriesRemaining:    node.NodeDetail.RetriesRemaining,
		CompleteWorkflow:    node.NodeDetail.CompleteWorkflow,
	}
}

func statusChangePoToEntity(po *StatusChangePo) *StatusChange {
	return &StatusChange{
		ID:         po.ID,
		NodeID:     po.NodeID,
		StatusType: StatusType(po.StatusType),
		FromStatus: po.FromStatus,
		ToStatus:   po.ToStatus,
		CreatedAt:  po.CreatedAt,
	}
}
