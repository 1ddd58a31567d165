package workflow

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ClientAction 发给驱动节点的外部客户端的消息
type ClientAction struct {
	NodeID     string      `json:"node_id"`
	WorkflowID string      `json:"workflow_id"`
	UserID     string      `json:"user_id"`
	Name       string      `json:"name"`
	LegacyType LegacyType  `json:"legacy_type"`
	Mode       NodeMode    `json:"mode"`
	Attempt    int64       `json:"attempt"`
	Metadata   *JSONDetail `json:"metadata"`
	Data       *JSONDetail `json:"data"`
}

func newClientAction(node *Node, attempt int64) *ClientAction {
	return &ClientAction{
		NodeID:     node.ID,
		WorkflowID: node.WorkflowID,
		UserID:     node.UserID,
		Name:       node.Name,
		LegacyType: node.NodeDetail.LegacyType,
		Mode:       node.Mode,
		Attempt:    attempt,
		Metadata:   node.ClientNodeDetail.Metadata,
		Data:       node.ClientNodeDetail.Data,
	}
}

// Notifier 把节点的动作交给客户端, 失败算作业务失败
type Notifier interface {
	Notify(ctx context.Context, action *ClientAction) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *ClientAction) error { return nil }

type watermillNotifier struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillNotifier publisher 可以是 gochannel 或者 kafka
func NewWatermillNotifier(publisher message.Publisher, topic string) Notifier {
	return &watermillNotifier{publisher: publisher, topic: topic}
}

func (n *watermillNotifier) Notify(ctx context.Context, action *ClientAction) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return errors.WithMessage(err, "marshal client action failed")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("node_id", action.NodeID)
	msg.Metadata.Set("workflow_id", action.WorkflowID)
	msg.Metadata.Set("legacy_type", string(action.LegacyType))
	msg.SetContext(ctx)
	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return errors.WithMessagef(err, "publish client action to %s failed", n.topic)
	}
	return nil
}
