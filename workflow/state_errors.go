package workflow

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidClientStatusChangeError client 轴的非法状态变化, 带上结构化数据给接口层
type InvalidClientStatusChangeError struct {
	CurrentStatus   ClientStatus
	AttemptedStatus ClientStatus
}

func (e *InvalidClientStatusChangeError) Error() string {
	return fmt.Sprintf("Cannot transition %s from %s to %s", StatusTypeClient, e.CurrentStatus, e.AttemptedStatus)
}

func (e *InvalidClientStatusChangeError) Is(target error) bool {
	return target == ErrInvalidStatusChange
}

func (e *InvalidClientStatusChangeError) ErrorData() map[string]any {
	return map[string]any{
		"current_status":   string(e.CurrentStatus),
		"attempted_status": string(e.AttemptedStatus),
	}
}

// InvalidServerStatusChangeError server 轴的非法状态变化, 只有消息
type InvalidServerStatusChangeError struct {
	CurrentStatus   ServerStatus
	AttemptedStatus ServerStatus
}

func (e *InvalidServerStatusChangeError) Error() string {
	return fmt.Sprintf("Cannot transition %s from %s to %s", StatusTypeServer, e.CurrentStatus, e.AttemptedStatus)
}

func (e *InvalidServerStatusChangeError) Is(target error) bool {
	return target == ErrInvalidStatusChange
}

func newStaleStatusChangeError(nodeID string) error {
	return errors.WithMessagef(ErrStaleStatusChange, "Stale status change data for node %s", nodeID)
}
