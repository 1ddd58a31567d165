package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type JobPo struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	EventType  string `gorm:"column:event_type"`
	NodeType   string `gorm:"column:node_type"`
	NodeID     string `gorm:"column:node_id;index;size:36"`
	Attempt    int64  `gorm:"column:attempt"`
	Deliveries int64  `gorm:"column:deliveries"`
	FiresAt    int64  `gorm:"column:fires_at;index"` // 毫秒
	Status     string `gorm:"column:status;index"`
	LastError  string `gorm:"column:last_error;type:text"`
	CreatedAt  int64  `gorm:"column:created_at"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (JobPo) TableName() string {
	return "workflow_job"
}

func (po *JobPo) toJob() *Job {
	return &Job{
		ID:         po.ID,
		EventType:  EventType(po.EventType),
		NodeType:   NodeKind(po.NodeType),
		NodeID:     po.NodeID,
		Attempt:    po.Attempt,
		Deliveries: po.Deliveries,
		FiresAt:    time.UnixMilli(po.FiresAt),
		Status:     JobStatus(po.Status),
		LastError:  po.LastError,
	}
}

type gormJobQueue struct {
	db *gorm.DB
}

func NewGormJobQueue(db *gorm.DB) JobQueue {
	return &gormJobQueue{db: db}
}

func (q *gormJobQueue) Enqueue(ctx context.Context, job *Job) error {
	now := time.Now().Unix()
	po := &JobPo{
		EventType:  string(job.EventType),
		NodeType:   string(job.NodeType),
		NodeID:     job.NodeID,
		Attempt:    job.Attempt,
		Deliveries: job.Deliveries,
		FiresAt:    job.FiresAt.UnixMilli(),
		Status:     string(JobStatusPending),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.db.WithContext(ctx).Create(po).Error; err != nil {
		return errors.WithMessage(err, "enqueue job failed")
	}
	job.ID = po.ID
	job.Status = JobStatusPending
	return nil
}

func (q *gormJobQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	candidates := make([]*JobPo, 0)
	err := q.db.WithContext(ctx).Model(&JobPo{}).
		Where("status = ? AND fires_at <= ?", string(JobStatusPending), now.UnixMilli()).
		Order("id asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, errors.WithMessage(err, "query due jobs failed")
	}
	claimed := make([]*Job, 0, len(candidates))
	for _, po := range candidates {
		result := q.db.WithContext(ctx).Model(&JobPo{}).
			Where("id = ? AND status = ?", po.ID, string(JobStatusPending)).
			Updates(map[string]any{
				"status":     string(JobStatusRunning),
				"deliveries": po.Deliveries + 1,
				"updated_at": time.Now().Unix(),
			})
		if result.Error != nil {
			return claimed, errors.WithMessagef(result.Error, "claim job %d failed", po.ID)
		}
		if result.RowsAffected == 0 {
			// 别的 worker 已经认领
			continue
		}
		po.Status = string(JobStatusRunning)
		po.Deliveries++
		claimed = append(claimed, po.toJob())
	}
	return claimed, nil
}

func (q *gormJobQueue) Complete(ctx context.Context, job *Job) error {
	return q.finish(ctx, job, map[string]any{"status": string(JobStatusDone)})
}

func (q *gormJobQueue) Retry(ctx context.Context, job *Job, at time.Time, cause error) error {
	err := q.finish(ctx, job, map[string]any{
		"status":     string(JobStatusPending),
		"fires_at":   at.UnixMilli(),
		"last_error": errorString(cause),
	})
	if err != nil {
		return err
	}
	job.FiresAt = at
	job.LastError = errorString(cause)
	return nil
}

func (q *gormJobQueue) Bury(ctx context.Context, job *Job, cause error) error {
	return q.finish(ctx, job, map[string]any{
		"status":     string(JobStatusDead),
		"last_error": errorString(cause),
	})
}

func (q *gormJobQueue) finish(ctx context.Context, job *Job, fields map[string]any) error {
	fields["updated_at"] = time.Now().Unix()
	result := q.db.WithContext(ctx).Model(&JobPo{}).
		Where("id = ? AND status = ?", job.ID, string(JobStatusRunning)).
		Updates(fields)
	if result.Error != nil {
		return errors.WithMessagef(result.Error, "update job %d failed", job.ID)
	}
	if result.RowsAffected == 0 {
		return errors.WithMessagef(ErrJobClaimConflict, "job %d is not running", job.ID)
	}
	job.Status = JobStatus(fields["status"].(string))
	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
