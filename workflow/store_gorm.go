package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type WorkflowPo struct {
	ID        string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	Name      string     `gorm:"column:name" json:"name"`
	UserID    string     `gorm:"column:user_id;index" json:"user_id"`
	Decider   string     `gorm:"column:decider" json:"decider"`
	Subject   JSONDetail `gorm:"column:subject;type:text" json:"subject"`
	Complete  bool       `gorm:"column:complete;not null;default:false" json:"complete"`
	Migrated  bool       `gorm:"column:migrated;not null;default:false" json:"migrated"`
	CreatedAt int64      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64      `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowPo) TableName() string {
	return "workflows"
}

type NodePo struct {
	ID                  string     `gorm:"column:id;primaryKey;size:36"`
	ParentID            *string    `gorm:"column:parent_id;index;size:36"`
	WorkflowID          string     `gorm:"column:workflow_id;index;size:36"`
	UserID              string     `gorm:"column:user_id;index"`
	Mode                string     `gorm:"column:mode"`
	CurrentClientStatus string     `gorm:"column:current_client_status;index"`
	CurrentServerStatus string     `gorm:"column:current_server_status;index"`
	Name                string     `gorm:"column:name"`
	Position            int64      `gorm:"column:position"`
	FiresAt             int64      `gorm:"column:fires_at"` // 毫秒
	ClientMetadata      JSONDetail `gorm:"column:client_metadata;type:text"`
	ClientData          JSONDetail `gorm:"column:client_data;type:text"`
	LegacyType          string     `gorm:"column:legacy_type"`
	RetryInterval       int64      `gorm:"column:retry_interval"`
	RetriesRemaining    int64      `gorm:"column:retries_remaining"`
	CompleteWorkflow    bool       `gorm:"column:complete_workflow;not null;default:false"`
	CreatedAt           int64      `gorm:"column:created_at"`
	UpdatedAt           int64      `gorm:"column:updated_at"`
}

func (NodePo) TableName() string {
	return "nodes"
}

type StatusChangePo struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	NodeID     string `gorm:"column:node_id;index;size:36"`
	StatusType string `gorm:"column:status_type"`
	FromStatus string `gorm:"column:from_status"`
	ToStatus   string `gorm:"column:to_status"`
	CreatedAt  int64  `gorm:"column:created_at"`
}

func (StatusChangePo) TableName() string {
	return "status_changes"
}

// AllModels AutoMigrate 用
func AllModels() []any {
	return []any{&WorkflowPo{}, &NodePo{}, &StatusChangePo{}, &JobPo{}}
}

type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Page      int64 `json:"page"`
	Size      int64 `json:"size"`
}

type QueryWorkflowParams struct {
	IDIn     []string `json:"id_in"`
	UserID   *string  `json:"user_id"`
	Complete *bool    `json:"complete"`
	Page     *Pager   `json:"page"`
}

type QueryNodeParams struct {
	NodeID          *string  `json:"node_id"`
	WorkflowID      *string  `json:"workflow_id"`
	ParentID        *string  `json:"parent_id"`
	IsTopLevel      bool     `json:"is_top_level"` // parent_id 为空
	LegacyTypeIn    []string `json:"legacy_type_in"`
	ServerStatusIn  []string `json:"server_status_in"`
	ServerStatusNot []string `json:"server_status_not"`
	ClientStatusIn  []string `json:"client_status_in"`
	OrderByPosition bool     `json:"order_by_position"`
	Page            *Pager   `json:"page"`
}

type UpdateNodeStatusesParams struct {
	Where  *UpdateNodeStatusesWhere `json:"where" validate:"required"`
	Fields *UpdateNodeStatusesField `json:"fields" validate:"required"`
}

// UpdateNodeStatusesWhere id + 当前已知的状态, 就是 compare-and-swap 的 compare 部分
type UpdateNodeStatusesWhere struct {
	ID                  string `json:"id" validate:"required"`
	CurrentClientStatus string `json:"current_client_status" validate:"required"`
	CurrentServerStatus string `json:"current_server_status" validate:"required"`
}

type UpdateNodeStatusesField struct {
	CurrentClientStatus *string `json:"current_client_status"`
	CurrentServerStatus *string `json:"current_server_status"`
}

type UpdateNodeParams struct {
	Where  *UpdateNodeWhere `json:"where" validate:"required"`
	Fields *UpdateNodeField `json:"fields" validate:"required"`
}

type UpdateNodeWhere struct {
	ID               string `json:"id" validate:"required"`
	RetriesRemaining *int64 `json:"retries_remaining"`
}

type UpdateNodeField struct {
	RetriesRemaining *int64      `json:"retries_remaining"`
	FiresAt          *time.Time  `json:"fires_at"`
	ClientData       *JSONDetail `json:"client_data"`
	ClientMetadata   *JSONDetail `json:"client_metadata"`
}

type QueryStatusChangeParams struct {
	NodeID     *string `json:"node_id"`
	StatusType *string `json:"status_type"`
	Page       *Pager  `json:"page"`
}

type QueryWorkflowIDsByNodeParams struct {
	UserID            *string  `json:"user_id"`
	LegacyTypeIn      []string `json:"legacy_type_in"`
	ServerStatusIn    []string `json:"server_status_in"`
	UpdatedBefore     *int64   `json:"updated_before"`
	OnlyIncomplete    bool     `json:"only_incomplete"`
	MinMatchedNodes   int64    `json:"min_matched_nodes"`
	OrderByWorkflowID bool     `json:"order_by_workflow_id"`
}

type workflowRepo struct {
	db *gorm.DB
}

func NewWorkflowRepo(db *gorm.DB) WorkflowRepo {
	return &workflowRepo{
		db: db,
	}
}

func applyPager(db *gorm.DB, page *Pager) *gorm.DB {
	if page == nil || (page.IsNoLimit != nil && *page.IsNoLimit) {
		return db
	}
	if page.Page == 0 {
		page.Page = 1
	}
	if page.Size == 0 {
		page.Size = 10
	}
	return db.Offset(int(page.Page-1) * int(page.Size)).Limit(int(page.Size))
}

func (r *workflowRepo) CreateWorkflow(ctx context.Context, workflow *WorkflowPo) (*WorkflowPo, error) {
	if workflow == nil {
		return nil, fmt.Errorf("nil WorkflowPo")
	}
	now := time.Now().Unix()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	if err := r.GetDBWithContext(ctx).Create(workflow).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflow failed")
	}
	return workflow, nil
}

func (r *workflowRepo) GetWorkflow(ctx context.Context, workflowID string) (*WorkflowPo, error) {
	pos, err := r.QueryWorkflow(ctx, &QueryWorkflowParams{
		IDIn: []string{workflowID},
		Page: &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowNotFound, "workflow id: %s", workflowID)
	}
	return pos[0], nil
}

func (r *workflowRepo) QueryWorkflow(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowPo{})
	if len(param.IDIn) > 0 {
		db = db.Where("id IN ?", param.IDIn)
	}
	if param.UserID != nil {
		db = db.Where("user_id = ?", *param.UserID)
	}
	if param.Complete != nil {
		db = db.Where("complete = ?", *param.Complete)
	}
	db = applyPager(db.Order("created_at asc, id asc"), param.Page)
	pos := make([]*WorkflowPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflow failed")
	}
	return pos, nil
}

func (r *workflowRepo) MarkWorkflowComplete(ctx context.Context, workflowID string) (bool, error) {
	result := r.GetDBWithContext(ctx).Model(&WorkflowPo{}).
		Where("id = ? AND complete = ?", workflowID, false).
		Updates(map[string]any{"complete": true, "updated_at": time.Now().Unix()})
	if result.Error != nil {
		return false, errors.WithMessagef(result.Error, "MarkWorkflowComplete failed, workflow id: %s", workflowID)
	}
	return result.RowsAffected == 1, nil
}

func (r *workflowRepo) CreateNode(ctx context.Context, node *NodePo) (*NodePo, error) {
	if node == nil {
		return nil, errors.New("nil NodePo")
	}
	now := time.Now().Unix()
	node.CreatedAt = now
	node.UpdatedAt = now
	if err := r.GetDBWithContext(ctx).Create(node).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateNode failed")
	}
	return node, nil
}

func (r *workflowRepo) GetNode(ctx context.Context, nodeID string) (*NodePo, error) {
	pos, err := r.QueryNode(ctx, &QueryNodeParams{
		NodeID: &nodeID,
		Page:   &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrNodeNotFound, "node id: %s", nodeID)
	}
	return pos[0], nil
}

func buildQueryNodeParams(db *gorm.DB, param *QueryNodeParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryNodeParams")
	}
	if param.NodeID != nil {
		db = db.Where("id = ?", *param.NodeID)
	}
	if param.WorkflowID != nil {
		db = db.Where("workflow_id = ?", *param.WorkflowID)
	}
	if param.ParentID != nil {
		db = db.Where("parent_id = ?", *param.ParentID)
	}
	if param.IsTopLevel {
		db = db.Where("parent_id IS NULL")
	}
	if len(param.LegacyTypeIn) > 0 {
		db = db.Where("legacy_type IN ?", param.LegacyTypeIn)
	}
	if len(param.ServerStatusIn) > 0 {
		db = db.Where("current_server_status IN ?", param.ServerStatusIn)
	}
	if len(param.ServerStatusNot) > 0 {
		db = db.Where("current_server_status NOT IN ?", param.ServerStatusNot)
	}
	if len(param.ClientStatusIn) > 0 {
		db = db.Where("current_client_status IN ?", param.ClientStatusIn)
	}
	return db, nil
}

func (r *workflowRepo) QueryNode(ctx context.Context, param *QueryNodeParams) ([]*NodePo, error) {
	db, err := buildQueryNodeParams(r.GetDBWithContext(ctx).Model(&NodePo{}), param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryNodeParams failed")
	}
	if param.OrderByPosition {
		db = db.Order("position asc, created_at asc, id asc")
	}
	db = applyPager(db, param.Page)
	pos := make([]*NodePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryNode failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountNode(ctx context.Context, param *QueryNodeParams) (int64, error) {
	db, err := buildQueryNodeParams(r.GetDBWithContext(ctx).Model(&NodePo{}), param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryNodeParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountNode failed")
	}
	return count, nil
}

func (r *workflowRepo) UpdateNodeStatuses(ctx context.Context, param *UpdateNodeStatusesParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateNodeStatusesParams")
	}
	updateFields := make(map[string]any)
	if param.Fields.CurrentClientStatus != nil {
		updateFields["current_client_status"] = *param.Fields.CurrentClientStatus
	}
	if param.Fields.CurrentServerStatus != nil {
		updateFields["current_server_status"] = *param.Fields.CurrentServerStatus
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	result := r.GetDBWithContext(ctx).Model(&NodePo{}).
		Where("id = ?", param.Where.ID).
		Where("current_client_status = ?", param.Where.CurrentClientStatus).
		Where("current_server_status = ?", param.Where.CurrentServerStatus).
		Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessagef(result.Error, "UpdateNodeStatuses failed, node id: %s", param.Where.ID)
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) UpdateNode(ctx context.Context, param *UpdateNodeParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateNodeParams")
	}
	updateFields := make(map[string]any)
	if param.Fields.RetriesRemaining != nil {
		updateFields["retries_remaining"] = *param.Fields.RetriesRemaining
	}
	if param.Fields.FiresAt != nil {
		updateFields["fires_at"] = param.Fields.FiresAt.UnixMilli()
	}
	if param.Fields.ClientData != nil {
		updateFields["client_data"] = *param.Fields.ClientData
	}
	if param.Fields.ClientMetadata != nil {
		updateFields["client_metadata"] = *param.Fields.ClientMetadata
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	db := r.GetDBWithContext(ctx).Model(&NodePo{}).Where("id = ?", param.Where.ID)
	if param.Where.RetriesRemaining != nil {
		db = db.Where("retries_remaining = ?", *param.Where.RetriesRemaining)
	}
	result := db.Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessagef(result.Error, "UpdateNode failed, node id: %s", param.Where.ID)
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) CreateStatusChanges(ctx context.Context, changes []*StatusChangePo) error {
	if len(changes) == 0 {
		return nil
	}
	now := time.Now().Unix()
	for _, change := range changes {
		change.CreatedAt = now
	}
	if err := r.GetDBWithContext(ctx).Create(&changes).Error; err != nil {
		return errors.WithMessage(err, "CreateStatusChanges failed")
	}
	return nil
}

func (r *workflowRepo) QueryStatusChange(ctx context.Context, param *QueryStatusChangeParams) ([]*StatusChangePo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryStatusChangeParams")
	}
	db := r.GetDBWithContext(ctx).Model(&StatusChangePo{})
	if param.NodeID != nil {
		db = db.Where("node_id = ?", *param.NodeID)
	}
	if param.StatusType != nil {
		db = db.Where("status_type = ?", *param.StatusType)
	}
	db = applyPager(db.Order("id asc"), param.Page)
	pos := make([]*StatusChangePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryStatusChange failed")
	}
	return pos, nil
}

func (r *workflowRepo) QueryWorkflowIDsByNode(ctx context.Context, param *QueryWorkflowIDsByNodeParams) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowIDsByNodeParams")
	}
	db := r.GetDBWithContext(ctx).Model(&NodePo{}).Select("workflow_id")
	if param.UserID != nil {
		db = db.Where("user_id = ?", *param.UserID)
	}
	if len(param.LegacyTypeIn) > 0 {
		db = db.Where("legacy_type IN ?", param.LegacyTypeIn)
	}
	if len(param.ServerStatusIn) > 0 {
		db = db.Where("current_server_status IN ?", param.ServerStatusIn)
	}
	if param.UpdatedBefore != nil {
		db = db.Where("updated_at < ?", *param.UpdatedBefore)
	}
	if param.OnlyIncomplete {
		incomplete := r.GetDBWithContext(ctx).Model(&WorkflowPo{}).Select("id").Where("complete = ?", false)
		db = db.Where("workflow_id IN (?)", incomplete)
	}
	db = db.Group("workflow_id")
	if param.MinMatchedNodes > 1 {
		db = db.Having("COUNT(*) >= ?", param.MinMatchedNodes)
	}
	if param.OrderByWorkflowID {
		db = db.Order("workflow_id asc")
	}
	ids := make([]string, 0)
	if err := db.Pluck("workflow_id", &ids).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowIDsByNode failed")
	}
	return ids, nil
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
)

func (r *workflowRepo) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		// 没有事务，直接返回db即可
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

// Transaction ctx 里面已经有事务的话直接复用, 不开嵌套事务
func (r *workflowRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(transactionContextKey) != nil {
		return fn(ctx)
	}
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.WithMessage(tx.Error, "begin transaction failed")
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			err = errors.WithMessage(commitErr, "commit transaction failed")
		}
	}()
	return fn(context.WithValue(ctx, transactionContextKey, tx))
}
