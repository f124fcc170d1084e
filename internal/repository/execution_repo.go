package repository

import (
	"context"
	"errors"
	"fmt"

	"taskrunner/internal/model"
	"taskrunner/pkg/utils"

	"gorm.io/gorm"
)

type ExecutionRepository interface {
	Create(ctx context.Context, execution *model.TaskExecution, opts ...utils.DBOption) error
	FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.TaskExecution, error)
	ListByTask(ctx context.Context, taskID uint, limit int, opts ...utils.DBOption) ([]model.TaskExecution, error)
	ListByStatus(ctx context.Context, statuses []model.ExecutionStatus, opts ...utils.DBOption) ([]model.TaskExecution, error)
	SetJobHandle(ctx context.Context, id uint, handle string, opts ...utils.DBOption) error
	Transition(ctx context.Context, id uint, update model.ExecutionUpdate, opts ...utils.DBOption) (bool, error)
}

type executionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) Create(ctx context.Context, execution *model.TaskExecution, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(execution).Error
}

func (r *executionRepository) FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.TaskExecution, error) {
	var execution model.TaskExecution
	if err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).First(&execution, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &execution, nil
}

// ListByTask returns executions of every version of the task, most recent first.
func (r *executionRepository) ListByTask(ctx context.Context, taskID uint, limit int, opts ...utils.DBOption) ([]model.TaskExecution, error) {
	var executions []model.TaskExecution
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Joins("JOIN task_versions ON task_versions.id = task_executions.task_version_id").
		Where("task_versions.task_id = ?", taskID).
		Order("task_executions.started_at IS NULL").
		Order("task_executions.started_at DESC").
		Order("task_executions.id DESC")
	if err := utils.WithLimit(limit)(db).Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}

func (r *executionRepository) ListByStatus(ctx context.Context, statuses []model.ExecutionStatus, opts ...utils.DBOption) ([]model.TaskExecution, error) {
	var executions []model.TaskExecution
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("status IN ?", statuses).
		Order("id ASC").
		Find(&executions).Error
	return executions, err
}

// SetJobHandle records the dispatcher handle while the execution is still pending.
func (r *executionRepository) SetJobHandle(ctx context.Context, id uint, handle string, opts ...utils.DBOption) error {
	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.TaskExecution{}).
		Where("id = ? AND status = ?", id, model.ExecutionStatusPending).
		Update("job_handle", handle)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("execution %d is no longer pending: %w", id, model.ErrInvalidState)
	}
	return nil
}

// Transition moves the execution to update.Status only if its current status is a
// legal source for that target. The boolean reports whether this call won; a
// false result with a nil error means another writer got there first.
func (r *executionRepository) Transition(ctx context.Context, id uint, update model.ExecutionUpdate, opts ...utils.DBOption) (bool, error) {
	sources := model.TransitionSources(update.Status)
	if len(sources) == 0 {
		return false, fmt.Errorf("no transition leads to %q: %w", update.Status, model.ErrInvalidState)
	}

	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.TaskExecution{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(update.Columns())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
