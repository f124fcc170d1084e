package repository

import (
	"context"
	"errors"
	"time"

	"taskrunner/internal/model"
	"taskrunner/pkg/utils"

	"gorm.io/gorm"
)

type TaskRepository interface {
	Create(ctx context.Context, task *model.Task, opts ...utils.DBOption) error
	FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.Task, error)
	Get(ctx context.Context, param model.GetTaskParam, opts ...utils.DBOption) ([]model.Task, error)
	UpdateLastRun(ctx context.Context, id uint, lastRun *time.Time, opts ...utils.DBOption) error
}

type taskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(task).Error
}

// FindByID loads one task. Pass utils.WithLockForUpdate inside a unit of work to
// serialize writers of the task's version set.
func (r *taskRepository) FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.Task, error) {
	var task model.Task
	if err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Get lists tasks, newest update first. VisibleTo restricts to tasks owned by
// that user or marked public.
func (r *taskRepository) Get(ctx context.Context, param model.GetTaskParam, opts ...utils.DBOption) ([]model.Task, error) {
	var tasks []model.Task
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).Model(&model.Task{})
	if param.VisibleTo != nil {
		db = db.Where("owner_id = ? OR is_public = ?", *param.VisibleTo, true)
	}
	if param.Limit > 0 {
		db = db.Limit(param.Limit)
	}
	if err := db.Order("updated_at DESC").Order("id DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) UpdateLastRun(ctx context.Context, id uint, lastRun *time.Time, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.Task{}).
		Where("id = ?", id).
		Update("last_run", lastRun).Error
}
