package repository

import (
	"context"
	"errors"

	"taskrunner/internal/model"
	"taskrunner/pkg/utils"

	"gorm.io/gorm"
)

type VersionRepository interface {
	Create(ctx context.Context, version *model.TaskVersion, opts ...utils.DBOption) error
	FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.TaskVersion, error)
	FindActiveByTask(ctx context.Context, taskID uint, opts ...utils.DBOption) (*model.TaskVersion, error)
	ListByTask(ctx context.Context, taskID uint, opts ...utils.DBOption) ([]model.TaskVersion, error)
	MaxVersionNumber(ctx context.Context, taskID uint, opts ...utils.DBOption) (int, error)
	ArchiveSiblings(ctx context.Context, taskID uint, exceptID uint, opts ...utils.DBOption) (int64, error)
	UpdateStatus(ctx context.Context, id uint, status model.VersionStatus, opts ...utils.DBOption) error
}

type versionRepository struct {
	db *gorm.DB
}

func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

func (r *versionRepository) Create(ctx context.Context, version *model.TaskVersion, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(version).Error
}

func (r *versionRepository) FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.TaskVersion, error) {
	var version model.TaskVersion
	if err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).First(&version, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &version, nil
}

// FindActiveByTask returns the active version, or nil when the task has none.
func (r *versionRepository) FindActiveByTask(ctx context.Context, taskID uint, opts ...utils.DBOption) (*model.TaskVersion, error) {
	var versions []model.TaskVersion
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("task_id = ? AND status = ?", taskID, model.VersionStatusActive).
		Order("version_number DESC").
		Limit(1).
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return &versions[0], nil
}

func (r *versionRepository) ListByTask(ctx context.Context, taskID uint, opts ...utils.DBOption) ([]model.TaskVersion, error) {
	var versions []model.TaskVersion
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("task_id = ?", taskID).
		Order("version_number DESC").
		Find(&versions).Error
	return versions, err
}

func (r *versionRepository) MaxVersionNumber(ctx context.Context, taskID uint, opts ...utils.DBOption) (int, error) {
	var max int
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.TaskVersion{}).
		Where("task_id = ?", taskID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&max).Error
	return max, err
}

// ArchiveSiblings archives every version of the task except exceptID.
// exceptID of zero archives all of them.
func (r *versionRepository) ArchiveSiblings(ctx context.Context, taskID uint, exceptID uint, opts ...utils.DBOption) (int64, error) {
	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.TaskVersion{}).
		Where("task_id = ? AND id <> ? AND status <> ?", taskID, exceptID, model.VersionStatusArchived).
		Update("status", model.VersionStatusArchived)
	return result.RowsAffected, result.Error
}

func (r *versionRepository) UpdateStatus(ctx context.Context, id uint, status model.VersionStatus, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.TaskVersion{}).
		Where("id = ?", id).
		Update("status", status).Error
}
