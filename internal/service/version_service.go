package service

import (
	"context"
	"fmt"

	"taskrunner/config"
	"taskrunner/internal/depscan"
	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/pkg/common"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"
)

type CreateVersionParam struct {
	TaskID     uint
	FileName   string
	Content    []byte
	ChangeNote string
	// Requirements overrides the detected manifest when set.
	Requirements *string
	Status       model.VersionStatus
	Metadata     map[string]interface{}
}

// VersionService is the version registry. It keeps at most one active
// version per task and numbers versions per task from 1.
type VersionService interface {
	Create(ctx context.Context, param CreateVersionParam) (*model.TaskVersion, error)
	Activate(ctx context.Context, versionID uint) (*model.TaskVersion, error)
	Get(ctx context.Context, versionID uint) (*model.TaskVersion, error)
	GetActiveVersion(ctx context.Context, taskID uint) (*model.TaskVersion, error)
	List(ctx context.Context, taskID uint) ([]model.TaskVersion, error)
}

type versionService struct {
	cfg         *config.Config
	log         *logger.Logger
	taskRepo    repository.TaskRepository
	versionRepo repository.VersionRepository
	artifacts   repository.ArtifactStore
	uow         repository.UnitOfWork
}

func NewVersionService(
	cfg *config.Config,
	log *logger.Logger,
	taskRepo repository.TaskRepository,
	versionRepo repository.VersionRepository,
	artifacts repository.ArtifactStore,
	uow repository.UnitOfWork,
) VersionService {
	return &versionService{
		cfg:         cfg,
		log:         log,
		taskRepo:    taskRepo,
		versionRepo: versionRepo,
		artifacts:   artifacts,
		uow:         uow,
	}
}

func (s *versionService) maxArtifactSize() int64 {
	if s.cfg.Artifact.MaxSize <= 0 {
		return config.DefaultMaxArtifactSize
	}
	return s.cfg.Artifact.MaxSize
}

func (s *versionService) validate(param *CreateVersionParam) error {
	if param.FileName == "" || param.Content == nil {
		return model.NewValidationError("file", "no file provided")
	}
	ext := model.ArtifactExtension(param.FileName)
	if !utils.ContainsString(common.GetAllowedArtifactExtensions(), ext) {
		return model.NewValidationError("file", fmt.Sprintf("file extension %q is not allowed, use .py or .ipynb", ext))
	}
	if max := s.maxArtifactSize(); int64(len(param.Content)) > max {
		return model.NewValidationError("file", fmt.Sprintf("file size %d exceeds the limit of %d bytes", len(param.Content), max))
	}
	if param.Status == "" {
		param.Status = model.VersionStatusDraft
	}
	if !param.Status.Valid() {
		return model.NewValidationError("status", fmt.Sprintf("unknown version status %q", param.Status))
	}
	return nil
}

// Create stores the artifact and inserts the next version number. When the
// new version is active, every sibling is archived in the same transaction
// and the task's last_run is cleared.
func (s *versionService) Create(ctx context.Context, param CreateVersionParam) (*model.TaskVersion, error) {
	if err := s.validate(&param); err != nil {
		return nil, err
	}

	task, err := s.taskRepo.FindByID(ctx, param.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Name == "" {
		return nil, model.NewValidationError("task", "task has no name")
	}

	requirements := depscan.Detect(param.FileName, param.Content)
	if param.Requirements != nil {
		requirements = *param.Requirements
	}

	ref, err := s.artifacts.Save(ctx, param.FileName, param.Content)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	version := &model.TaskVersion{
		TaskID:       task.ID,
		FileName:     param.FileName,
		ArtifactKey:  ref.Key,
		Checksum:     ref.Checksum,
		FileSize:     ref.Size,
		Status:       param.Status,
		ChangeNote:   param.ChangeNote,
		Requirements: requirements,
		Metadata:     param.Metadata,
	}

	err = s.uow.Run(ctx, func(opts ...utils.DBOption) error {
		if _, err := s.taskRepo.FindByID(ctx, task.ID, append(opts, utils.WithLockForUpdate())...); err != nil {
			return err
		}

		max, err := s.versionRepo.MaxVersionNumber(ctx, task.ID, opts...)
		if err != nil {
			return fmt.Errorf("next version number: %w", err)
		}
		version.VersionNumber = max + 1

		if version.Status == model.VersionStatusActive {
			if _, err := s.versionRepo.ArchiveSiblings(ctx, task.ID, 0, opts...); err != nil {
				return fmt.Errorf("archive versions: %w", err)
			}
		}
		if err := s.versionRepo.Create(ctx, version, opts...); err != nil {
			return fmt.Errorf("create version: %w", err)
		}
		if version.Status == model.VersionStatusActive {
			return s.taskRepo.UpdateLastRun(ctx, task.ID, nil, opts...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "Task version created",
		logger.UintField("task_id", task.ID),
		logger.UintField("version_id", version.ID),
		logger.IntField("version_number", version.VersionNumber),
		logger.StringField("status", string(version.Status)),
		logger.StringField("checksum", version.Checksum),
	)
	return version, nil
}

// Activate makes versionID the task's only active version. Activating the
// active version is a no-op.
func (s *versionService) Activate(ctx context.Context, versionID uint) (*model.TaskVersion, error) {
	var version *model.TaskVersion
	var archived int64

	err := s.uow.Run(ctx, func(opts ...utils.DBOption) error {
		v, err := s.versionRepo.FindByID(ctx, versionID, opts...)
		if err != nil {
			return err
		}
		if _, err := s.taskRepo.FindByID(ctx, v.TaskID, append(opts, utils.WithLockForUpdate())...); err != nil {
			return err
		}
		// Re-read under the task lock; a concurrent writer may have changed it.
		v, err = s.versionRepo.FindByID(ctx, versionID, opts...)
		if err != nil {
			return err
		}
		version = v
		if v.Status == model.VersionStatusActive {
			return nil
		}

		archived, err = s.versionRepo.ArchiveSiblings(ctx, v.TaskID, v.ID, opts...)
		if err != nil {
			return fmt.Errorf("archive versions: %w", err)
		}
		if err := s.versionRepo.UpdateStatus(ctx, v.ID, model.VersionStatusActive, opts...); err != nil {
			return fmt.Errorf("activate version: %w", err)
		}
		version.Status = model.VersionStatusActive
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "Task version activated",
		logger.UintField("task_id", version.TaskID),
		logger.UintField("version_id", version.ID),
		logger.Int64Field("archived", archived),
	)
	return version, nil
}

func (s *versionService) Get(ctx context.Context, versionID uint) (*model.TaskVersion, error) {
	return s.versionRepo.FindByID(ctx, versionID)
}

func (s *versionService) GetActiveVersion(ctx context.Context, taskID uint) (*model.TaskVersion, error) {
	if _, err := s.taskRepo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.versionRepo.FindActiveByTask(ctx, taskID)
}

func (s *versionService) List(ctx context.Context, taskID uint) ([]model.TaskVersion, error) {
	if _, err := s.taskRepo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.versionRepo.ListByTask(ctx, taskID)
}
