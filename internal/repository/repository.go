package repository

import (
	"taskrunner/config"

	"gorm.io/gorm"
)

type Repository struct {
	UserRepo      UserRepository
	TaskRepo      TaskRepository
	VersionRepo   VersionRepository
	ExecutionRepo ExecutionRepository
	ArtifactStore ArtifactStore
	UnitOfWork    UnitOfWork
}

func NewRepository(cfg *config.Config, db *gorm.DB) (*Repository, error) {
	artifacts, err := NewFileArtifactStore(cfg.Artifact.Root)
	if err != nil {
		return nil, err
	}

	return &Repository{
		UserRepo:      NewUserRepository(db),
		TaskRepo:      NewTaskRepository(db),
		VersionRepo:   NewVersionRepository(db),
		ExecutionRepo: NewExecutionRepository(db),
		ArtifactStore: artifacts,
		UnitOfWork:    NewUnitOfWork(db),
	}, nil
}
