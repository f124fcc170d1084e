package service

import (
	"taskrunner/config"
	"taskrunner/internal/repository"
	"taskrunner/pkg/cache"
	"taskrunner/pkg/logger"
)

type Service struct {
	TaskService      TaskService
	VersionService   VersionService
	ExecutionService ExecutionService
	StateMachine     StateMachine
	TaskExecutor     TaskExecutor
	Dispatcher       Dispatcher
	Reaper           Reaper
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	inmemoryCache cache.Cache,
	artifactRunner ArtifactRunner,
	notifier Notifier,
) *Service {
	stateMachine := NewStateMachine(log, repo.ExecutionRepo, repo.VersionRepo, repo.TaskRepo, repo.UnitOfWork)
	taskExecutor := NewTaskExecutor(cfg, log, repo.ExecutionRepo, repo.ArtifactStore, artifactRunner, stateMachine, notifier)
	dispatcher := NewDispatcher(&cfg.Dispatcher, log, repo.ExecutionRepo, taskExecutor)
	monitor := NewResourceMonitor(&cfg.Monitor, log, inmemoryCache)

	return &Service{
		TaskService:      NewTaskService(log, repo.UserRepo, repo.TaskRepo, repo.VersionRepo),
		VersionService:   NewVersionService(cfg, log, repo.TaskRepo, repo.VersionRepo, repo.ArtifactStore, repo.UnitOfWork),
		ExecutionService: NewExecutionService(log, repo.TaskRepo, repo.VersionRepo, repo.ExecutionRepo, stateMachine, dispatcher, monitor),
		StateMachine:     stateMachine,
		TaskExecutor:     taskExecutor,
		Dispatcher:       dispatcher,
		Reaper:           NewReaper(cfg, log, repo.ExecutionRepo, stateMachine, dispatcher),
	}
}
