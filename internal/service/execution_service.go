package service

import (
	"context"
	"errors"
	"fmt"

	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"
)

const (
	cancelledMessage      = "cancelled by user"
	dispatchFailedMessage = "dispatch failed"
)

// ExecutionReport is the status view of an execution. Live fields are only
// filled while the execution is running and may be empty.
type ExecutionReport struct {
	Execution        *model.TaskExecution
	TaskStatus       WorkerState
	CurrentResources map[string]interface{}
}

type ExecutionService interface {
	Execute(ctx context.Context, taskID uint, triggeredBy *uint) (*model.TaskExecution, error)
	Get(ctx context.Context, id uint) (*model.TaskExecution, error)
	Status(ctx context.Context, id uint) (*ExecutionReport, error)
	Logs(ctx context.Context, id uint) (string, error)
	Metrics(ctx context.Context, id uint) (map[string]interface{}, error)
	Cancel(ctx context.Context, id uint) (*model.TaskExecution, error)
	ListByTask(ctx context.Context, taskID uint, limit int) ([]model.TaskExecution, error)
}

type executionService struct {
	log           *logger.Logger
	taskRepo      repository.TaskRepository
	versionRepo   repository.VersionRepository
	executionRepo repository.ExecutionRepository
	stateMachine  StateMachine
	dispatcher    Dispatcher
	monitor       ResourceMonitor
}

func NewExecutionService(
	log *logger.Logger,
	taskRepo repository.TaskRepository,
	versionRepo repository.VersionRepository,
	executionRepo repository.ExecutionRepository,
	stateMachine StateMachine,
	dispatcher Dispatcher,
	monitor ResourceMonitor,
) ExecutionService {
	return &executionService{
		log:           log,
		taskRepo:      taskRepo,
		versionRepo:   versionRepo,
		executionRepo: executionRepo,
		stateMachine:  stateMachine,
		dispatcher:    dispatcher,
		monitor:       monitor,
	}
}

// Execute creates a pending execution of the task's active version and hands
// it to the dispatcher. It does not wait for the run.
func (s *executionService) Execute(ctx context.Context, taskID uint, triggeredBy *uint) (*model.TaskExecution, error) {
	if _, err := s.taskRepo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	version, err := s.versionRepo.FindActiveByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("task %d: %w", taskID, model.ErrNoActiveVersion)
	}

	execution := &model.TaskExecution{
		TaskVersionID: version.ID,
		Status:        model.ExecutionStatusPending,
		TriggeredByID: triggeredBy,
	}
	if err := s.executionRepo.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	log := s.log.With(
		logger.UintField("task_id", taskID),
		logger.UintField("version_id", version.ID),
		logger.UintField("execution_id", execution.ID),
	)

	handle, err := s.dispatcher.Submit(ctx, execution.ID)
	if err != nil {
		// A cancel can land between Create and the dispatcher persisting its handle.
		if current, findErr := s.executionRepo.FindByID(context.WithoutCancel(ctx), execution.ID); findErr == nil &&
			current.Status == model.ExecutionStatusCancelled {
			log.InfoContext(ctx, "Execution cancelled before dispatch", logger.ErrorField(err))
			return current, nil
		}
		log.ErrorContext(ctx, "Failed to dispatch execution", logger.ErrorField(err))
		reason := fmt.Sprintf("%s: %v", dispatchFailedMessage, err)
		if cancelErr := s.stateMachine.Cancel(context.WithoutCancel(ctx), execution, reason); cancelErr != nil {
			log.ErrorContext(ctx, "Failed to cancel undispatched execution", logger.ErrorField(cancelErr))
		}
		return nil, fmt.Errorf("dispatch execution %d: %w", execution.ID, err)
	}
	log.InfoContext(ctx, "Execution requested", logger.StringField("job_handle", handle))

	stored, err := s.executionRepo.FindByID(ctx, execution.ID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *executionService) Get(ctx context.Context, id uint) (*model.TaskExecution, error) {
	return s.executionRepo.FindByID(ctx, id)
}

// Status never fails because of live sampling; a vanished process simply
// leaves CurrentResources empty.
func (s *executionService) Status(ctx context.Context, id uint) (*ExecutionReport, error) {
	execution, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &ExecutionReport{Execution: execution}
	if execution.Status != model.ExecutionStatusRunning {
		return report, nil
	}

	live := s.dispatcher.LiveStatus(execution.JobHandle)
	report.TaskStatus = live.State
	if live.PID > 0 {
		report.CurrentResources = s.monitor.Sample(ctx, execution.JobHandle, live.PID)
	}
	return report, nil
}

func (s *executionService) Logs(ctx context.Context, id uint) (string, error) {
	execution, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return execution.Logs, nil
}

func (s *executionService) Metrics(ctx context.Context, id uint) (map[string]interface{}, error) {
	execution, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if execution.Metrics == nil {
		return map[string]interface{}{}, nil
	}
	return execution.Metrics, nil
}

// Cancel marks the execution cancelled, then asks the dispatcher to kill the
// job without waiting for it to exit.
func (s *executionService) Cancel(ctx context.Context, id uint) (*model.TaskExecution, error) {
	execution, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !execution.Status.CanTransitionTo(model.ExecutionStatusCancelled) {
		return nil, fmt.Errorf("execution %d is %s: %w", id, execution.Status, model.ErrInvalidState)
	}

	if err := s.stateMachine.Cancel(ctx, execution, cancelledMessage); err != nil {
		return nil, err
	}

	if execution.JobHandle != "" && !s.dispatcher.Cancel(execution.JobHandle) {
		s.log.InfoContext(ctx, "Cancelled execution had no live job",
			logger.UintField("execution_id", id),
			logger.StringField("job_handle", execution.JobHandle),
		)
	}
	return execution, nil
}

func (s *executionService) ListByTask(ctx context.Context, taskID uint, limit int) ([]model.TaskExecution, error) {
	if _, err := s.taskRepo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.executionRepo.ListByTask(ctx, taskID, limit, utils.WithPreload("TaskVersion"))
}

// IsDispatchError reports errors that came from the worker pool rather than the request.
func IsDispatchError(err error) bool {
	return errors.Is(err, model.ErrQueueFull) || errors.Is(err, model.ErrDispatcherStopped)
}
