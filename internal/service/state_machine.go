package service

import (
	"context"
	"fmt"

	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"
)

// Outcome is what a finished run leaves on its execution record.
type Outcome struct {
	Logs         string
	ErrorMessage string
	Metrics      map[string]interface{}
	Resources    map[string]interface{}
}

// StateMachine is the only writer of TaskExecution.Status. Every write is a
// compare-and-set against the legal source states, so when two writers race
// for a terminal state the first commit wins and the other gets
// model.ErrAlreadyTerminal.
type StateMachine interface {
	Start(ctx context.Context, execution *model.TaskExecution, handle string) error
	Complete(ctx context.Context, execution *model.TaskExecution, outcome Outcome) error
	Fail(ctx context.Context, execution *model.TaskExecution, outcome Outcome) error
	TimeOut(ctx context.Context, execution *model.TaskExecution, outcome Outcome) error
	Cancel(ctx context.Context, execution *model.TaskExecution, reason string) error
}

type stateMachine struct {
	log           *logger.Logger
	executionRepo repository.ExecutionRepository
	versionRepo   repository.VersionRepository
	taskRepo      repository.TaskRepository
	uow           repository.UnitOfWork
}

func NewStateMachine(
	log *logger.Logger,
	executionRepo repository.ExecutionRepository,
	versionRepo repository.VersionRepository,
	taskRepo repository.TaskRepository,
	uow repository.UnitOfWork,
) StateMachine {
	return &stateMachine{
		log:           log,
		executionRepo: executionRepo,
		versionRepo:   versionRepo,
		taskRepo:      taskRepo,
		uow:           uow,
	}
}

func (s *stateMachine) Start(ctx context.Context, execution *model.TaskExecution, handle string) error {
	now := utils.TimeNow()
	update := model.ExecutionUpdate{
		Status:    model.ExecutionStatusRunning,
		StartedAt: &now,
	}
	if handle != "" {
		update.JobHandle = &handle
	}
	return s.transition(ctx, execution, update)
}

// Complete also stamps the owning task's last_run in the same transaction.
func (s *stateMachine) Complete(ctx context.Context, execution *model.TaskExecution, outcome Outcome) error {
	update := s.terminalUpdate(execution, model.ExecutionStatusCompleted, outcome)

	err := s.uow.Run(ctx, func(opts ...utils.DBOption) error {
		won, err := s.executionRepo.Transition(ctx, execution.ID, update, opts...)
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("execution %d: %w", execution.ID, model.ErrAlreadyTerminal)
		}

		taskID, err := s.taskIDOf(ctx, execution, opts...)
		if err != nil {
			return err
		}
		return s.taskRepo.UpdateLastRun(ctx, taskID, update.CompletedAt, opts...)
	})
	if err != nil {
		return err
	}

	update.Apply(execution)
	s.logTransition(ctx, execution)
	return nil
}

func (s *stateMachine) Fail(ctx context.Context, execution *model.TaskExecution, outcome Outcome) error {
	return s.transition(ctx, execution, s.terminalUpdate(execution, model.ExecutionStatusFailed, outcome))
}

func (s *stateMachine) TimeOut(ctx context.Context, execution *model.TaskExecution, outcome Outcome) error {
	return s.transition(ctx, execution, s.terminalUpdate(execution, model.ExecutionStatusTimeout, outcome))
}

// Cancel is legal from pending and running. Losing the race to any other
// terminal write reports model.ErrInvalidState.
func (s *stateMachine) Cancel(ctx context.Context, execution *model.TaskExecution, reason string) error {
	update := s.terminalUpdate(execution, model.ExecutionStatusCancelled, Outcome{ErrorMessage: reason})
	won, err := s.executionRepo.Transition(ctx, execution.ID, update)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("execution %d cannot be cancelled: %w", execution.ID, model.ErrInvalidState)
	}
	update.Apply(execution)
	s.logTransition(ctx, execution)
	return nil
}

func (s *stateMachine) transition(ctx context.Context, execution *model.TaskExecution, update model.ExecutionUpdate) error {
	won, err := s.executionRepo.Transition(ctx, execution.ID, update)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("execution %d to %s: %w", execution.ID, update.Status, model.ErrAlreadyTerminal)
	}
	update.Apply(execution)
	s.logTransition(ctx, execution)
	return nil
}

// terminalUpdate stamps completed_at, never earlier than started_at.
func (s *stateMachine) terminalUpdate(execution *model.TaskExecution, status model.ExecutionStatus, outcome Outcome) model.ExecutionUpdate {
	completedAt := utils.NotBefore(utils.TimeNow(), execution.StartedAt)
	update := model.ExecutionUpdate{
		Status:      status,
		CompletedAt: &completedAt,
		Metrics:     outcome.Metrics,
		Resources:   outcome.Resources,
	}
	if outcome.Logs != "" {
		update.Logs = &outcome.Logs
	}
	if outcome.ErrorMessage != "" {
		update.ErrorMessage = &outcome.ErrorMessage
	}
	return update
}

func (s *stateMachine) taskIDOf(ctx context.Context, execution *model.TaskExecution, opts ...utils.DBOption) (uint, error) {
	if execution.TaskVersion != nil {
		return execution.TaskVersion.TaskID, nil
	}
	version, err := s.versionRepo.FindByID(ctx, execution.TaskVersionID, opts...)
	if err != nil {
		return 0, fmt.Errorf("load version of execution %d: %w", execution.ID, err)
	}
	return version.TaskID, nil
}

func (s *stateMachine) logTransition(ctx context.Context, execution *model.TaskExecution) {
	s.log.InfoContext(ctx, "Execution state changed",
		logger.UintField("execution_id", execution.ID),
		logger.UintField("version_id", execution.TaskVersionID),
		logger.StringField("job_handle", execution.JobHandle),
		logger.StringField("status", string(execution.Status)),
	)
}
