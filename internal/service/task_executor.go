package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"taskrunner/config"
	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/internal/runner"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"
)

const interruptedMessage = "execution interrupted"

// ArtifactRunner executes one artifact. *runner.Runner satisfies it.
type ArtifactRunner interface {
	Run(ctx context.Context, job runner.Job) (runner.Result, error)
}

// TaskExecutor is the worker body: it drives one execution from pending to a
// terminal state.
type TaskExecutor interface {
	JobHandler
}

type taskExecutor struct {
	cfg           *config.Config
	log           *logger.Logger
	executionRepo repository.ExecutionRepository
	artifacts     repository.ArtifactStore
	runner        ArtifactRunner
	stateMachine  StateMachine
	notifier      Notifier
}

func NewTaskExecutor(
	cfg *config.Config,
	log *logger.Logger,
	executionRepo repository.ExecutionRepository,
	artifacts repository.ArtifactStore,
	artifactRunner ArtifactRunner,
	stateMachine StateMachine,
	notifier Notifier,
) TaskExecutor {
	return &taskExecutor{
		cfg:           cfg,
		log:           log,
		executionRepo: executionRepo,
		artifacts:     artifacts,
		runner:        artifactRunner,
		stateMachine:  stateMachine,
		notifier:      notifier,
	}
}

func (t *taskExecutor) Handle(ctx context.Context, job *DispatchedJob) (err error) {
	log := t.log.With(
		logger.UintField("execution_id", job.ExecutionID),
		logger.StringField("job_handle", job.Handle),
	)
	// Terminal writes must land even after the job context is cancelled.
	recordCtx := context.WithoutCancel(ctx)

	execution, err := t.executionRepo.FindByID(recordCtx, job.ExecutionID, utils.WithPreload("TaskVersion.Task"))
	if err != nil {
		return fmt.Errorf("load execution %d: %w", job.ExecutionID, err)
	}
	version := execution.TaskVersion
	if version == nil || version.Task == nil {
		return fmt.Errorf("execution %d has no version: %w", execution.ID, model.ErrNotFound)
	}
	log = log.With(logger.UintField("version_id", version.ID), logger.UintField("task_id", version.TaskID))
	ctx = logger.NewContext(ctx, log)
	recordCtx = context.WithoutCancel(ctx)

	if err := t.stateMachine.Start(recordCtx, execution, job.Handle); err != nil {
		if errors.Is(err, model.ErrAlreadyTerminal) {
			log.InfoContext(ctx, "Execution left pending before it could start", logger.StringField("status", string(execution.Status)))
			return nil
		}
		return fmt.Errorf("start execution: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "Execution panicked",
				logger.Field("panic", r),
				logger.StringField("stack", string(debug.Stack())),
			)
			err = t.finish(recordCtx, log, execution, model.ExecutionStatusFailed, Outcome{
				ErrorMessage: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	content, err := t.artifacts.Open(ctx, version.ArtifactKey)
	if err != nil {
		return t.finish(recordCtx, log, execution, model.ExecutionStatusFailed, Outcome{
			ErrorMessage: fmt.Sprintf("load artifact: %v", err),
		})
	}

	log.InfoContext(ctx, "Running artifact", logger.StringField("file_name", version.FileName))
	result, runErr := t.runner.Run(ctx, runner.Job{
		ExecutionID:  execution.ID,
		FileName:     version.FileName,
		Content:      content,
		Requirements: version.Requirements,
		OnStart:      job.SetPID,
	})

	outcome := Outcome{
		Logs:         result.Logs,
		ErrorMessage: result.ErrorMessage,
		Metrics:      result.Metrics,
		Resources:    result.Resources,
	}
	if outcome.Resources == nil {
		outcome.Resources = map[string]interface{}{}
	}
	outcome.Resources["job_handle"] = job.Handle
	if snapshot := job.snapshot(); snapshot.Worker > 0 {
		outcome.Resources["worker"] = snapshot.Worker
	}

	switch {
	case runErr == nil:
		return t.finish(recordCtx, log, execution, model.ExecutionStatusCompleted, outcome)
	case errors.Is(runErr, runner.ErrTimeout):
		return t.finish(recordCtx, log, execution, model.ExecutionStatusTimeout, outcome)
	case errors.Is(runErr, runner.ErrCancelled):
		// A user cancel has already committed; this only lands for shutdowns.
		outcome.ErrorMessage = interruptedMessage
		return t.finish(recordCtx, log, execution, model.ExecutionStatusFailed, outcome)
	default:
		if outcome.ErrorMessage == "" {
			outcome.ErrorMessage = runErr.Error()
		}
		return t.finish(recordCtx, log, execution, model.ExecutionStatusFailed, outcome)
	}
}

// finish records the terminal state. Losing the race to another writer is not
// an error.
func (t *taskExecutor) finish(ctx context.Context, log *logger.Logger, execution *model.TaskExecution, status model.ExecutionStatus, outcome Outcome) error {
	var err error
	switch status {
	case model.ExecutionStatusCompleted:
		err = t.stateMachine.Complete(ctx, execution, outcome)
	case model.ExecutionStatusTimeout:
		err = t.stateMachine.TimeOut(ctx, execution, outcome)
	default:
		err = t.stateMachine.Fail(ctx, execution, outcome)
	}

	if errors.Is(err, model.ErrAlreadyTerminal) {
		log.InfoContext(ctx, "Execution already terminal, result discarded", logger.StringField("wanted", string(status)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", status, err)
	}

	if status == model.ExecutionStatusFailed || status == model.ExecutionStatusTimeout {
		log.WarnContext(ctx, "Execution did not complete",
			logger.StringField("status", string(status)),
			logger.StringField("error", outcome.ErrorMessage),
		)
	}
	t.notifier.ExecutionFinished(ctx, execution)
	return nil
}
