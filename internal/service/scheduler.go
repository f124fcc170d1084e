package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskrunner/config"
	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/internal/runner"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"

	"github.com/robfig/cron/v3"
)

const (
	workerLostMessage   = "execution interrupted: worker lost"
	dispatchLostMessage = "dispatch lost"
	overBudgetMessage   = "execution exceeded its time budget"
)

// SweepReport counts what one reaper pass changed.
type SweepReport struct {
	Interrupted int
	TimedOut    int
	Abandoned   int
}

// Reaper settles executions whose job is gone or overdue: running records
// nobody is working on, runs past their budget, and pending records that
// never reached the queue.
type Reaper interface {
	Start(ctx context.Context) error
	Stop() context.Context
	Sweep(ctx context.Context) (SweepReport, error)
}

type reaper struct {
	cfg           *config.Config
	log           *logger.Logger
	cronParser    cron.Parser
	cron          *cron.Cron
	executionRepo repository.ExecutionRepository
	stateMachine  StateMachine
	dispatcher    Dispatcher
	now           func() time.Time
}

func NewReaper(
	cfg *config.Config,
	log *logger.Logger,
	executionRepo repository.ExecutionRepository,
	stateMachine StateMachine,
	dispatcher Dispatcher,
) Reaper {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &reaper{
		cfg:           cfg,
		log:           log,
		cronParser:    parser,
		cron:          cron.New(cron.WithParser(parser)),
		executionRepo: executionRepo,
		stateMachine:  stateMachine,
		dispatcher:    dispatcher,
		now:           utils.TimeNow,
	}
}

// Start runs one sweep immediately and then on the configured schedule.
func (r *reaper) Start(ctx context.Context) error {
	schedule := r.cfg.Reaper.Schedule
	if _, err := r.cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}

	r.runSweep(ctx)
	if _, err := r.cron.AddFunc(schedule, func() { r.runSweep(ctx) }); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	r.cron.Start()
	r.log.Info("Reaper started", logger.StringField("schedule", schedule))
	return nil
}

func (r *reaper) Stop() context.Context {
	return r.cron.Stop()
}

func (r *reaper) runSweep(ctx context.Context) {
	if !utils.ShouldContinue(ctx, r.log) {
		return
	}
	report, err := r.Sweep(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "Reaper sweep failed", logger.ErrorField(err))
		return
	}
	if report != (SweepReport{}) {
		r.log.InfoContext(ctx, "Reaper sweep settled executions",
			logger.IntField("interrupted", report.Interrupted),
			logger.IntField("timed_out", report.TimedOut),
			logger.IntField("abandoned", report.Abandoned),
		)
	}
}

func (r *reaper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	executions, err := r.executionRepo.ListByStatus(ctx,
		[]model.ExecutionStatus{model.ExecutionStatusPending, model.ExecutionStatusRunning},
		utils.WithPreload("TaskVersion"),
	)
	if err != nil {
		return report, fmt.Errorf("list unfinished executions: %w", err)
	}

	now := r.now()
	grace := r.cfg.Reaper.GracePeriod
	for i := range executions {
		execution := &executions[i]
		tracked := r.dispatcher.IsTracked(execution.JobHandle)
		log := r.log.With(
			logger.UintField("execution_id", execution.ID),
			logger.StringField("job_handle", execution.JobHandle),
		)

		switch execution.Status {
		case model.ExecutionStatusRunning:
			if !tracked {
				err = r.stateMachine.Fail(ctx, execution, Outcome{ErrorMessage: workerLostMessage})
				if r.settled(ctx, log, err) {
					report.Interrupted++
				}
				continue
			}
			budget := r.budgetOf(execution)
			if budget > 0 && execution.StartedAt != nil && now.After(execution.StartedAt.Add(budget+grace)) {
				err = r.stateMachine.TimeOut(ctx, execution, Outcome{ErrorMessage: overBudgetMessage})
				if r.settled(ctx, log, err) {
					r.dispatcher.Cancel(execution.JobHandle)
					report.TimedOut++
				}
			}
		case model.ExecutionStatusPending:
			if tracked || now.Before(execution.CreatedAt.Add(grace)) {
				continue
			}
			err = r.stateMachine.Cancel(ctx, execution, dispatchLostMessage)
			if r.settled(ctx, log, err) {
				report.Abandoned++
			}
		}
	}
	return report, nil
}

// settled reports whether the reaper's write won. Losing to another writer is
// expected and only logged.
func (r *reaper) settled(ctx context.Context, log *logger.Logger, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, model.ErrAlreadyTerminal), errors.Is(err, model.ErrInvalidState):
		log.DebugContext(ctx, "Execution settled by another writer")
	default:
		log.WarnContext(ctx, "Reaper could not settle execution", logger.ErrorField(err))
	}
	return false
}

// budgetOf mirrors the wall-clock budget the runner enforces for the version's
// artifact kind. Zero means unbounded.
func (r *reaper) budgetOf(execution *model.TaskExecution) time.Duration {
	if execution.TaskVersion == nil {
		return 0
	}
	kind, _ := runner.KindOf(execution.TaskVersion.FileName)
	switch kind {
	case runner.ArtifactKindNotebook:
		if r.cfg.Runner.NotebookTimeout > 0 {
			return r.cfg.Runner.NotebookTimeout
		}
		return 600 * time.Second
	case runner.ArtifactKindScript:
		return r.cfg.Runner.ScriptTimeout
	}
	return 0
}
