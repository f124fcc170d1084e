// Package runner executes task artifacts in a separate, resource limited OS
// process and reports what happened.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskrunner/config"
	"taskrunner/internal/model"
	"taskrunner/pkg/common"
	"taskrunner/pkg/logger"
)

type ArtifactKind string

const (
	ArtifactKindScript   ArtifactKind = "script"
	ArtifactKindNotebook ArtifactKind = "notebook"
)

// KindOf maps an artifact file name to its kind. The extension match is case sensitive.
func KindOf(fileName string) (ArtifactKind, bool) {
	switch model.ArtifactExtension(fileName) {
	case common.ARTIFACT_EXT_SCRIPT:
		return ArtifactKindScript, true
	case common.ARTIFACT_EXT_NOTEBOOK:
		return ArtifactKindNotebook, true
	}
	return "", false
}

// Job is one artifact run.
type Job struct {
	ExecutionID  uint
	FileName     string
	Content      []byte
	Requirements string
	// OnStart is called with the pid of the sandboxed process once it is running.
	OnStart func(pid int)
}

// Result is filled in as far as the run got, including when Run returns an error.
type Result struct {
	Logs         string
	ErrorMessage string
	Metrics      map[string]interface{}
	Resources    map[string]interface{}
}

// Invocation is what a Strategy receives after the workspace is ready.
type Invocation struct {
	Dir     string
	Path    string
	Env     []string
	OnStart func(pid int)
}

// Strategy runs one kind of artifact.
type Strategy interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
	Kind() ArtifactKind
}

type Runner struct {
	cfg        *config.Runner
	log        *logger.Logger
	env        *environment
	strategies map[ArtifactKind]Strategy
}

func New(cfg *config.Runner, log *logger.Logger) *Runner {
	r := &Runner{
		cfg:        cfg,
		log:        log,
		env:        newEnvironment(cfg, log),
		strategies: make(map[ArtifactKind]Strategy),
	}
	r.Register(NewScriptStrategy(cfg, log))
	r.Register(NewNotebookStrategy(cfg, log))
	return r
}

func (r *Runner) Register(s Strategy) {
	r.strategies[s.Kind()] = s
}

// Run materializes the artifact, prepares its dependencies and executes it.
// A nil error means the artifact ran to a clean exit. ErrTimeout and
// ErrCancelled report the run being stopped; anything else is a failure whose
// message is in Result.ErrorMessage.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	result := Result{
		Metrics:   map[string]interface{}{},
		Resources: map[string]interface{}{},
	}

	kind, ok := KindOf(job.FileName)
	if !ok {
		result.ErrorMessage = fmt.Sprintf("unsupported artifact %q", job.FileName)
		return result, fmt.Errorf("%s: %w", job.FileName, ErrUnsupportedArtifact)
	}
	strategy, ok := r.strategies[kind]
	if !ok {
		result.ErrorMessage = fmt.Sprintf("no runner for %s artifacts", kind)
		return result, fmt.Errorf("%s: %w", kind, ErrUnsupportedArtifact)
	}

	ws, err := newWorkspace(r.cfg, job.ExecutionID, job.FileName, job.Content)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	result.Resources["working_dir"] = ws.Dir
	result.Resources["artifact_kind"] = string(kind)

	env := baseEnv()
	if job.Requirements != "" && r.cfg.InstallDependencies {
		report := r.env.Prepare(ctx, ws.Dir, job.Requirements)
		result.Resources["dependency_install"] = report.toMap()
		env = append(env, report.Env...)

		if report.Err != nil {
			if ctx.Err() != nil {
				return stopped(ctx, result, report.Output)
			}
			r.log.WarnContext(ctx, "Dependency installation failed",
				logger.UintField("execution_id", job.ExecutionID),
				logger.ErrorField(report.Err),
				logger.Field("strict", r.cfg.StrictDependencies),
			)
			if r.cfg.StrictDependencies {
				result.Logs = report.Output
				result.ErrorMessage = report.Err.Error()
				return result, fmt.Errorf("%w: %v", ErrDependencies, report.Err)
			}
		}
	}

	onStart := job.OnStart
	if onStart == nil {
		onStart = func(int) {}
	}
	out, runErr := strategy.Execute(ctx, Invocation{
		Dir:  ws.Dir,
		Path: ws.ArtifactPath,
		Env:  env,
		OnStart: func(pid int) {
			result.Resources["pid"] = pid
			onStart(pid)
		},
	})

	result.Logs = out.Logs
	result.ErrorMessage = out.ErrorMessage
	for k, v := range out.Metrics {
		result.Metrics[k] = v
	}
	for k, v := range out.Resources {
		result.Resources[k] = v
	}
	if runErr != nil && result.ErrorMessage == "" {
		result.ErrorMessage = runErr.Error()
	}
	return result, runErr
}

// stopped fills result for a run halted by its context.
func stopped(ctx context.Context, result Result, logs string) (Result, error) {
	result.Logs = logs
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ErrorMessage = ErrTimeout.Error()
		return result, ErrTimeout
	}
	result.ErrorMessage = ErrCancelled.Error()
	return result, ErrCancelled
}

// budgetContext applies budget when it is positive.
func budgetContext(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// haltReason classifies a run whose process was stopped by one of the two contexts.
func haltReason(parent, run context.Context, budget time.Duration) (string, error) {
	switch {
	case parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded):
		return ErrCancelled.Error(), ErrCancelled
	case parent.Err() != nil:
		return ErrTimeout.Error(), ErrTimeout
	case errors.Is(run.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("execution timed out after %s", budget), ErrTimeout
	}
	return "", nil
}
