package runner

import (
	"context"
	"fmt"

	"taskrunner/config"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"
)

// ScriptStrategy runs a .py artifact with the configured interpreter.
type ScriptStrategy struct {
	cfg *config.Runner
	log *logger.Logger
}

func NewScriptStrategy(cfg *config.Runner, log *logger.Logger) *ScriptStrategy {
	return &ScriptStrategy{cfg: cfg, log: log}
}

func (s *ScriptStrategy) Kind() ArtifactKind {
	return ArtifactKindScript
}

func (s *ScriptStrategy) Execute(ctx context.Context, inv Invocation) (Result, error) {
	runCtx, cancel := budgetContext(ctx, s.cfg.ScriptTimeout)
	defer cancel()

	out, err := runProcess(runCtx, s.cfg, s.log, inv, s.cfg.PythonBin, "-u", inv.Path)
	result := Result{
		Logs:      out.Output.String(),
		Metrics:   out.metrics(),
		Resources: map[string]interface{}{"interpreter": s.cfg.PythonBin},
	}
	if err == nil {
		return result, nil
	}

	if msg, haltErr := haltReason(ctx, runCtx, s.cfg.ScriptTimeout); haltErr != nil {
		result.ErrorMessage = msg
		return result, haltErr
	}

	result.ErrorMessage = utils.LastLine(out.Stderr.String())
	if result.ErrorMessage == "" {
		result.ErrorMessage = err.Error()
	}
	return result, fmt.Errorf("%w: %s", ErrExecutionFailed, result.ErrorMessage)
}
