package runner

import "errors"

var (
	ErrTimeout             = errors.New("execution exceeded its time budget")
	ErrCancelled           = errors.New("execution cancelled")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrUnsupportedArtifact = errors.New("unsupported artifact type")
	ErrInvalidArtifact     = errors.New("invalid artifact")
	ErrDependencies        = errors.New("dependency installation failed")
)
