//go:build !linux

package runner

import (
	"errors"
	"os"
	"os/exec"

	"taskrunner/config"
)

func configureSandbox(cmd *exec.Cmd, _ *config.Runner) {
	cmd.WaitDelay = waitDelay
}

func applyLimits(_ int, cfg *config.Runner) error {
	if cfg.MemoryLimitBytes > 0 || cfg.CPULimitSeconds > 0 {
		return errors.New("resource limits are only enforced on linux")
	}
	return nil
}

func peakRSS(_ *os.ProcessState) int64 {
	return 0
}
