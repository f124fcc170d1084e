//go:build linux

package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"taskrunner/config"

	"golang.org/x/sys/unix"
)

// configureSandbox puts the child in its own process group, optionally drops it
// to another user, and makes context cancellation kill the whole group.
func configureSandbox(cmd *exec.Cmd, cfg *config.Runner) {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if cfg.RunAsUID != 0 || cfg.RunAsGID != 0 {
		attr.Credential = &syscall.Credential{
			Uid:         cfg.RunAsUID,
			Gid:         cfg.RunAsGID,
			NoSetGroups: true,
		}
	}
	cmd.SysProcAttr = attr
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = waitDelay
}

func killProcessGroup(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// applyLimits caps address space and CPU time of a started child. Processes it
// forks afterwards inherit the limits.
func applyLimits(pid int, cfg *config.Runner) error {
	if cfg.MemoryLimitBytes > 0 {
		limit := &unix.Rlimit{Cur: cfg.MemoryLimitBytes, Max: cfg.MemoryLimitBytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, limit, nil); err != nil {
			return fmt.Errorf("limit memory: %w", err)
		}
	}
	if cfg.CPULimitSeconds > 0 {
		limit := &unix.Rlimit{Cur: cfg.CPULimitSeconds, Max: cfg.CPULimitSeconds}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, limit, nil); err != nil {
			return fmt.Errorf("limit cpu: %w", err)
		}
	}
	return nil
}

// peakRSS reports the child's maximum resident set size in bytes.
func peakRSS(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss * 1024
	}
	return 0
}
