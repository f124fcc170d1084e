package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"taskrunner/config"
	"taskrunner/pkg/logger"
)

const waitDelay = 5 * time.Second

type processOutcome struct {
	Output   *outputBuffer
	Stderr   *tailBuffer
	Stats    processStats
	ExitCode int
	Elapsed  time.Duration
	PeakRSS  int64
	CPUTime  time.Duration
}

// runProcess starts name inside the sandbox and waits for it. Stdout and stderr
// are interleaved into one buffer; the stderr tail is kept apart for error
// messages. The outcome is populated even when the process fails to start.
func runProcess(ctx context.Context, cfg *config.Runner, log *logger.Logger, inv Invocation, name string, args ...string) (*processOutcome, error) {
	out := &processOutcome{
		Output:   newOutputBuffer(maxLogBytes),
		Stderr:   newTailBuffer(stderrTailBytes),
		ExitCode: -1,
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	cmd.Stdout = out.Output
	cmd.Stderr = io.MultiWriter(out.Output, out.Stderr)
	configureSandbox(cmd, cfg)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return out, fmt.Errorf("start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	if err := applyLimits(pid, cfg); err != nil {
		log.WarnContext(ctx, "Resource limits not applied", logger.IntField("pid", pid), logger.ErrorField(err))
	}
	if inv.OnStart != nil {
		inv.OnStart(pid)
	}

	s := startSampler(pid, cfg.SampleInterval)
	waitErr := cmd.Wait()
	out.Stats = s.stop()
	out.Elapsed = time.Since(start)

	if state := cmd.ProcessState; state != nil {
		out.ExitCode = state.ExitCode()
		out.PeakRSS = peakRSS(state)
		out.CPUTime = state.UserTime() + state.SystemTime()
	}
	if out.Stats.PeakRSS > out.PeakRSS {
		out.PeakRSS = out.Stats.PeakRSS
	}
	log.DebugContext(ctx, "Process exited",
		logger.IntField("pid", pid),
		logger.IntField("exit_code", out.ExitCode),
		logger.DurationField("elapsed", out.Elapsed),
	)
	return out, waitErr
}

// metrics renders the numeric facts of a finished process. memory_used is the
// RSS delta between the first and last sample and may be negative. A process
// that exited before a second sample uses its peak RSS as the last reading.
func (o *processOutcome) metrics() map[string]interface{} {
	cpu := o.Stats.CPUPercent
	if !o.Stats.CPUSampled && o.Elapsed > 0 {
		cpu = float64(o.CPUTime) / float64(o.Elapsed) * 100
	}
	return map[string]interface{}{
		"memory_used":     o.memoryUsed(),
		"cpu_percent":     cpu,
		"elapsed_seconds": o.Elapsed.Seconds(),
		"exit_code":       o.ExitCode,
		"peak_rss_bytes":  o.PeakRSS,
	}
}

func (o *processOutcome) memoryUsed() int64 {
	if !o.Stats.Sampled {
		return 0
	}
	final := o.Stats.FinalRSS
	if o.Stats.Samples < 2 && o.PeakRSS > 0 {
		final = o.PeakRSS
	}
	return final - o.Stats.InitialRSS
}

func baseEnv() []string {
	env := os.Environ()
	return append(env, "PYTHONUNBUFFERED=1", "PYTHONDONTWRITEBYTECODE=1")
}
