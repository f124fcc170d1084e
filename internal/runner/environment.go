package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"taskrunner/config"
	"taskrunner/internal/depscan"
	"taskrunner/pkg/logger"
)

const (
	depsDir            = ".deps"
	stdlibQueryTimeout = 30 * time.Second
)

// packageAliases maps import names to the distribution that provides them.
var packageAliases = map[string]string{
	"PIL":      "Pillow",
	"bs4":      "beautifulsoup4",
	"cv2":      "opencv-python",
	"dateutil": "python-dateutil",
	"dotenv":   "python-dotenv",
	"sklearn":  "scikit-learn",
	"yaml":     "PyYAML",
}

type installReport struct {
	Status   string
	Packages []string
	Output   string
	Env      []string
	Err      error
}

func (r installReport) toMap() map[string]interface{} {
	m := map[string]interface{}{
		"status":   r.Status,
		"packages": r.Packages,
	}
	if r.Err != nil {
		m["error"] = r.Err.Error()
	}
	return m
}

// environment installs a manifest into an execution's private site directory.
type environment struct {
	cfg *config.Runner
	log *logger.Logger

	stdlibMu sync.Mutex
	stdlib   map[string]bool
}

func newEnvironment(cfg *config.Runner, log *logger.Logger) *environment {
	return &environment{cfg: cfg, log: log}
}

// Prepare never fails the run by itself; the caller decides what an error in
// the report means.
func (e *environment) Prepare(ctx context.Context, dir, requirements string) installReport {
	packages := e.installable(ctx, depscan.Requirements(requirements))
	if len(packages) == 0 {
		return installReport{Status: "skipped"}
	}

	report := installReport{Status: "failed", Packages: packages}
	target := filepath.Join(dir, depsDir)
	reqFile := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(reqFile, []byte(strings.Join(packages, "\n")+"\n"), 0o600); err != nil {
		report.Err = fmt.Errorf("write requirements: %w", err)
		return report
	}

	installCtx, cancel := budgetContext(ctx, e.cfg.InstallTimeout)
	defer cancel()

	cmd := exec.CommandContext(installCtx, e.cfg.PythonBin, "-m", "pip", "install",
		"--disable-pip-version-check", "--no-input", "--quiet",
		"--target", target, "-r", reqFile)
	cmd.Dir = dir
	cmd.Env = baseEnv()
	out, err := cmd.CombinedOutput()
	report.Output = string(out)
	if err != nil {
		if installCtx.Err() != nil {
			err = fmt.Errorf("pip install: %w", installCtx.Err())
		} else {
			err = fmt.Errorf("pip install: %w", err)
		}
		report.Err = err
		return report
	}

	e.log.DebugContext(ctx, "Dependencies installed", logger.StringField("dir", dir), logger.Field("packages", packages))
	report.Status = "installed"
	report.Env = []string{"PYTHONPATH=" + pythonPath(target)}
	return report
}

// installable drops standard library modules and maps import names to
// distributions. Entries that carry a version specifier are kept as written.
func (e *environment) installable(ctx context.Context, entries []string) []string {
	stdlib := e.stdlibModules(ctx)
	seen := map[string]bool{}
	var out []string
	for _, entry := range entries {
		if stdlib[entry] || strings.HasPrefix(entry, "_") {
			continue
		}
		if alias, ok := packageAliases[entry]; ok {
			entry = alias
		}
		if !seen[entry] {
			seen[entry] = true
			out = append(out, entry)
		}
	}
	return out
}

// stdlibModules asks the interpreter for its standard library module names.
// A successful answer is kept; when the query fails nothing is filtered.
func (e *environment) stdlibModules(ctx context.Context) map[string]bool {
	e.stdlibMu.Lock()
	defer e.stdlibMu.Unlock()
	if e.stdlib != nil {
		return e.stdlib
	}

	queryCtx, cancel := context.WithTimeout(ctx, stdlibQueryTimeout)
	defer cancel()
	out, err := exec.CommandContext(queryCtx, e.cfg.PythonBin, "-c",
		"import sys; print('\\n'.join(sorted(sys.stdlib_module_names)))").Output()
	if err != nil {
		e.log.WarnContext(ctx, "Could not list standard library modules", logger.ErrorField(err))
		return nil
	}
	stdlib := map[string]bool{}
	for _, name := range strings.Fields(string(out)) {
		stdlib[name] = true
	}
	e.stdlib = stdlib
	return stdlib
}

func pythonPath(target string) string {
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		return target + string(os.PathListSeparator) + existing
	}
	return target
}
