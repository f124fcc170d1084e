package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"taskrunner/config"
)

type workspace struct {
	Dir          string
	ArtifactPath string
}

// newWorkspace writes the artifact into a directory private to one execution.
// When the sandbox runs as another user the directory is handed to that user.
func newWorkspace(cfg *config.Runner, executionID uint, fileName string, content []byte) (*workspace, error) {
	name := filepath.Base(fileName)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid artifact name %q", fileName)
	}

	dir, err := filepath.Abs(filepath.Join(cfg.WorkDir, strconv.FormatUint(uint64(executionID), 10)))
	if err != nil {
		return nil, fmt.Errorf("resolve working dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	if cfg.RunAsUID != 0 || cfg.RunAsGID != 0 {
		for _, p := range []string{dir, path} {
			if err := os.Chown(p, int(cfg.RunAsUID), int(cfg.RunAsGID)); err != nil {
				return nil, fmt.Errorf("hand over working dir: %w", err)
			}
		}
	}

	return &workspace{Dir: dir, ArtifactPath: path}, nil
}
