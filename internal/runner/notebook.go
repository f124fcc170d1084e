package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"taskrunner/config"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/utils"
)

const (
	defaultNotebookTimeout = 600 * time.Second
	notebookKernel         = "python3"
)

type notebookDocument struct {
	NBFormat int            `json:"nbformat"`
	Cells    []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string            `json:"cell_type"`
	Outputs  []json.RawMessage `json:"outputs"`
}

// NotebookStrategy executes an .ipynb artifact cell by cell through nbconvert
// and keeps the executed copy next to the input.
type NotebookStrategy struct {
	cfg *config.Runner
	log *logger.Logger
}

func NewNotebookStrategy(cfg *config.Runner, log *logger.Logger) *NotebookStrategy {
	return &NotebookStrategy{cfg: cfg, log: log}
}

func (s *NotebookStrategy) Kind() ArtifactKind {
	return ArtifactKindNotebook
}

func (s *NotebookStrategy) timeout() time.Duration {
	if s.cfg.NotebookTimeout <= 0 {
		return defaultNotebookTimeout
	}
	return s.cfg.NotebookTimeout
}

func (s *NotebookStrategy) Execute(ctx context.Context, inv Invocation) (Result, error) {
	result := Result{Resources: map[string]interface{}{}}

	if _, err := readNotebook(inv.Path); err != nil {
		result.ErrorMessage = err.Error()
		return result, err
	}

	base := strings.TrimSuffix(filepath.Base(inv.Path), filepath.Ext(inv.Path))
	outputPath := filepath.Join(inv.Dir, base+"_output.ipynb")
	budget := s.timeout()

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out, err := runProcess(runCtx, s.cfg, s.log, inv, s.cfg.NotebookCommand,
		"nbconvert",
		"--to", "notebook",
		"--execute",
		"--ExecutePreprocessor.timeout="+strconv.Itoa(int(budget.Seconds())),
		"--ExecutePreprocessor.kernel_name="+notebookKernel,
		"--output", base+"_output",
		"--output-dir", inv.Dir,
		inv.Path,
	)
	result.Metrics = out.metrics()

	if err != nil {
		result.Logs = out.Output.String()
		if msg, haltErr := haltReason(ctx, runCtx, budget); haltErr != nil {
			result.ErrorMessage = msg
			return result, haltErr
		}
		result.ErrorMessage = utils.LastLine(out.Stderr.String())
		if result.ErrorMessage == "" {
			result.ErrorMessage = err.Error()
		}
		return result, fmt.Errorf("%w: %s", ErrExecutionFailed, result.ErrorMessage)
	}

	executed, err := readNotebook(outputPath)
	if err != nil {
		result.Logs = out.Output.String()
		result.ErrorMessage = fmt.Sprintf("read executed notebook: %v", err)
		return result, fmt.Errorf("%w: %s", ErrExecutionFailed, result.ErrorMessage)
	}
	logs, err := cellOutputs(executed)
	if err != nil {
		result.Logs = out.Output.String()
		result.ErrorMessage = err.Error()
		return result, fmt.Errorf("%w: %s", ErrExecutionFailed, result.ErrorMessage)
	}

	result.Logs = logs
	result.Resources["output_artifact"] = outputPath
	return result, nil
}

func readNotebook(path string) (*notebookDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc notebookDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: notebook is not valid JSON: %v", ErrInvalidArtifact, err)
	}
	if doc.NBFormat == 0 {
		return nil, fmt.Errorf("%w: notebook has no nbformat version", ErrInvalidArtifact)
	}
	if doc.NBFormat < 4 {
		return nil, fmt.Errorf("%w: nbformat %d is not supported", ErrInvalidArtifact, doc.NBFormat)
	}
	return &doc, nil
}

// cellOutputs concatenates the outputs of every code cell into one JSON array.
func cellOutputs(doc *notebookDocument) (string, error) {
	outputs := []json.RawMessage{}
	for _, cell := range doc.Cells {
		if cell.CellType != "code" {
			continue
		}
		outputs = append(outputs, cell.Outputs...)
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return "", fmt.Errorf("encode cell outputs: %w", err)
	}
	return string(raw), nil
}
