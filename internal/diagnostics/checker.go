package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"whisper-server/internal/config"
	"whisper-server/internal/domain"
)

// Checker validates external tools and required filesystem paths at startup.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report. A missing
// GPU tool is not a failure; transcription degrades to CPU execution.
func (c *Checker) Run(settings config.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(settings.WhisperBin, "Install whisper.cpp and ensure the binary is on PATH before starting a transcription job."),
		c.checkTool(settings.FFprobeBin, "Install ffmpeg; without ffprobe long audio cannot be chunked."),
		c.checkGPUTool(settings.NvidiaSMIBin),
		c.checkCacheDir(settings.ModelCacheDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name, hint string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    hint,
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkGPUTool reports GPU tooling availability without failing the report.
func (c *Checker) checkGPUTool(name string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:     "tool_" + name,
		Name:   name,
		Status: domain.DiagnosticStatusPass,
	}

	path, err := c.lookPath(name)
	if err != nil {
		item.Message = fmt.Sprintf("Tool not found in PATH: %s; transcription will run on CPU", name)
		return item
	}

	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkCacheDir validates model cache directory existence and write access.
func (c *Checker) checkCacheDir(cacheDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_cache_dir",
		Name: "Model cache directory",
	}

	if strings.TrimSpace(cacheDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model cache directory is empty."
		item.Hint = "Set a directory where downloaded models can be stored."
		return item
	}

	if err := c.mkdirAll(cacheDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create model cache directory: %s", cacheDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(cacheDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model cache directory is not writable: %s", cacheDir)
		item.Hint = "Choose a writable directory for model downloads."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", cacheDir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
