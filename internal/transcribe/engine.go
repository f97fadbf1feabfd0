package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"whisper-server/internal/domain"
)

// Options configures one engine pass over a media file.
type Options struct {
	ModelPath string
	// Language forces a decode language; empty means auto-detect.
	Language string
	// Clip restricts the pass to a sub-range of the media, nil for the
	// whole file. Segment times are always absolute.
	Clip *domain.ClipRange
	// ForceCPU disables GPU execution for this pass.
	ForceCPU bool
	// OnSegment receives segments in order. Returning false stops delivery;
	// the engine then returns without error.
	OnSegment func(domain.Segment) bool
}

// Info describes one completed engine pass.
type Info struct {
	Language string
}

// Engine produces an ordered sequence of timed text segments plus the
// detected language for a media file. Implementations may fail in a
// device-dependent way; callers own the retry policy.
type Engine interface {
	Transcribe(ctx context.Context, filePath string, opts Options) (Info, error)
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// WhisperCLI drives a whisper.cpp command-line binary and parses its JSON
// transcript output.
type WhisperCLI struct {
	binPath   string
	runner    commandRunner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
}

// NewWhisperCLI constructs the production engine for the given binary.
func NewWhisperCLI(binPath string) *WhisperCLI {
	return &WhisperCLI{
		binPath:   binPath,
		runner:    &execRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
	}
}

// whisperOutput mirrors the engine's JSON transcript file.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe runs one engine pass and delivers parsed segments in order.
func (e *WhisperCLI) Transcribe(ctx context.Context, filePath string, opts Options) (Info, error) {
	if strings.TrimSpace(filePath) == "" {
		return Info{}, fmt.Errorf("media file path is required")
	}
	if strings.TrimSpace(opts.ModelPath) == "" {
		return Info{}, fmt.Errorf("model path is required")
	}

	tempDir, err := e.mkdirTemp("", "whisper-server-*")
	if err != nil {
		return Info{}, fmt.Errorf("create temporary workspace: %w", err)
	}
	defer func() { _ = e.removeAll(tempDir) }()

	outBase := filepath.Join(tempDir, "transcript")
	args := buildWhisperArgs(opts.ModelPath, filePath, outBase, opts)

	result, runErr := e.runner.Run(ctx, e.binPath, args...)
	if runErr != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(result.Stdout)
		}
		if detail != "" {
			return Info{}, fmt.Errorf("whisper inference failed (exit %d): %s: %w", result.ExitCode, detail, runErr)
		}
		return Info{}, fmt.Errorf("whisper inference failed (exit %d): %w", result.ExitCode, runErr)
	}

	data, err := e.readFile(outBase + ".json")
	if err != nil {
		return Info{}, fmt.Errorf("engine completed but transcript output is missing: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("parse transcript output: %w", err)
	}

	// The engine reports timestamps relative to the decode offset; shift
	// them back to absolute media time.
	var shift float64
	if opts.Clip != nil {
		shift = opts.Clip.StartSec
	}

	for _, item := range out.Transcription {
		seg := domain.Segment{
			Start: shift + float64(item.Offsets.From)/1000.0,
			End:   shift + float64(item.Offsets.To)/1000.0,
			Text:  item.Text,
		}
		if opts.OnSegment != nil && !opts.OnSegment(seg) {
			break
		}
	}

	return Info{Language: out.Result.Language}, nil
}

// buildWhisperArgs builds engine CLI args for JSON transcript export.
func buildWhisperArgs(modelPath, filePath, outBase string, opts Options) []string {
	args := []string{
		"-m", modelPath,
		"-f", filePath,
		"-of", outBase,
		"-oj",
	}

	lang := normalizeLanguage(opts.Language)
	if lang == "" {
		lang = "auto"
	}
	args = append(args, "-l", lang)

	if opts.Clip != nil {
		args = append(args, "-ot", strconv.FormatInt(int64(opts.Clip.StartSec*1000), 10))
		if opts.Clip.HasEnd {
			durationMS := int64((opts.Clip.EndSec - opts.Clip.StartSec) * 1000)
			args = append(args, "-d", strconv.FormatInt(durationMS, 10))
		}
	}

	if opts.ForceCPU {
		args = append(args, "-ng")
	}

	return args
}

// normalizeLanguage maps "auto" and empty language to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// NewWhisperCLIForTests constructs an engine with injectable dependencies.
func NewWhisperCLIForTests(
	binPath string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	readFile func(name string) ([]byte, error),
) *WhisperCLI {
	return &WhisperCLI{
		binPath:   binPath,
		runner:    runner,
		mkdirTemp: mkdirTemp,
		removeAll: removeAll,
		readFile:  readFile,
	}
}
