package transcribe

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const durationProbeTimeout = 10 * time.Second

// DurationProber reports a media file's duration in seconds, 0 when unknown.
type DurationProber interface {
	Duration(ctx context.Context, filePath string) float64
}

// FFprobeProber probes container duration through the ffprobe binary.
type FFprobeProber struct {
	binPath string
	runner  commandRunner
}

// NewFFprobeProber constructs the production duration prober.
func NewFFprobeProber(binPath string) *FFprobeProber {
	return &FFprobeProber{binPath: binPath, runner: &execRunner{}}
}

// Duration returns the container duration, degrading to 0 on any failure.
func (p *FFprobeProber) Duration(ctx context.Context, filePath string) float64 {
	ctx, cancel := context.WithTimeout(ctx, durationProbeTimeout)
	defer cancel()

	result, err := p.runner.Run(ctx, p.binPath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	)
	if err != nil {
		return 0
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil || duration < 0 {
		return 0
	}
	return duration
}

// NewFFprobeProberForTests constructs a prober with an injectable runner.
func NewFFprobeProberForTests(binPath string, runner commandRunner) *FFprobeProber {
	return &FFprobeProber{binPath: binPath, runner: runner}
}
