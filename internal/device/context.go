package device

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"

	"whisper-server/internal/domain"
)

const (
	gpuNameProbeTimeout  = 5 * time.Second
	gpuUsageProbeTimeout = 2 * time.Second
	cpuSampleInterval    = 100 * time.Millisecond
)

// Context tracks the process-wide compute device state: whether CUDA is
// usable, whether GPU execution has been disabled after a library failure,
// and which model is currently loaded. Mutations happen between inference
// calls, never concurrently with one.
type Context struct {
	mu          sync.Mutex
	smiBin      string
	probed      bool
	gpuPresent  bool
	gpuName     string
	cpuForced   bool
	loadedModel string

	runCommand func(ctx context.Context, name string, args ...string) (string, error)
	cpuPercent func(interval time.Duration) (float64, error)
}

// NewContext builds a device context probing GPUs through the given
// nvidia-smi binary.
func NewContext(smiBin string) *Context {
	return &Context{
		smiBin:     smiBin,
		runCommand: runCommandOutput,
		cpuPercent: sampleCPUPercent,
	}
}

// CUDAAvailable reports whether GPU execution is currently usable. The
// first call probes the OS tool; the result is cached for the process
// lifetime. A forced-CPU context always reports false.
func (c *Context) CUDAAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cpuForced {
		return false
	}
	c.probeLocked()
	return c.gpuPresent
}

// GPUName returns the detected GPU name, empty when no GPU is usable.
func (c *Context) GPUName() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cpuForced {
		return ""
	}
	c.probeLocked()
	return c.gpuName
}

// ForceCPU disables GPU execution for all future model loads. Called after
// an inference attempt failed with a CUDA library error.
func (c *Context) ForceCPU() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cpuForced {
		log.Warn().Msg("disabling GPU execution, future loads run on CPU")
	}
	c.cpuForced = true
	c.loadedModel = ""
}

// CPUForced reports whether GPU execution has been disabled.
func (c *Context) CPUForced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpuForced
}

// SetLoadedModel records the currently loaded model reference.
func (c *Context) SetLoadedModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedModel = name
}

// LoadedModel returns the currently loaded model reference, empty when none.
func (c *Context) LoadedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedModel
}

// Usage reports utilization of the active device. The GPU probe uses a
// short hard timeout and degrades to an unknown percent on failure.
func (c *Context) Usage(ctx context.Context) domain.UsageInfo {
	if c.CUDAAvailable() {
		return domain.UsageInfo{Type: "gpu", Percent: c.gpuUtilization(ctx)}
	}

	percent, err := c.cpuPercent(cpuSampleInterval)
	if err != nil {
		return domain.UsageInfo{Type: "cpu"}
	}
	rounded := int(percent + 0.5)
	return domain.UsageInfo{Type: "cpu", Percent: &rounded}
}

// probeLocked queries the OS tool for GPU presence once. Callers hold c.mu.
func (c *Context) probeLocked() {
	if c.probed {
		return
	}
	c.probed = true

	ctx, cancel := context.WithTimeout(context.Background(), gpuNameProbeTimeout)
	defer cancel()

	out, err := c.runCommand(ctx, c.smiBin, "--query-gpu=name", "--format=csv,noheader")
	if err != nil {
		return
	}

	name := firstLine(out)
	if name == "" {
		return
	}
	c.gpuPresent = true
	c.gpuName = name
	log.Info().Str("gpu", name).Msg("GPU detected")
}

// gpuUtilization queries current GPU utilization, nil when unknown.
func (c *Context) gpuUtilization(ctx context.Context) *int {
	ctx, cancel := context.WithTimeout(ctx, gpuUsageProbeTimeout)
	defer cancel()

	out, err := c.runCommand(ctx, c.smiBin, "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		return nil
	}

	percent, err := strconv.Atoi(firstLine(out))
	if err != nil {
		return nil
	}
	return &percent
}

// firstLine returns the trimmed first line of command output.
func firstLine(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line)
}

// runCommandOutput executes one command and returns its stdout.
func runCommandOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// sampleCPUPercent measures total CPU utilization over a short interval.
func sampleCPUPercent(interval time.Duration) (float64, error) {
	values, err := cpu.Percent(interval, false)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

// NewContextForTests builds a context with injectable probes.
func NewContextForTests(
	smiBin string,
	runCommand func(ctx context.Context, name string, args ...string) (string, error),
	cpuPercent func(interval time.Duration) (float64, error),
) *Context {
	return &Context{
		smiBin:     smiBin,
		runCommand: runCommand,
		cpuPercent: cpuPercent,
	}
}
