package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"whisper-server/internal/device"
	"whisper-server/internal/domain"
	"whisper-server/internal/jobs"
	"whisper-server/internal/models"
)

// Request describes one transcription job.
type Request struct {
	FilePath string
	Model    string
	// Language forces the decode language, empty for auto-detection.
	Language string
	// Clip restricts the run to a sub-range; nil transcribes the whole file.
	Clip *domain.ClipRange
}

// Executor runs transcription jobs on background workers: it provisions the
// model, drives the engine over one or many chunks, applies boundary
// ownership and repeat filtering, and appends result events to the job
// store. It owns the GPU-failure to CPU-fallback retry policy.
type Executor struct {
	store  *jobs.Store
	engine Engine
	prober DurationProber
	gate   *models.Provisioner
	device *device.Context

	chunkDuration float64
	overlap       float64
	maxRepeats    int
}

// NewExecutor wires an executor with its collaborators and chunking policy.
func NewExecutor(
	store *jobs.Store,
	engine Engine,
	prober DurationProber,
	gate *models.Provisioner,
	deviceCtx *device.Context,
	chunkDuration, overlap float64,
	maxRepeats int,
) *Executor {
	if chunkDuration <= 0 {
		chunkDuration = DefaultChunkDuration
	}
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	return &Executor{
		store:         store,
		engine:        engine,
		prober:        prober,
		gate:          gate,
		device:        deviceCtx,
		chunkDuration: chunkDuration,
		overlap:       overlap,
		maxRepeats:    maxRepeats,
	}
}

// Run executes one job to its terminal event. It is called on a dedicated
// background goroutine; every exit path appends exactly one terminal event
// and releases the job's completion signal.
func (e *Executor) Run(ctx context.Context, jobID string, req Request) {
	defer e.store.Finish(jobID)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", jobID).Interface("panic", r).Msg("transcription worker panicked")
			e.appendEvent(jobID, domain.NewErrorEvent(fmt.Sprintf("internal error: %v", r)))
		}
	}()

	if !e.gate.IsCached(req.Model) {
		_, ok, err := e.gate.Ensure(ctx, req.Model,
			func(ev domain.Event) { e.appendEvent(jobID, ev) },
			func() bool { return e.store.Cancelled(jobID) },
		)
		if err != nil {
			e.appendEvent(jobID, domain.NewErrorEvent(err.Error()))
			return
		}
		if !ok {
			e.store.TakeCancelled(jobID)
			e.appendEvent(jobID, domain.NewCancelledEvent("", 0))
			return
		}
	}

	e.appendEvent(jobID, domain.NewModelLoadedEvent(req.Model))
	modelPath, err := e.gate.ModelPath(req.Model)
	if err != nil {
		e.appendEvent(jobID, domain.NewErrorEvent(err.Error()))
		return
	}
	e.device.SetLoadedModel(req.Model)

	err = e.attempt(ctx, jobID, req, modelPath)
	if err != nil && IsCUDAError(err) && !e.device.CPUForced() {
		log.Warn().Str("job_id", jobID).Err(err).Msg("CUDA inference failed, retrying on CPU")
		if resetErr := e.store.Reset(jobID); resetErr != nil {
			e.appendEvent(jobID, domain.NewErrorEvent(err.Error()))
			return
		}
		e.device.ForceCPU()
		e.device.SetLoadedModel(req.Model)
		e.appendEvent(jobID, domain.NewModelLoadedEvent(req.Model))
		err = e.attempt(ctx, jobID, req, modelPath)
	}
	if err != nil {
		log.Error().Str("job_id", jobID).Err(err).Msg("transcription failed")
		e.appendEvent(jobID, domain.NewErrorEvent(err.Error()))
	}
}

// attempt performs one full transcription pass: clip mode, single pass, or
// chunked mode. It appends the done event itself on success or cancellation
// and returns an error only on failure.
func (e *Executor) attempt(ctx context.Context, jobID string, req Request, modelPath string) error {
	filter := NewRepeatFilter(e.maxRepeats)

	if req.Clip != nil {
		return e.runSinglePass(ctx, jobID, req, modelPath, req.Clip, filter)
	}

	duration := e.prober.Duration(ctx, req.FilePath)
	if !NeedsChunking(duration, e.chunkDuration, e.overlap) {
		return e.runSinglePass(ctx, jobID, req, modelPath, nil, filter)
	}
	return e.runChunked(ctx, jobID, req, modelPath, duration, filter)
}

// runSinglePass transcribes the file (or one clip) in a single engine call
// without boundary filtering.
func (e *Executor) runSinglePass(ctx context.Context, jobID string, req Request, modelPath string, clip *domain.ClipRange, filter *RepeatFilter) error {
	emitted := 0
	cancelled := false

	info, err := e.engine.Transcribe(ctx, req.FilePath, Options{
		ModelPath: modelPath,
		Language:  req.Language,
		Clip:      clip,
		ForceCPU:  e.device.CPUForced(),
		OnSegment: func(seg domain.Segment) bool {
			if e.store.TakeCancelled(jobID) {
				cancelled = true
				return false
			}
			if !e.emitSegment(jobID, seg, filter, &emitted) {
				return false
			}
			return true
		},
	})
	if err != nil {
		return err
	}

	if cancelled {
		e.appendEvent(jobID, domain.NewCancelledEvent(info.Language, emitted))
		return nil
	}
	e.appendEvent(jobID, domain.NewDoneEvent(info.Language, emitted))
	return nil
}

// runChunked transcribes long audio chunk by chunk. Each chunk only emits
// segments starting inside its ownership zone; the repeat filter is shared
// across chunks; the language detected on the first chunk is forced on the
// rest.
func (e *Executor) runChunked(ctx context.Context, jobID string, req Request, modelPath string, duration float64, filter *RepeatFilter) error {
	chunks := PlanChunks(duration, e.chunkDuration, e.overlap)

	emitted := 0
	cancelled := false
	detectedLanguage := ""

	for i, chunk := range chunks {
		language := detectedLanguage
		if language == "" {
			language = req.Language
		}

		log.Debug().
			Str("job_id", jobID).
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Float64("clip_start", chunk.ClipStart).
			Float64("clip_end", chunk.ClipEnd).
			Msg("transcribing chunk")

		info, err := e.engine.Transcribe(ctx, req.FilePath, Options{
			ModelPath: modelPath,
			Language:  language,
			Clip:      &domain.ClipRange{StartSec: chunk.ClipStart, EndSec: chunk.ClipEnd, HasEnd: true},
			ForceCPU:  e.device.CPUForced(),
			OnSegment: func(seg domain.Segment) bool {
				if e.store.TakeCancelled(jobID) {
					cancelled = true
					return false
				}
				if !chunk.Owns(seg.Start, e.chunkDuration) {
					return true
				}
				return e.emitSegment(jobID, seg, filter, &emitted)
			},
		})
		if err != nil {
			return err
		}
		if detectedLanguage == "" {
			detectedLanguage = info.Language
		}
		if cancelled {
			e.appendEvent(jobID, domain.NewCancelledEvent(languageOrUnknown(detectedLanguage), emitted))
			return nil
		}
	}

	e.appendEvent(jobID, domain.NewDoneEvent(languageOrUnknown(detectedLanguage), emitted))
	return nil
}

// emitSegment applies text trimming and repeat filtering, then appends a
// segment event with the next contiguous emitted id. Dropped segments do
// not advance the id. Returns false only when the job is gone.
func (e *Executor) emitSegment(jobID string, seg domain.Segment, filter *RepeatFilter, emitted *int) bool {
	text := strings.TrimSpace(seg.Text)
	if text == "" || !filter.Keep(text) {
		return true
	}
	seg.Text = text

	if err := e.store.Append(jobID, domain.NewSegmentEvent(*emitted, seg)); err != nil {
		log.Warn().Str("job_id", jobID).Err(err).Msg("dropping segment for missing job")
		return false
	}
	*emitted++
	return true
}

// appendEvent appends an event, logging append failures for gone jobs.
func (e *Executor) appendEvent(jobID string, ev domain.Event) {
	if err := e.store.Append(jobID, ev); err != nil {
		log.Warn().Str("job_id", jobID).Err(err).Msg("dropping event for missing job")
	}
}

// languageOrUnknown substitutes a placeholder when detection never ran.
func languageOrUnknown(language string) string {
	if language == "" {
		return "unknown"
	}
	return language
}

// IsCUDAError classifies engine failures caused by missing or broken CUDA
// runtime libraries, which are recoverable by retrying on CPU.
func IsCUDAError(err error) bool {
	if err == nil {
		return false
	}
	m := strings.ToLower(err.Error())
	if strings.Contains(m, "libcublas") || strings.Contains(m, "libcudart") {
		return true
	}
	return strings.Contains(m, "cuda") &&
		(strings.Contains(m, "library") || strings.Contains(m, "not found") || strings.Contains(m, "cannot be loaded"))
}
