package domain

// Event is one discrete, ordered unit of job progress delivered to stream
// clients. Terminal events (done, error) end the job's event log.
type Event interface {
	Terminal() bool
}

// SegmentEvent carries one emitted transcript segment.
type SegmentEvent struct {
	Type  string  `json:"type"`
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewSegmentEvent builds a segment event with its emitted index.
func NewSegmentEvent(id int, seg Segment) SegmentEvent {
	return SegmentEvent{
		Type:  "segment",
		ID:    id,
		Start: seg.Start,
		End:   seg.End,
		Text:  seg.Text,
	}
}

// Terminal reports whether the event ends the job log.
func (SegmentEvent) Terminal() bool { return false }

// ModelDownloadingEvent reports model download progress.
type ModelDownloadingEvent struct {
	Type    string `json:"type"`
	Model   string `json:"model"`
	Percent int    `json:"percent"`
	SizeMB  int    `json:"size_mb"`
}

// NewModelDownloadingEvent builds a download progress event.
func NewModelDownloadingEvent(model string, percent, sizeMB int) ModelDownloadingEvent {
	return ModelDownloadingEvent{
		Type:    "model_downloading",
		Model:   model,
		Percent: percent,
		SizeMB:  sizeMB,
	}
}

// Terminal reports whether the event ends the job log.
func (ModelDownloadingEvent) Terminal() bool { return false }

// ModelLoadedEvent signals the model is provisioned and inference can begin.
type ModelLoadedEvent struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// NewModelLoadedEvent builds a model loaded event.
func NewModelLoadedEvent(model string) ModelLoadedEvent {
	return ModelLoadedEvent{Type: "model_loaded", Model: model}
}

// Terminal reports whether the event ends the job log.
func (ModelLoadedEvent) Terminal() bool { return false }

// DoneEvent ends a job that ran to completion or was cancelled.
type DoneEvent struct {
	Type          string `json:"type"`
	Language      string `json:"language"`
	TotalSegments int    `json:"total_segments"`
	Cancelled     bool   `json:"cancelled,omitempty"`
}

// NewDoneEvent builds a successful completion event.
func NewDoneEvent(language string, totalSegments int) DoneEvent {
	return DoneEvent{Type: "done", Language: language, TotalSegments: totalSegments}
}

// NewCancelledEvent builds a completion event for a cancelled job.
func NewCancelledEvent(language string, totalSegments int) DoneEvent {
	return DoneEvent{Type: "done", Language: language, TotalSegments: totalSegments, Cancelled: true}
}

// Terminal reports whether the event ends the job log.
func (DoneEvent) Terminal() bool { return true }

// ErrorEvent ends a job that failed.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorEvent builds a terminal error event.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: message}
}

// Terminal reports whether the event ends the job log.
func (ErrorEvent) Terminal() bool { return true }
