package transcribe

// Default chunking geometry for long-audio transcription: 15-minute work
// windows with a 15-second overlap on each side of a boundary.
const (
	DefaultChunkDuration = 900.0
	DefaultChunkOverlap  = 15.0
)

// Chunk is one planned work window. The clip range (fed to the engine)
// includes overlap; the boundary range is the chunk's exclusive ownership
// zone, deciding which segments it may emit.
type Chunk struct {
	ClipStart     float64
	ClipEnd       float64
	BoundaryStart float64
	IsLast        bool
}

// BoundaryEnd returns the exclusive upper bound of the ownership zone.
// Meaningless for the last chunk, whose ownership is unbounded.
func (c Chunk) BoundaryEnd(chunkDuration float64) float64 {
	return c.BoundaryStart + chunkDuration
}

// Owns reports whether a segment starting at the given offset belongs to
// this chunk's ownership zone.
func (c Chunk) Owns(start, chunkDuration float64) bool {
	if start < c.BoundaryStart {
		return false
	}
	return c.IsLast || start < c.BoundaryEnd(chunkDuration)
}

// NeedsChunking reports whether the audio duration requires chunked
// processing. Duration <= 0 signals "unknown" and is processed unchunked.
func NeedsChunking(duration, chunkDuration, overlap float64) bool {
	return duration > 0 && duration > chunkDuration+overlap
}

// PlanChunks maps an audio duration onto an ordered list of overlapping
// clips whose ownership zones partition [0, duration) exactly once.
func PlanChunks(duration, chunkDuration, overlap float64) []Chunk {
	var chunks []Chunk
	for i := 0; ; i++ {
		boundaryStart := float64(i) * chunkDuration
		if boundaryStart >= duration {
			break
		}

		clipStart := boundaryStart - overlap
		if clipStart < 0 {
			clipStart = 0
		}
		clipEnd := boundaryStart + chunkDuration + overlap
		isLast := clipEnd >= duration
		if clipEnd > duration {
			clipEnd = duration
		}

		chunks = append(chunks, Chunk{
			ClipStart:     clipStart,
			ClipEnd:       clipEnd,
			BoundaryStart: boundaryStart,
			IsLast:        isLast,
		})
	}
	return chunks
}
