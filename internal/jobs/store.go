package jobs

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"whisper-server/internal/domain"
)

// ErrNotFound is returned when a job id is unknown or already removed.
var ErrNotFound = errors.New("job not found")

// job is one transcription job's volatile lifecycle record.
type job struct {
	events   []domain.Event
	done     chan struct{}
	finished bool
}

// Store is the process-wide registry of transcription jobs. Each job's event
// log has one writer (the executor) and one reader (the stream handler); the
// cancellation set may be touched by any request handler.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	cancelled map[string]struct{}
	newID     func() string
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{
		jobs:      make(map[string]*job),
		cancelled: make(map[string]struct{}),
		newID:     uuid.NewString,
	}
}

// Create allocates a job with an empty event log and returns its id.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	s.jobs[id] = &job{done: make(chan struct{})}
	return id
}

// Append adds one event to the job's log. Appending after a terminal event
// violates the single-writer contract and is rejected.
func (s *Store) Append(id string, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if len(j.events) > 0 && j.events[len(j.events)-1].Terminal() {
		return errors.New("append after terminal event")
	}

	j.events = append(j.events, event)
	return nil
}

// Drain returns events at or after the given index without removing them.
func (s *Store) Drain(id string, from int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if from >= len(j.events) {
		return nil, nil
	}

	out := make([]domain.Event, len(j.events)-from)
	copy(out, j.events[from:])
	return out, nil
}

// Reset clears the job's event log. Used when a device-fallback retry
// restarts the run from scratch.
func (s *Store) Reset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	j.events = nil
	return nil
}

// Cancel flags the job for cooperative cancellation. Cancelling an unknown
// or already-removed job is a silent no-op.
func (s *Store) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return
	}
	s.cancelled[id] = struct{}{}
}

// Cancelled reports whether cancellation has been requested for the job.
func (s *Store) Cancelled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.cancelled[id]
	return ok
}

// TakeCancelled reports and clears the job's cancellation flag.
func (s *Store) TakeCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cancelled[id]; !ok {
		return false
	}
	delete(s.cancelled, id)
	return true
}

// Finish releases the job's completion signal. Safe to call once per job on
// every executor exit path; later calls are no-ops.
func (s *Store) Finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.finished {
		return
	}
	j.finished = true
	close(j.done)
}

// Done returns a channel closed when the job's executor has finished.
// Returns a closed channel for unknown jobs so callers never block on them.
func (s *Store) Done(id string) <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return j.done
}

// Remove deletes the job record. Called by the stream reader after the
// terminal event has been drained.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	delete(s.cancelled, id)
}

// Exists reports whether the job is still registered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.jobs[id]
	return ok
}
