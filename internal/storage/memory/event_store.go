// Package memory provides in-memory implementations for development/testing.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/store"
)

// EventStore implements store.EventRepository with per-job append-only slices.
type EventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]progress.Event
	jobs   map[uuid.UUID]progress.Job
}

// NewEventStore constructs an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[uuid.UUID][]progress.Event),
		jobs:   make(map[uuid.UUID]progress.Job),
	}
}

// PutJob seeds a job row. Jobs are owned by the external runner; tests and the
// simulator use this to stand in for it.
func (s *EventStore) PutJob(job progress.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// AppendEvent records one event, refusing appends past a terminal event.
func (s *EventStore) AppendEvent(_ context.Context, evt progress.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.events[evt.JobID]
	if n := len(seq); n > 0 && seq[n-1].Terminal() {
		return store.ErrJobTerminated
	}
	s.events[evt.JobID] = append(seq, evt)
	return nil
}

// ListEvents returns a copy of the job's events after the optional cursor,
// ordered by (created_at, id) like the database-backed store.
func (s *EventStore) ListEvents(
	_ context.Context,
	jobID uuid.UUID,
	since *time.Time,
) ([]progress.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []progress.Event{}
	for _, evt := range s.events[jobID] {
		if since != nil && !evt.CreatedAt.After(*since) {
			continue
		}
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// GetJob fetches a seeded job row.
func (s *EventStore) GetJob(_ context.Context, jobID uuid.UUID) (progress.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return progress.Job{}, store.ErrNotFound
	}
	return job, nil
}
