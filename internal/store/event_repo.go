// Package store declares interfaces for the durable progress event log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/videohaven/progress-gateway/internal/progress"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// ErrJobTerminated signals an append after a terminal event for the job.
var ErrJobTerminated = errors.New("job already has a terminal event")

// EventRepository is the append-only, queryable log of progress events. It is
// the source of truth for client catch-up after a reconnect.
type EventRepository interface {
	// AppendEvent durably records one event. The event's CreatedAt must
	// already be set; repositories preserve it verbatim. Appending after a
	// terminal event for the same job returns ErrJobTerminated.
	AppendEvent(ctx context.Context, evt progress.Event) error
	// ListEvents returns the job's events ordered by (created_at, id). A nil
	// since returns the full sequence; otherwise only events strictly after
	// it. A job with no matching events yields an empty, non-nil slice.
	ListEvents(ctx context.Context, jobID uuid.UUID, since *time.Time) ([]progress.Event, error)
	// GetJob loads the read-only job row or returns ErrNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (progress.Job, error)
}
