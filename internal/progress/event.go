// Package progress defines the event structures emitted while import jobs run.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status mirrors the lifecycle state of the owning job at emission time.
type Status string

// Supported job lifecycle statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends a job's event sequence.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Event captures a single durable progress update for an import job. The JSON
// tags define the wire shape delivered to clients over both the live and the
// history paths; ID and OwnerID are storage concerns and never leave the
// server.
type Event struct {
	// ID uniquely identifies the event and breaks ordering ties within a job.
	ID uuid.UUID `json:"-"`
	// OwnerID scopes the event to the identity whose clients may see it.
	OwnerID uuid.UUID `json:"-"`
	// JobID is the owning import job.
	JobID uuid.UUID `json:"job_id"`
	// Status is the job lifecycle state at emission time.
	Status Status `json:"status"`
	// PercentComplete is 0-100, non-decreasing within a job's sequence.
	PercentComplete int `json:"percent_complete"`
	// ProcessedCount counts completed units of work.
	ProcessedCount int64 `json:"processed_count"`
	// TotalCount is the job's total unit count.
	TotalCount int64 `json:"total_count"`
	// CurrentItem is an opaque label for the unit being processed.
	CurrentItem *string `json:"current_item"`
	// Message optionally carries human-readable context.
	Message *string `json:"message"`
	// Error is present exactly when Status is failed.
	Error *string `json:"error"`
	// CreatedAt is set at append time and is the history query cursor.
	CreatedAt time.Time `json:"created_at"`
}

// Validate enforces the per-variant payload rules.
func (e Event) Validate() error {
	if e.JobID == uuid.Nil {
		return errors.New("job id is required")
	}
	if e.OwnerID == uuid.Nil {
		return errors.New("owner id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.PercentComplete < 0 || e.PercentComplete > 100 {
		return fmt.Errorf("percent_complete %d out of range", e.PercentComplete)
	}
	if e.ProcessedCount < 0 || e.TotalCount < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Status == StatusFailed {
		if e.Error == nil || *e.Error == "" {
			return errors.New("failed event requires error")
		}
	} else if e.Error != nil {
		return fmt.Errorf("error payload not allowed for status %q", e.Status)
	}
	return nil
}

// Terminal reports whether the event ends its job's sequence.
func (e Event) Terminal() bool {
	return e.Status.Terminal()
}

// Percent computes floor(processed/total*100). Completed jobs report 100
// regardless of counts; a failed job keeps whatever it reached.
func Percent(status Status, processed, total int64) int {
	if status == StatusCompleted {
		return 100
	}
	if total <= 0 {
		return 0
	}
	pct := int(processed * 100 / total)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
