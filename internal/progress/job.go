package progress

import (
	"time"

	"github.com/google/uuid"
)

// Job is the read model of an import job. The job runner owns these rows;
// this service only reads them for ownership checks and status displays.
type Job struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Status         Status
	TotalCount     int64
	ProcessedCount int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
