package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/store"
)

func newEvent(jobID, ownerID uuid.UUID, status progress.Status, pct int, at time.Time) progress.Event {
	evt := progress.Event{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		JobID:           jobID,
		Status:          status,
		PercentComplete: pct,
		ProcessedCount:  int64(pct) / 5,
		TotalCount:      20,
		CreatedAt:       at,
	}
	if status == progress.StatusFailed {
		msg := "import aborted"
		evt.Error = &msg
	}
	return evt
}

func TestAppendAndListPreservesOrder(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	jobID, ownerID := uuid.New(), uuid.New()
	base := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 4; i++ {
		evt := newEvent(jobID, ownerID, progress.StatusProcessing, i*25, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.AppendEvent(context.Background(), evt))
	}

	events, err := s.ListEvents(context.Background(), jobID, nil)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		require.True(t, events[i].CreatedAt.After(events[i-1].CreatedAt))
		require.GreaterOrEqual(t, events[i].PercentComplete, events[i-1].PercentComplete)
	}
}

func TestListEventsSortsByCreatedAtThenID(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	jobID, ownerID := uuid.New(), uuid.New()
	base := time.Unix(1700000000, 0).UTC()

	// Append out of timestamp order; listing must still come back ordered
	// by (created_at, id), matching the database-backed store.
	late := newEvent(jobID, ownerID, progress.StatusProcessing, 50, base.Add(2*time.Second))
	early := newEvent(jobID, ownerID, progress.StatusProcessing, 10, base)
	mid := newEvent(jobID, ownerID, progress.StatusProcessing, 25, base.Add(time.Second))
	for _, evt := range []progress.Event{late, early, mid} {
		require.NoError(t, s.AppendEvent(context.Background(), evt))
	}

	events, err := s.ListEvents(context.Background(), jobID, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, early.ID, events[0].ID)
	require.Equal(t, mid.ID, events[1].ID)
	require.Equal(t, late.ID, events[2].ID)

	// Equal timestamps fall back to the id tie-break.
	tieJob := uuid.New()
	a := newEvent(tieJob, ownerID, progress.StatusProcessing, 10, base)
	b := newEvent(tieJob, ownerID, progress.StatusProcessing, 15, base)
	require.NoError(t, s.AppendEvent(context.Background(), a))
	require.NoError(t, s.AppendEvent(context.Background(), b))

	ties, err := s.ListEvents(context.Background(), tieJob, nil)
	require.NoError(t, err)
	require.Len(t, ties, 2)
	require.True(t, bytes.Compare(ties[0].ID[:], ties[1].ID[:]) < 0)
}

func TestListEventsSinceCursorIsExclusive(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	jobID, ownerID := uuid.New(), uuid.New()
	base := time.Unix(1700000000, 0).UTC()

	first := newEvent(jobID, ownerID, progress.StatusProcessing, 10, base)
	second := newEvent(jobID, ownerID, progress.StatusProcessing, 50, base.Add(time.Second))
	require.NoError(t, s.AppendEvent(context.Background(), first))
	require.NoError(t, s.AppendEvent(context.Background(), second))

	events, err := s.ListEvents(context.Background(), jobID, &base)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, second.ID, events[0].ID)

	// Same cursor twice returns the same set.
	again, err := s.ListEvents(context.Background(), jobID, &base)
	require.NoError(t, err)
	require.Equal(t, events, again)
}

func TestAppendAfterTerminalRejected(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	jobID, ownerID := uuid.New(), uuid.New()
	base := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.AppendEvent(context.Background(),
		newEvent(jobID, ownerID, progress.StatusCompleted, 100, base)))
	err := s.AppendEvent(context.Background(),
		newEvent(jobID, ownerID, progress.StatusProcessing, 50, base.Add(time.Second)))
	require.ErrorIs(t, err, store.ErrJobTerminated)
}

func TestListEventsUnknownJobIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	events, err := s.ListEvents(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	require.NotNil(t, events)
	require.Empty(t, events)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	job := progress.Job{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		Status:     progress.StatusProcessing,
		TotalCount: 20,
	}
	s.PutJob(job)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job.OwnerID, got.OwnerID)

	_, err = s.GetJob(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}
