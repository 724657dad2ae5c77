package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/store"
)

func sampleStoredEvent() progress.Event {
	item := "video-7"
	return progress.Event{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		JobID:           uuid.New(),
		Status:          progress.StatusProcessing,
		PercentComplete: 35,
		ProcessedCount:  7,
		TotalCount:      20,
		CurrentItem:     &item,
		CreatedAt:       time.Unix(1700000000, 0).UTC(),
	}
}

func TestAppendEventInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewEventStoreWithPool(mock)
	evt := sampleStoredEvent()

	mock.ExpectExec("INSERT INTO progress_events").
		WithArgs(
			evt.ID,
			evt.JobID,
			evt.OwnerID,
			evt.Status,
			evt.PercentComplete,
			evt.ProcessedCount,
			evt.TotalCount,
			evt.CurrentItem,
			evt.Message,
			evt.Error,
			evt.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendEvent(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestAppendEventAfterTerminal maps the zero-row guarded insert to ErrJobTerminated.
func TestAppendEventAfterTerminal(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewEventStoreWithPool(mock)
	evt := sampleStoredEvent()

	mock.ExpectExec("INSERT INTO progress_events").
		WithArgs(
			evt.ID,
			evt.JobID,
			evt.OwnerID,
			evt.Status,
			evt.PercentComplete,
			evt.ProcessedCount,
			evt.TotalCount,
			evt.CurrentItem,
			evt.Message,
			evt.Error,
			evt.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = s.AppendEvent(context.Background(), evt)
	require.ErrorIs(t, err, store.ErrJobTerminated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventRejectsInvalid(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewEventStoreWithPool(mock)
	evt := sampleStoredEvent()
	evt.Status = progress.StatusFailed // no error payload

	require.Error(t, s.AppendEvent(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsScansOrderedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewEventStoreWithPool(mock)
	jobID := uuid.New()
	ownerID := uuid.New()
	since := time.Unix(1700000000, 0).UTC()
	columns := []string{
		"id", "job_id", "owner_id", "status", "percent_complete",
		"processed_count", "total_count", "current_item", "message", "error",
		"created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM progress_events").
		WithArgs(jobID, &since).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(uuid.New(), jobID, ownerID, progress.StatusProcessing, 40,
				int64(8), int64(20), (*string)(nil), (*string)(nil), (*string)(nil),
				since.Add(time.Second)).
			AddRow(uuid.New(), jobID, ownerID, progress.StatusCompleted, 100,
				int64(20), int64(20), (*string)(nil), (*string)(nil), (*string)(nil),
				since.Add(2*time.Second)))

	events, err := s.ListEvents(context.Background(), jobID, &since)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, progress.StatusProcessing, events[0].Status)
	require.Equal(t, progress.StatusCompleted, events[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsEmptyIsNotError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewEventStoreWithPool(mock)
	jobID := uuid.New()
	columns := []string{
		"id", "job_id", "owner_id", "status", "percent_complete",
		"processed_count", "total_count", "current_item", "message", "error",
		"created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM progress_events").
		WithArgs(jobID, (*time.Time)(nil)).
		WillReturnRows(pgxmock.NewRows(columns))

	events, err := s.ListEvents(context.Background(), jobID, nil)
	require.NoError(t, err)
	require.NotNil(t, events)
	require.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewEventStoreWithPool(mock)
	jobID := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WithArgs(jobID).
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetJob(context.Background(), jobID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
