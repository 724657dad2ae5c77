// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/store"
)

// EventStoreConfig controls the Postgres connection pool used for event rows.
type EventStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// EventStore implements store.EventRepository on Postgres. Events live in the
// progress_events table indexed on (job_id, created_at); the jobs table is
// owned by the import runner and only read here.
type EventStore struct {
	pool dbPool
}

// NewEventStore creates an EventStore with its own connection pool.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &EventStore{pool: pool}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(pool dbPool) *EventStore {
	return &EventStore{pool: pool}
}

// Close closes the underlying connection pool.
func (s *EventStore) Close() {
	s.pool.Close()
}

// Ping checks database connectivity for readiness probes.
func (s *EventStore) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// AppendEvent inserts one event row. The guarded INSERT refuses to extend a
// sequence that already contains a terminal event for the job.
func (s *EventStore) AppendEvent(ctx context.Context, evt progress.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	query := `
		INSERT INTO progress_events
			(id, job_id, owner_id, status, percent_complete, processed_count,
			 total_count, current_item, message, error, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM progress_events
			WHERE job_id = $2 AND status IN ('completed', 'failed')
		);
	`
	res, err := s.pool.Exec(ctx, query,
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
	)
	if err != nil {
		return fmt.Errorf("append progress event: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrJobTerminated
	}
	return nil
}

// ListEvents returns the job's events after the optional cursor, in creation order.
func (s *EventStore) ListEvents(
	ctx context.Context,
	jobID uuid.UUID,
	since *time.Time,
) ([]progress.Event, error) {
	query := `
		SELECT id, job_id, owner_id, status, percent_complete, processed_count,
		       total_count, current_item, message, error, created_at
		FROM progress_events
		WHERE job_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY created_at, id;
	`
	rows, err := s.pool.Query(ctx, query, jobID, since)
	if err != nil {
		return nil, fmt.Errorf("list progress events: %w", err)
	}
	defer rows.Close()

	events := []progress.Event{}
	for rows.Next() {
		var evt progress.Event
		err := rows.Scan(
			&evt.ID,
			&evt.JobID,
			&evt.OwnerID,
			&evt.Status,
			&evt.PercentComplete,
			&evt.ProcessedCount,
			&evt.TotalCount,
			&evt.CurrentItem,
			&evt.Message,
			&evt.Error,
			&evt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan progress event row: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress event rows: %w", err)
	}
	return events, nil
}

// GetJob loads the read-only job row for ownership checks.
func (s *EventStore) GetJob(ctx context.Context, jobID uuid.UUID) (progress.Job, error) {
	query := `
		SELECT id, owner_id, status, total_count, processed_count, created_at, updated_at
		FROM jobs
		WHERE id = $1;
	`
	var job progress.Job
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.OwnerID,
		&job.Status,
		&job.TotalCount,
		&job.ProcessedCount,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return progress.Job{}, store.ErrNotFound
		}
		return progress.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
