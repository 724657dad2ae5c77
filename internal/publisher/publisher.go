// Package publisher implements the job-side progress emitter: it throttles
// per-unit updates, broadcasts the survivors to the live channel, and appends
// them to the durable event log.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/videohaven/progress-gateway/internal/broker"
	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/store"
	"github.com/videohaven/progress-gateway/internal/telemetry"
)

const (
	defaultThresholdPercent = 5
	defaultWriteTimeout     = 2 * time.Second
)

// Config controls throttling and write deadlines.
//   - ThresholdPercent: minimum percent advance between emissions (default 5).
//   - WriteTimeout: per-write deadline for broadcast and append (default 2s).
type Config struct {
	ThresholdPercent int
	WriteTimeout     time.Duration
}

// Update is one progress report from the job runner, delivered once per
// completed unit of work or status transition.
type Update struct {
	JobID          uuid.UUID
	OwnerID        uuid.UUID
	Status         progress.Status
	ProcessedCount int64
	TotalCount     int64
	CurrentItem    *string
	Message        *string
	Error          *string
}

// Publisher decides which updates are worth emitting and performs the dual
// write. It never blocks the caller beyond the configured write timeouts and
// never surfaces downstream failures: the job must be able to finish on its
// own merits regardless of this subsystem's health.
type Publisher struct {
	cfg    Config
	broker broker.Broker
	repo   store.EventRepository
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobState
}

type jobState struct {
	lastPercent int
	terminal    bool
}

// New constructs a Publisher.
func New(cfg Config, b broker.Broker, repo store.EventRepository, logger *zap.Logger) *Publisher {
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = defaultThresholdPercent
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:    cfg,
		broker: b,
		repo:   repo,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[uuid.UUID]*jobState),
	}
}

// Publish reports one unit of progress. An update is emitted only if it is
// the first for its job, carries a terminal status, or advanced the percent
// past the threshold since the last emission; everything else is dropped
// silently. Each emission attempts exactly two external writes: broadcast
// first, then the durable append.
func (p *Publisher) Publish(ctx context.Context, u Update) {
	pct := progress.Percent(u.Status, u.ProcessedCount, u.TotalCount)
	pct, emit := p.admit(u, pct)
	if !emit {
		return
	}

	evt := progress.Event{
		ID:              uuid.New(),
		OwnerID:         u.OwnerID,
		JobID:           u.JobID,
		Status:          u.Status,
		PercentComplete: pct,
		ProcessedCount:  u.ProcessedCount,
		TotalCount:      u.TotalCount,
		CurrentItem:     u.CurrentItem,
		Message:         u.Message,
		Error:           u.Error,
		CreatedAt:       p.now().UTC(),
	}
	if err := evt.Validate(); err != nil {
		p.logger.Warn("discarding invalid progress update",
			zap.String("job_id", u.JobID.String()),
			zap.Error(err),
		)
		return
	}

	p.broadcast(ctx, evt)
	p.append(ctx, evt)
	telemetry.ObserveEventEmitted(string(evt.Status))
}

// admit applies the throttling policy and records the emission decision. The
// returned percent is clamped to never regress within a job's sequence.
func (p *Publisher) admit(u Update, pct int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, seen := p.jobs[u.JobID]
	if seen && state.terminal {
		p.logger.Warn("progress update after terminal event dropped",
			zap.String("job_id", u.JobID.String()),
			zap.String("status", string(u.Status)),
		)
		return pct, false
	}
	if seen && pct < state.lastPercent {
		pct = state.lastPercent
	}

	first := !seen
	terminal := u.Status.Terminal()
	advanced := seen && pct-state.lastPercent > p.cfg.ThresholdPercent
	if !first && !terminal && !advanced {
		telemetry.ObserveEventThrottled()
		return pct, false
	}

	if state == nil {
		state = &jobState{}
		p.jobs[u.JobID] = state
	}
	state.lastPercent = pct
	state.terminal = terminal
	return pct, true
}

func (p *Publisher) broadcast(ctx context.Context, evt progress.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("marshal progress event failed",
			zap.String("job_id", evt.JobID.String()),
			zap.Error(err),
		)
		telemetry.ObserveBroadcastFailure()
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	if err := p.broker.Publish(pubCtx, evt.OwnerID, payload); err != nil {
		// Best effort: a missed live update is recoverable via history.
		p.logger.Warn("broadcast publish failed",
			zap.String("job_id", evt.JobID.String()),
			zap.Error(err),
		)
		telemetry.ObserveBroadcastFailure()
	}
}

func (p *Publisher) append(ctx context.Context, evt progress.Event) {
	appendCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	err := p.repo.AppendEvent(appendCtx, evt)
	if err == nil {
		return
	}
	telemetry.ObserveAppendFailure()
	if errors.Is(err, store.ErrJobTerminated) {
		p.logger.Warn("append raced a terminal event",
			zap.String("job_id", evt.JobID.String()),
		)
		return
	}
	// Degrades reconnection recovery, hence error severity, but the job
	// itself must not be disturbed.
	p.logger.Error("durable append failed",
		zap.String("job_id", evt.JobID.String()),
		zap.String("status", string(evt.Status)),
		zap.Error(err),
	)
}
