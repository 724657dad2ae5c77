package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/videohaven/progress-gateway/internal/auth"
	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/store"
)

const historyTimeout = 3 * time.Second

// HistoryHandler serves the durable progress history so clients can recover
// events missed while disconnected.
type HistoryHandler struct {
	repo     store.EventRepository
	verifier auth.Verifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHistoryHandler wires the repository, token verifier, and logger.
func NewHistoryHandler(repo store.EventRepository, verifier auth.Verifier, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:     repo,
		verifier: verifier,
		timeout:  historyTimeout,
		logger:   logger,
	}
}

// ListJobEvents handles GET /v1/jobs/{job_id}/events?since=<RFC3339>. It
// returns the job's stored events in emission order as a JSON array, 400 for
// malformed IDs or cursors, 401 without a valid bearer token, 403 when the
// caller does not own the job, and 404 for unknown jobs. An empty history is
// 200 with an empty array, not an error.
func (h *HistoryHandler) ListJobEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "event repository unavailable")
		return
	}
	ownerID, err := h.callerOwner(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	job, err := h.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.OwnerID != ownerID {
		writeError(w, http.StatusForbidden, "job belongs to another owner")
		return
	}

	events, err := h.repo.ListEvents(ctx, jobID, since)
	if err != nil {
		h.logger.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []progress.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// callerOwner extracts and verifies the bearer token, yielding the owner ID.
func (h *HistoryHandler) callerOwner(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return uuid.UUID{}, errors.New("authorization required")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return uuid.UUID{}, errors.New("malformed authorization header")
	}
	ownerID, err := h.verifier.Verify(token)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid token")
	}
	return ownerID, nil
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	jobIDStr := chi.URLParam(r, "job_id")
	if jobIDStr == "" {
		return uuid.UUID{}, errors.New("job_id is required")
	}
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseSince(r *http.Request) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errors.New("invalid since timestamp")
	}
	return &ts, nil
}
