package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/videohaven/progress-gateway/internal/auth"
	"github.com/videohaven/progress-gateway/internal/storage/memory"
)

func newServiceServer(t *testing.T, ready ReadyCheck) *httptest.Server {
	t.Helper()
	verifier, err := auth.NewJWTVerifier(historySecret)
	require.NoError(t, err)
	srv := NewServer(NewHistoryHandler(memory.NewEventStore(), verifier, nil), nil, ready, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newServiceServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyzReflectsDownstreams(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		ts := newServiceServer(t, func(context.Context) error { return nil })
		resp, err := ts.Client().Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
	t.Run("not ready", func(t *testing.T) {
		ts := newServiceServer(t, func(context.Context) error { return errors.New("redis unreachable") })
		resp, err := ts.Client().Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	ts := newServiceServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "# HELP") || strings.Contains(string(body), "# TYPE"))
}

func TestUnknownRouteIs404(t *testing.T) {
	t.Parallel()

	ts := newServiceServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/v1/nope")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
