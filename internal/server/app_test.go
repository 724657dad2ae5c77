package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/videohaven/progress-gateway/internal/broker"
	"github.com/videohaven/progress-gateway/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080},
		Auth:      config.AuthConfig{JWTSecret: "test-secret", HandshakeTimeoutSeconds: 10},
		Progress:  config.ProgressConfig{ThresholdPercent: 5, WriteTimeoutMs: 2000},
		Heartbeat: config.HeartbeatConfig{IntervalSeconds: 25, PongWaitSeconds: 50},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	require.NotNil(t, app.Publisher())
	require.NotNil(t, app.apiServer)
	require.NotNil(t, app.gateway)

	// No DSN and no Redis address select the in-memory implementations.
	require.Nil(t, app.pgStore)
	_, ok := app.broker.(*broker.MemoryBroker)
	require.True(t, ok)

	// Memory backends have no readiness probe targets.
	require.Nil(t, app.readyCheck())

	require.NoError(t, app.Close(context.Background()))
}
