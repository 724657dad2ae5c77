// Package server builds the application's dependency graph and runs its
// lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/videohaven/progress-gateway/internal/api"
	"github.com/videohaven/progress-gateway/internal/auth"
	"github.com/videohaven/progress-gateway/internal/broker"
	"github.com/videohaven/progress-gateway/internal/config"
	"github.com/videohaven/progress-gateway/internal/gateway"
	"github.com/videohaven/progress-gateway/internal/logging"
	"github.com/videohaven/progress-gateway/internal/publisher"
	memorystorage "github.com/videohaven/progress-gateway/internal/storage/memory"
	pgstorage "github.com/videohaven/progress-gateway/internal/storage/postgres"
	"github.com/videohaven/progress-gateway/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	gateway   *gateway.Gateway
	broker    broker.Broker
	eventRepo store.EventRepository
	publisher *publisher.Publisher
	pgStore   *pgstorage.EventStore
}

// Publisher exposes the progress publisher for embedding callers such as the
// job simulator.
func (a *App) Publisher() *publisher.Publisher {
	return a.publisher
}

// EventRepo exposes the event repository for embedding callers.
func (a *App) EventRepo() store.EventRepository {
	return a.eventRepo
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	if err := setupStore(ctx, app); err != nil {
		return nil, err
	}
	if err := setupBroker(ctx, app); err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("verifier init failed: %w", err)
	}

	app.publisher = publisher.New(
		publisher.Config{
			ThresholdPercent: cfg.Progress.ThresholdPercent,
			WriteTimeout:     cfg.PublishWriteTimeout(),
		},
		app.broker,
		app.eventRepo,
		logger.Named("publisher"),
	)

	app.gateway = gateway.New(
		gateway.Config{
			AuthTimeout:  cfg.HandshakeTimeout(),
			PingInterval: cfg.PingInterval(),
			PongWait:     cfg.PongWait(),
		},
		verifier,
		app.broker,
		logger.Named("gateway"),
	)

	history := api.NewHistoryHandler(app.eventRepo, verifier, logger.Named("history"))
	app.apiServer = api.NewServer(history, app.gateway, app.readyCheck(), logger.Named("api"))

	return app, nil
}

func setupStore(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory event store")
		app.eventRepo = memorystorage.NewEventStore()
		return nil
	}
	pg, err := pgstorage.NewEventStore(ctx, pgstorage.EventStoreConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        int32(app.cfg.DB.MaxConns),
		MinConns:        int32(app.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("event store init failed: %w", err)
	}
	app.pgStore = pg
	app.eventRepo = pg
	app.logger.Info("postgres event store initialized")
	return nil
}

func setupBroker(ctx context.Context, app *App) error {
	if app.cfg.Redis.Addr == "" {
		app.logger.Warn("no redis address configured, using in-memory broker")
		app.broker = broker.NewMemoryBroker()
		return nil
	}
	rb, err := broker.NewRedisBroker(ctx, broker.RedisConfig{
		Addr:          app.cfg.Redis.Addr,
		Password:      app.cfg.Redis.Password,
		DB:            app.cfg.Redis.DB,
		ChannelPrefix: app.cfg.Redis.ChannelPrefix,
	}, app.logger.Named("broker"))
	if err != nil {
		return fmt.Errorf("broker init failed: %w", err)
	}
	app.broker = rb
	app.logger.Info("redis broker initialized", zap.String("addr", app.cfg.Redis.Addr))
	return nil
}

// readyCheck pings whichever real backends are configured. Memory backends
// have nothing to probe.
func (a *App) readyCheck() api.ReadyCheck {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	var checks []pinger
	if a.pgStore != nil {
		checks = append(checks, a.pgStore)
	}
	if rb, ok := a.broker.(*broker.RedisBroker); ok {
		checks = append(checks, rb)
	}
	if len(checks) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("broker close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync() // sync on stderr routinely fails, nothing to do
	return nil
}
