// Package gateway accepts client WebSocket connections, runs the
// post-connection authentication handshake, and fans broadcast progress
// messages out to each authenticated owner's sockets.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/videohaven/progress-gateway/internal/auth"
	"github.com/videohaven/progress-gateway/internal/broker"
)

const (
	defaultAuthTimeout  = 10 * time.Second
	defaultPingInterval = 25 * time.Second
	defaultWriteTimeout = 10 * time.Second
	readBufferSize      = 1024
	writeBufferSize     = 1024
)

// Config controls handshake and heartbeat timing.
//   - AuthTimeout: how long a fresh connection may stay unauthenticated.
//   - PingInterval: server-initiated heartbeat period (default 25s).
//   - PongWait: liveness window for the read deadline; defaults to 2x PingInterval.
//   - WriteTimeout: per-write deadline toward the client.
type Config struct {
	AuthTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// Gateway owns every live connection and the owner-to-connections registry.
// It is constructed at process start, injected where needed, and torn down
// at process stop; connections never outlive it.
type Gateway struct {
	cfg      Config
	verifier auth.Verifier
	broker   broker.Broker
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[uuid.UUID]map[*Conn]struct{}
	closed bool
}

// New constructs a Gateway.
func New(cfg Config, verifier auth.Verifier, b broker.Broker, logger *zap.Logger) *Gateway {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gw := &Gateway{
		cfg:      cfg,
		verifier: verifier,
		broker:   b,
		logger:   logger,
		conns:    make(map[uuid.UUID]map[*Conn]struct{}),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}
	return gw
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newConn(g, ws)
	conn.run(r.Context())
}

// OwnerConnections reports the live connection count for an owner.
func (g *Gateway) OwnerConnections(ownerID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns[ownerID])
}

// Close tears down every live connection. New registrations are refused.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	var all []*Conn
	for _, set := range g.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	g.mu.Unlock()

	for _, c := range all {
		c.teardown("gateway_shutdown")
		<-c.Done()
	}
}

// register adds an authenticated connection to the registry. It returns
// false once the gateway is shutting down.
func (g *Gateway) register(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	set := g.conns[c.ownerID]
	if set == nil {
		set = make(map[*Conn]struct{})
		g.conns[c.ownerID] = set
	}
	set[c] = struct{}{}
	return true
}

func (g *Gateway) deregister(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if set, ok := g.conns[c.ownerID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(g.conns, c.ownerID)
		}
	}
}
