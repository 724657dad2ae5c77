package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/videohaven/progress-gateway/internal/broker"
	"github.com/videohaven/progress-gateway/internal/telemetry"
)

// State is the connection lifecycle position. Transitions only move forward:
// Connecting -> Unauthenticated -> Subscribed -> Closing -> Closed, with
// Rejected reachable from Unauthenticated and Closing reachable from any
// non-rejected state when teardown runs early.
type State string

// Connection states.
const (
	StateConnecting      State = "connecting"
	StateUnauthenticated State = "unauthenticated"
	StateSubscribed      State = "subscribed"
	StateClosing         State = "closing"
	StateClosed          State = "closed"
	StateRejected        State = "rejected"
)

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type controlFrame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Conn drives one client socket through the connection state machine. It is
// owned exclusively by the gateway instance that accepted it and all of its
// state dies with the socket.
type Conn struct {
	gw     *Gateway
	ws     *websocket.Conn
	logger *zap.Logger

	ownerID uuid.UUID
	sub     broker.Subscription

	mu     sync.Mutex
	state  State
	opened bool

	writeMu  sync.Mutex
	stopPump chan struct{}

	teardownOnce sync.Once
	done         chan struct{}
}

func newConn(gw *Gateway, ws *websocket.Conn) *Conn {
	return &Conn{
		gw:       gw,
		ws:       ws,
		logger:   gw.logger.With(zap.String("remote", ws.RemoteAddr().String())),
		state:    StateConnecting,
		stopPump: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once teardown has completed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// OwnerID is the authenticated identity, or uuid.Nil before authentication.
func (c *Conn) OwnerID() uuid.UUID {
	return c.ownerID
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run owns the socket from accept to teardown.
func (c *Conn) run(ctx context.Context) {
	c.setState(StateUnauthenticated)
	if !c.authenticate(ctx) {
		return
	}
	go c.writePump()
	c.readPump()
}

// authenticate waits for the client's credential frame, bounded by the auth
// timeout. Returning false means the connection was rejected and closed.
func (c *Conn) authenticate(ctx context.Context) bool {
	deadline := time.Now().Add(c.gw.cfg.AuthTimeout)
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		c.reject("transport_error", "connection unusable")
		return false
	}

	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Expected outcome, not an error: clients are allowed to dawdle
			// and simply lose the connection.
			c.logger.Info("authentication timeout, closing connection")
			c.reject("auth_timeout", "authentication timed out")
		} else {
			c.logger.Warn("transport error before authentication", zap.Error(err))
			c.reject("transport_error", "")
		}
		return false
	}

	var frame authFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "auth" {
		c.logger.Warn("malformed authentication frame")
		c.reject("malformed", "malformed authentication message")
		return false
	}

	ownerID, err := c.gw.verifier.Verify(frame.Token)
	if err != nil {
		c.logger.Info("authentication rejected", zap.Error(err))
		c.reject("invalid_token", "authentication rejected")
		return false
	}

	sub, err := c.gw.broker.Subscribe(ctx, ownerID)
	if err != nil {
		// Fatal for this attempt; reconnecting is the client's job.
		c.logger.Error("broker subscription failed", zap.Error(err))
		c.reject("subscribe_failed", "subscription unavailable")
		return false
	}

	c.ownerID = ownerID
	c.sub = sub
	if !c.gw.register(c) {
		_ = sub.Close()
		c.reject("shutting_down", "server shutting down")
		return false
	}

	if err := c.writeControl(controlFrame{Type: "auth_ok"}); err != nil {
		c.logger.Warn("auth acknowledgement failed", zap.Error(err))
		c.teardown("write_failed")
		return false
	}
	if !c.markOpen() {
		// Teardown won the race between register and here; the socket is
		// already on its way down and must not count as open.
		return false
	}
	c.logger.Debug("connection authenticated", zap.String("owner_id", ownerID.String()))
	return true
}

// markOpen moves an authenticated connection into the subscribed state and
// records it in the live-connection gauge. Returns false if teardown ran
// first, in which case no open accounting happens.
func (c *Conn) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return false
	}
	c.state = StateSubscribed
	c.opened = true
	telemetry.ConnectionOpened()
	return true
}

// reject closes an unauthenticated connection with an explicit indication.
func (c *Conn) reject(reason, message string) {
	c.setState(StateRejected)
	telemetry.ObserveConnectionRejected(reason)
	if message != "" {
		_ = c.writeControl(controlFrame{Type: "auth_error", Error: message})
	}
	c.teardown(reason)
}

// readPump consumes inbound frames after authentication. Its only jobs are
// liveness (any frame or pong refreshes the read deadline) and enforcing the
// malformed-message policy.
func (c *Conn) readPump() {
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))
	})
	if err := c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait)); err != nil {
		c.teardown("transport_error")
		return
	}
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				// Missed heartbeat window: an ordinary disconnect.
				c.logger.Debug("heartbeat timeout")
				c.teardown("heartbeat_timeout")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.teardown("client_close")
			default:
				c.logger.Debug("read error", zap.Error(err))
				c.teardown("transport_error")
			}
			return
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait)); err != nil {
			c.teardown("transport_error")
			return
		}
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			c.logger.Warn("malformed client message, closing connection")
			c.teardown("malformed")
			return
		}
	}
}

// writePump forwards broadcast payloads verbatim and drives the heartbeat.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPump:
			return
		case payload, ok := <-c.sub.C():
			if !ok {
				c.teardown("subscription_closed")
				return
			}
			if err := c.writeMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("forward failed", zap.Error(err))
				c.teardown("write_failed")
				return
			}
			telemetry.ObserveMessageForwarded()
		case <-ticker.C:
			deadline := time.Now().Add(c.gw.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.teardown("ping_failed")
				return
			}
		}
	}
}

func (c *Conn) writeMessage(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

func (c *Conn) writeControl(frame controlFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.TextMessage, payload)
}

// teardown releases the subscription, deregisters, and closes the socket.
// Safe to call from any path any number of times; the work happens once.
func (c *Conn) teardown(reason string) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		opened := c.opened
		// Rejected connections keep their terminal state; everything else
		// moves through Closing so a racing markOpen sees the transition.
		closing := c.state != StateRejected
		if closing {
			c.state = StateClosing
		}
		c.mu.Unlock()
		close(c.stopPump)
		if c.sub != nil {
			if err := c.sub.Close(); err != nil {
				c.logger.Warn("subscription close failed", zap.Error(err))
			}
		}
		c.gw.deregister(c)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.ws.Close()
		if opened {
			telemetry.ConnectionClosed()
		}
		if closing {
			c.setState(StateClosed)
		}
		c.logger.Debug("connection closed", zap.String("reason", reason))
		close(c.done)
	})
}
