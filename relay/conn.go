// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentmirror/agentmirror/lib/clock"
	"github.com/agentmirror/agentmirror/lib/secret"
)

func encode64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FrameHandler consumes one inbound frame. Handlers run on the poll
// loop goroutine; long-running work must be moved off it.
type FrameHandler func(ctx context.Context, frame Frame)

// ConnConfig configures an authenticated relay connection.
type ConnConfig struct {
	// Client is the underlying relay client. Required.
	Client *Client
	// Token is the bearer token from the auth ceremony. Required.
	Token *secret.Buffer
	// Clock drives reconnect backoff. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger overrides the client's logger when set.
	Logger *slog.Logger
	// ReconnectDelay is the fixed delay between reconnect attempts.
	// Defaults to one second. Attempts are unbounded: the connection
	// never gives up on its own.
	ReconnectDelay time.Duration
	// PollWait is how long the relay may hold a long-poll open.
	// Defaults to 30 seconds.
	PollWait time.Duration
}

// Conn is the single long-lived logical connection to the relay for
// one authenticated client. Receiving is a long-poll loop; sending and
// the session API are plain requests under the same bearer token.
//
// Transport errors never surface to frame handlers: the loop marks the
// connection down, backs off for a fixed interval, and retries until
// the context is cancelled.
type Conn struct {
	client         *Client
	token          *secret.Buffer
	clock          clock.Clock
	logger         *slog.Logger
	reconnectDelay time.Duration
	pollWait       time.Duration

	mu            sync.Mutex
	handlers      map[string]FrameHandler
	stateWatchers []func(connected bool)
	cursor        string

	connected atomic.Bool
}

// NewConn creates a connection. Call Run to start the receive loop.
func NewConn(config ConnConfig) (*Conn, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("relay: Client is required")
	}
	if config.Token == nil {
		return nil, fmt.Errorf("relay: Token is required")
	}

	conn := &Conn{
		client:         config.Client,
		token:          config.Token,
		clock:          config.Clock,
		logger:         config.Logger,
		reconnectDelay: config.ReconnectDelay,
		pollWait:       config.PollWait,
		handlers:       make(map[string]FrameHandler),
	}
	if conn.clock == nil {
		conn.clock = clock.Real()
	}
	if conn.logger == nil {
		conn.logger = config.Client.logger
	}
	if conn.reconnectDelay <= 0 {
		conn.reconnectDelay = time.Second
	}
	if conn.pollWait <= 0 {
		conn.pollWait = 30 * time.Second
	}
	return conn, nil
}

// Handle registers a handler for a frame type. Frames with no handler
// are logged and dropped. Registration after Run is safe.
func (c *Conn) Handle(frameType string, handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[frameType] = handler
}

// OnStateChange registers a callback invoked whenever the connection
// transitions between up and down.
func (c *Conn) OnStateChange(watcher func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateWatchers = append(c.stateWatchers, watcher)
}

// Connected reports whether the last poll succeeded.
func (c *Conn) Connected() bool { return c.connected.Load() }

// Run drives the receive loop until ctx is cancelled. It always
// returns ctx.Err(): transport failures are absorbed by the reconnect
// policy, never returned.
func (c *Conn) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.setConnected(false)
			return err
		}

		response, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setConnected(false)
				return ctx.Err()
			}
			if c.Connected() {
				c.logger.Warn("relay connection lost", "error", err)
				c.client.CloseIdleConnections()
			}
			c.setConnected(false)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(c.reconnectDelay):
			}
			continue
		}

		if !c.Connected() {
			c.logger.Info("relay connection established")
		}
		c.setConnected(true)

		c.mu.Lock()
		c.cursor = response.Next
		c.mu.Unlock()

		for _, frame := range response.Frames {
			c.dispatch(ctx, frame)
		}
	}
}

func (c *Conn) poll(ctx context.Context) (*pollResponse, error) {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	body, err := c.client.doRequest(ctx, http.MethodPost, "/v1/poll", c.token, map[string]any{
		"since": cursor,
		"wait":  int(c.pollWait / time.Second),
	})
	if err != nil {
		return nil, err
	}
	var response pollResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("relay: failed to parse poll response: %w", err)
	}
	return &response, nil
}

func (c *Conn) dispatch(ctx context.Context, frame Frame) {
	c.mu.Lock()
	handler := c.handlers[frame.Type]
	c.mu.Unlock()

	if handler == nil {
		c.logger.Debug("dropping frame with no handler", "type", frame.Type)
		return
	}
	handler(ctx, frame)
}

func (c *Conn) setConnected(connected bool) {
	if c.connected.Swap(connected) == connected {
		return
	}
	c.mu.Lock()
	watchers := append([]func(bool){}, c.stateWatchers...)
	c.mu.Unlock()
	for _, watcher := range watchers {
		watcher(connected)
	}
}

// Send delivers a frame to the relay for fan-out to the session's
// other devices.
func (c *Conn) Send(ctx context.Context, frame Frame) error {
	if _, err := c.client.doRequest(ctx, http.MethodPost, "/v1/send", c.token, frame); err != nil {
		return fmt.Errorf("relay: send failed: %w", err)
	}
	return nil
}

// CreateSession registers a new session and returns its initial
// version (always zero on a conforming relay).
func (c *Conn) CreateSession(ctx context.Context, request CreateSessionRequest) (int64, error) {
	body, err := c.client.doRequest(ctx, http.MethodPost, "/v1/sessions", c.token, request)
	if err != nil {
		return 0, fmt.Errorf("relay: create session failed: %w", err)
	}
	var response UpdateSessionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("relay: failed to parse create response: %w", err)
	}
	return response.Version, nil
}

// GetSession fetches the relay's current record for a session.
func (c *Conn) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	body, err := c.client.doRequest(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), c.token, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: get session failed: %w", err)
	}
	var record SessionRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("relay: failed to parse session record: %w", err)
	}
	return &record, nil
}

// UpdateSession submits new encrypted state. A version mismatch is
// returned as *VersionConflictError carrying the relay's current
// record, so the caller can re-merge without another fetch.
func (c *Conn) UpdateSession(ctx context.Context, sessionID string, request UpdateSessionRequest) (int64, error) {
	body, err := c.client.doRequest(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/update", c.token, request)
	if err != nil {
		if IsRelayError(err, CodeVersionConflict) {
			var conflict struct {
				Current SessionRecord `json:"current"`
			}
			if parseErr := json.Unmarshal(body, &conflict); parseErr != nil {
				return 0, fmt.Errorf("relay: failed to parse conflict response: %w", parseErr)
			}
			return 0, &VersionConflictError{Current: conflict.Current}
		}
		return 0, fmt.Errorf("relay: update session failed: %w", err)
	}
	var response UpdateSessionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("relay: failed to parse update response: %w", err)
	}
	return response.Version, nil
}

// Heartbeat sends the fire-and-forget liveness beacon. If the
// connection is currently down the beacon is dropped: a stale
// heartbeat delivered after reconnect is worse than none.
func (c *Conn) Heartbeat(ctx context.Context, sessionID string, request HeartbeatRequest) error {
	if !c.Connected() {
		return nil
	}
	if _, err := c.client.doRequest(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/heartbeat", c.token, request); err != nil {
		return fmt.Errorf("relay: heartbeat failed: %w", err)
	}
	return nil
}
