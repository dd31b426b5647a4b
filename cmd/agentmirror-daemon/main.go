// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Agentmirror-daemon mirrors a local agent session through an
// untrusted relay. It authenticates the machine, registers a session,
// and then pumps the agent's output to the relay: sequenced replies
// are released in order (holding tool calls that await permission),
// grouped into mode-isolated batches, sealed under the session data
// key, and sent. Remote devices observe state through the encrypted
// session record and answer permission prompts over encrypted RPC.
//
// The agent process speaks the JSON-lines driver protocol on the
// daemon's stdin/stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentmirror/agentmirror/auth"
	"github.com/agentmirror/agentmirror/driver"
	"github.com/agentmirror/agentmirror/gateway"
	"github.com/agentmirror/agentmirror/lib/config"
	"github.com/agentmirror/agentmirror/lib/credstore"
	"github.com/agentmirror/agentmirror/order"
	"github.com/agentmirror/agentmirror/relay"
	"github.com/agentmirror/agentmirror/seal"
	"github.com/agentmirror/agentmirror/statesync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		sessionName string
	)
	pflag.StringVar(&configPath, "config", "", "path to the agentmirror.yaml config file (required)")
	pflag.StringVar(&sessionName, "session-name", "", "human-facing session title shown on mirrored devices")
	pflag.Parse()

	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := relay.NewClient(relay.ClientConfig{RelayURL: cfg.Relay.URL, Logger: logger})
	if err != nil {
		return err
	}

	credentials, err := loadOrAuthenticate(ctx, cfg.Credentials.Path, client, logger)
	if err != nil {
		return err
	}
	defer credentials.Close()

	conn, err := relay.NewConn(relay.ConnConfig{
		Client:         client,
		Token:          credentials.Token,
		Logger:         logger,
		ReconnectDelay: cfg.ReconnectDelay(),
	})
	if err != nil {
		return err
	}
	connDone := make(chan error, 1)
	go func() { connDone <- conn.Run(ctx) }()

	hostname, _ := os.Hostname()
	workdir, _ := os.Getwd()
	session, err := statesync.Create(ctx, conn, credentials.MachineKey,
		statesync.Metadata{
			Name:      sessionName,
			Host:      hostname,
			Path:      workdir,
			StartedAt: time.Now().UnixMilli(),
		},
		statesync.AgentState{Mode: "local"},
		statesync.Options{
			MaxUpdateAttempts: cfg.Sync.MaxUpdateAttempts,
			HeartbeatInterval: cfg.HeartbeatInterval(),
			Logger:            logger,
		})
	if err != nil {
		return fmt.Errorf("registering session: %w", err)
	}
	defer session.Close()
	logger.Info("session registered", "session", session.ID())

	if err := session.StartHeartbeat(ctx); err != nil {
		return err
	}

	agentDriver := driver.NewStdio(os.Stdin, os.Stdout, logger)
	driverDone := make(chan error, 1)
	go func() { driverDone <- agentDriver.Run(ctx) }()

	mirror, err := newMirror(ctx, mirrorConfig{
		conn:        conn,
		session:     session,
		driver:      agentDriver,
		holdTimeout: cfg.HoldTimeout(),
		logger:      logger,
	})
	if err != nil {
		return err
	}
	defer mirror.close()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-driverDone:
		if err != nil {
			runErr = fmt.Errorf("agent driver: %w", err)
		} else {
			logger.Info("agent exited, shutting down")
		}
	case err := <-connDone:
		runErr = fmt.Errorf("relay connection: %w", err)
	}
	// Cancel before the deferred session.Close so the heartbeat loop
	// can wind down.
	stop()
	return runErr
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadOrAuthenticate returns stored machine credentials, running the
// auth ceremony against the relay on first start.
func loadOrAuthenticate(ctx context.Context, path string, client *relay.Client, logger *slog.Logger) (*credstore.Credentials, error) {
	credentials, err := credstore.Load(path)
	if err == nil {
		return credentials, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	logger.Info("no stored credentials, starting auth ceremony")
	credentials, err = auth.NewCeremony(client, logger).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth ceremony: %w", err)
	}
	if err := credstore.Save(path, credentials); err != nil {
		credentials.Close()
		return nil, fmt.Errorf("saving credentials: %w", err)
	}
	logger.Info("machine enrolled", "path", path)
	return credentials, nil
}

// mirrorConfig collects the pieces the mirror pump wires together.
type mirrorConfig struct {
	conn        *relay.Conn
	session     *statesync.Session
	driver      driver.Driver
	holdTimeout time.Duration
	logger      *slog.Logger
}

// mirror owns the output path from the agent driver to the relay:
// releaser (sequence order, permission holds) feeding the batcher
// (mode isolation) feeding sealed batch frames, plus the RPC gateway
// for remote permission decisions.
type mirror struct {
	ctx      context.Context
	config   mirrorConfig
	releaser *order.Releaser
	batcher  *order.Batcher

	// modeTags remembers each buffered event's mode until the
	// releaser hands it back for batching.
	modeTags sync.Map
}

func newMirror(ctx context.Context, config mirrorConfig) (*mirror, error) {
	m := &mirror{ctx: ctx, config: config}

	batcher, err := order.NewBatcher(order.BatcherConfig{
		Send:   m.sendBatch,
		Logger: config.logger,
	})
	if err != nil {
		return nil, err
	}
	m.batcher = batcher
	go batcher.Run(ctx)

	releaser, err := order.NewReleaser(order.ReleaserConfig{
		Deliver:     m.deliverReply,
		OnTimeout:   m.permissionTimedOut,
		HoldTimeout: config.holdTimeout,
		Logger:      config.logger,
	})
	if err != nil {
		return nil, err
	}
	m.releaser = releaser

	rpc, err := gateway.New(gateway.Config{
		SessionID: config.session.ID(),
		DataKey:   config.session.DataKey(),
		Send:      m.sendResponse,
		Logger:    config.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := rpc.Register("permission/decide", m.handleDecision); err != nil {
		return nil, err
	}
	config.conn.Handle("rpc-request", func(ctx context.Context, frame relay.Frame) {
		var request gateway.Request
		if err := json.Unmarshal(frame.Body, &request); err != nil {
			config.logger.Warn("malformed rpc request frame", "error", err)
			return
		}
		rpc.HandleRequest(ctx, request)
	})

	go m.pumpOutput()
	go m.pumpNotifications()
	return m, nil
}

func (m *mirror) close() {
	m.releaser.Close()
}

// pumpOutput feeds agent output through the releaser. Held events
// also surface as pending permissions in the mirrored state, and a
// local prompt is started so whichever side answers first wins.
func (m *mirror) pumpOutput() {
	for event := range m.config.driver.Output() {
		if event.Held && event.Permission != nil {
			m.registerPermission(event)
		}
		m.modeTags.Store(event.Sequence, event.ModeTag)
		m.releaser.Enqueue(event.Payload, event.Sequence, event.Held, event.Token)
	}
	if err := m.batcher.Flush(m.ctx); err != nil && m.ctx.Err() == nil {
		m.config.logger.Warn("final flush failed", "error", err)
	}
}

func (m *mirror) pumpNotifications() {
	for note := range m.config.driver.Notifications() {
		var err error
		switch {
		case note.Mode != "":
			err = m.config.session.SetMode(m.ctx, note.Mode)
		case note.AgentSessionID != "":
			err = m.config.session.SetAgentSessionID(m.ctx, note.AgentSessionID)
		}
		if err != nil && m.ctx.Err() == nil {
			m.config.logger.Warn("state update failed", "error", err)
		}
	}
}

func (m *mirror) registerPermission(event driver.OutputEvent) {
	err := m.config.session.UpdateState(m.ctx, statesync.Update{
		AgentState: &statesync.AgentStateUpdate{
			SetPermissions: map[string]statesync.PermissionRequest{
				event.Token: {Tool: event.Permission.Tool, Input: event.Permission.Input},
			},
		},
	})
	if err != nil && m.ctx.Err() == nil {
		m.config.logger.Warn("publishing pending permission failed", "token", event.Token, "error", err)
	}

	go func() {
		decision, err := m.config.driver.AskPermission(m.ctx, event.Permission.Tool, event.Permission.Input)
		if err != nil {
			if m.ctx.Err() == nil {
				m.config.logger.Warn("local permission prompt failed", "token", event.Token, "error", err)
			}
			return
		}
		m.config.logger.Info("permission decided locally", "token", event.Token, "decision", decision)
		m.resolvePermission(event.Token)
	}()
}

// resolvePermission releases the held reply and clears the pending
// entry from the mirrored state. Safe to call from both the local
// prompt and the remote RPC path; the second caller finds nothing
// held and only re-clears state.
func (m *mirror) resolvePermission(token string) {
	m.releaser.EarlyRelease(token)
	err := m.config.session.UpdateState(m.ctx, statesync.Update{
		AgentState: &statesync.AgentStateUpdate{ClearPermissions: []string{token}},
	})
	if err != nil && m.ctx.Err() == nil {
		m.config.logger.Warn("clearing pending permission failed", "token", token, "error", err)
	}
}

func (m *mirror) permissionTimedOut(token string) {
	m.config.logger.Warn("permission request timed out, denied", "token", token)
	m.resolvePermission(token)
}

// handleDecision is the RPC endpoint remote devices call to answer a
// permission prompt.
func (m *mirror) handleDecision(ctx context.Context, params []byte) ([]byte, error) {
	var decision struct {
		Token    string `json:"token"`
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(params, &decision); err != nil {
		return nil, fmt.Errorf("parsing decision: %w", err)
	}
	if decision.Token == "" {
		return nil, fmt.Errorf("decision has no token")
	}
	m.config.logger.Info("permission decided remotely",
		"token", decision.Token, "decision", decision.Decision)
	m.resolvePermission(decision.Token)
	return json.Marshal(map[string]bool{"ok": true})
}

func (m *mirror) deliverReply(reply order.Reply) {
	modeTag := ""
	if tag, ok := m.modeTags.LoadAndDelete(reply.Sequence); ok {
		modeTag = tag.(string)
	}
	m.batcher.Enqueue(reply.Payload, modeTag)
}

// sendBatch seals one mode-isolated batch under the session data key
// and ships it as a batch frame.
func (m *mirror) sendBatch(ctx context.Context, batch order.Batch) error {
	payload, err := json.Marshal(struct {
		Ordinal  uint64   `json:"ordinal"`
		ModeTag  string   `json:"modeTag"`
		Messages []string `json:"messages"`
	}{
		Ordinal:  batch.Ordinal,
		ModeTag:  batch.ModeTag,
		Messages: encodeMessages(batch.Payloads),
	})
	if err != nil {
		return err
	}
	sealed, err := seal.Encrypt(m.config.session.DataKey(), seal.VariantAESGCM, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"batch": seal.EncodeEnvelope(seal.VariantAESGCM, sealed),
	})
	if err != nil {
		return err
	}
	return m.config.conn.Send(ctx, relay.Frame{
		Type:      "message-batch",
		SessionID: m.config.session.ID(),
		Body:      body,
	})
}

func (m *mirror) sendResponse(ctx context.Context, response gateway.Response) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return m.config.conn.Send(ctx, relay.Frame{
		Type:      "rpc-response",
		SessionID: m.config.session.ID(),
		Body:      body,
	})
}

func encodeMessages(payloads [][]byte) []string {
	messages := make([]string, len(payloads))
	for i, payload := range payloads {
		messages[i] = string(payload)
	}
	return messages
}
