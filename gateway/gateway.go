// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/seal"
)

// Handler processes one decrypted RPC request and returns the
// plaintext result to be sealed and sent back.
type Handler func(ctx context.Context, params []byte) ([]byte, error)

// Config configures a Gateway.
type Config struct {
	// SessionID scopes every registered method name. Required.
	SessionID string
	// DataKey is the session data key sealing params and results.
	// Required; the gateway does not own it.
	DataKey *secret.Buffer
	// Send delivers responses back to the transport. Required.
	Send func(ctx context.Context, response Response) error
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Gateway dispatches encrypted RPC requests to registered handlers.
// Method names are scoped by session id, so a request carrying a
// different session's scope can never reach a handler here. Handlers
// run in their own goroutines; a handler panic becomes a structured
// HandlerFailed response, never a crash.
type Gateway struct {
	sessionID string
	dataKey   *secret.Buffer
	send      func(ctx context.Context, response Response) error
	logger    *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// New creates a Gateway for one session.
func New(config Config) (*Gateway, error) {
	if config.SessionID == "" {
		return nil, fmt.Errorf("gateway: Config.SessionID is required")
	}
	if config.DataKey == nil {
		return nil, fmt.Errorf("gateway: Config.DataKey is required")
	}
	if config.Send == nil {
		return nil, fmt.Errorf("gateway: Config.Send is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sessionID: config.SessionID,
		dataKey:   config.DataKey,
		send:      config.Send,
		logger:    logger,
		handlers:  make(map[string]Handler),
	}, nil
}

// Register stores handler under the session-scoped method name.
// Method names may not contain the scope separator, and registering
// the same name twice is an error.
func (g *Gateway) Register(method string, handler Handler) error {
	if method == "" || strings.Contains(method, ":") {
		return fmt.Errorf("gateway: invalid method name %q", method)
	}
	if handler == nil {
		return fmt.Errorf("gateway: nil handler for method %q", method)
	}
	scoped := g.sessionID + ":" + method
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.handlers[scoped]; exists {
		return fmt.Errorf("gateway: method %q already registered", method)
	}
	g.handlers[scoped] = handler
	return nil
}

// HandleRequest dispatches one incoming request. Lookup and parameter
// decryption happen synchronously; the handler itself runs in a fresh
// goroutine that is abandoned when ctx is cancelled, so a slow
// handler never blocks gateway shutdown.
func (g *Gateway) HandleRequest(ctx context.Context, request Request) {
	g.mu.Lock()
	handler, ok := g.handlers[request.Method]
	g.mu.Unlock()
	if !ok {
		g.respondError(ctx, request.ID, KindNotFound,
			fmt.Sprintf("no such method %q", request.Method))
		return
	}

	params, err := g.openParams(request.Params)
	if err != nil {
		g.logger.Debug("rpc params rejected", "id", request.ID, "method", request.Method, "error", err)
		g.respondError(ctx, request.ID, KindBadParams, "parameters could not be decrypted")
		return
	}

	go g.invoke(ctx, request, handler, params)
}

func (g *Gateway) invoke(ctx context.Context, request Request, handler Handler, params []byte) {
	defer func() {
		if recovered := recover(); recovered != nil {
			g.logger.Error("rpc handler panicked",
				"id", request.ID, "method", request.Method, "panic", recovered)
			g.respondError(ctx, request.ID, KindHandlerFailed, "handler failed")
		}
	}()

	result, err := handler(ctx, params)
	if err != nil {
		// The real failure goes to the log; the caller gets a safe
		// message with no internal detail.
		g.logger.Warn("rpc handler failed",
			"id", request.ID, "method", request.Method, "error", err)
		g.respondError(ctx, request.ID, KindHandlerFailed, "handler failed")
		return
	}

	sealed, err := seal.Encrypt(g.dataKey, seal.VariantAESGCM, result)
	if err != nil {
		g.logger.Error("sealing rpc result failed", "id", request.ID, "error", err)
		g.respondError(ctx, request.ID, KindHandlerFailed, "handler failed")
		return
	}
	g.respond(ctx, Response{
		ID:     request.ID,
		Result: seal.EncodeEnvelope(seal.VariantAESGCM, sealed),
	})
}

// openParams decodes and decrypts the request's parameter envelope.
// The envelope's variant marker selects the scheme; unmarked params
// from older clients are legacy secretbox.
func (g *Gateway) openParams(params string) ([]byte, error) {
	variant, envelope, err := seal.DecodeEnvelope(params)
	if err != nil {
		return nil, fmt.Errorf("gateway: decoding params: %w", err)
	}
	return seal.Decrypt(g.dataKey, variant, envelope)
}

func (g *Gateway) respondError(ctx context.Context, id string, kind ErrorKind, message string) {
	g.respond(ctx, Response{ID: id, Error: &Error{Kind: kind, Message: message}})
}

func (g *Gateway) respond(ctx context.Context, response Response) {
	if err := g.send(ctx, response); err != nil && ctx.Err() == nil {
		g.logger.Warn("rpc response send failed", "id", response.ID, "error", err)
	}
}
