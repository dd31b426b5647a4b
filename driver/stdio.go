// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// stdioLine is the JSON-lines wire format between the agent process
// and the daemon. Type selects which fields are meaningful.
type stdioLine struct {
	Type string `json:"type"`

	// type "output"
	Payload  string         `json:"payload,omitempty"`
	Sequence uint64         `json:"sequence,omitempty"`
	ModeTag  string         `json:"modeTag,omitempty"`
	Held     bool           `json:"held,omitempty"`
	Token    string         `json:"token,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Input    map[string]any `json:"input,omitempty"`

	// type "mode"
	Mode string `json:"mode,omitempty"`

	// type "session"
	AgentSessionID string `json:"agentSessionId,omitempty"`

	// type "permission_request" (outbound) / "permission_decision"
	ID       string `json:"id,omitempty"`
	Decision string `json:"decision,omitempty"`
}

// StdioDriver speaks the JSON-lines driver protocol over a reader and
// writer pair, normally the agent process's stdout and stdin. Each
// input line is one event; permission prompts go out as lines and the
// matching decision comes back the same way, correlated by request id.
type StdioDriver struct {
	reader io.Reader
	logger *slog.Logger

	output        chan OutputEvent
	notifications chan Notification

	writeMu sync.Mutex
	encoder *json.Encoder

	pendingMu sync.Mutex
	pending   map[string]chan Decision
	nextID    atomic.Uint64
}

// NewStdio creates a StdioDriver reading events from r and writing
// permission prompts to w. Call Run to start the read loop.
func NewStdio(r io.Reader, w io.Writer, logger *slog.Logger) *StdioDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioDriver{
		reader:        r,
		logger:        logger,
		output:        make(chan OutputEvent, 64),
		notifications: make(chan Notification, 16),
		encoder:       json.NewEncoder(w),
		pending:       make(map[string]chan Decision),
	}
}

// Output implements Driver.
func (d *StdioDriver) Output() <-chan OutputEvent { return d.output }

// Notifications implements Driver.
func (d *StdioDriver) Notifications() <-chan Notification { return d.notifications }

// AskPermission implements Driver. The prompt goes to the agent
// process as a permission_request line; the call blocks until the
// matching permission_decision arrives or ctx is cancelled.
func (d *StdioDriver) AskPermission(ctx context.Context, toolName string, input map[string]any) (Decision, error) {
	id := fmt.Sprintf("perm-%d", d.nextID.Add(1))
	decided := make(chan Decision, 1)

	d.pendingMu.Lock()
	d.pending[id] = decided
	d.pendingMu.Unlock()
	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
	}()

	if err := d.write(stdioLine{Type: "permission_request", ID: id, Tool: toolName, Input: input}); err != nil {
		return Deny, fmt.Errorf("driver: writing permission request: %w", err)
	}

	select {
	case decision := <-decided:
		return decision, nil
	case <-ctx.Done():
		return Deny, ctx.Err()
	}
}

// Run reads events until EOF or a read error. The output and
// notification channels are closed when it returns, which is how
// consumers observe driver shutdown.
func (d *StdioDriver) Run(ctx context.Context) error {
	defer close(d.output)
	defer close(d.notifications)

	scanner := bufio.NewScanner(d.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line stdioLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			d.logger.Warn("dropping malformed driver line", "error", err)
			continue
		}
		if err := d.handle(ctx, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("driver: reading events: %w", err)
	}
	return nil
}

func (d *StdioDriver) handle(ctx context.Context, line stdioLine) error {
	switch line.Type {
	case "output":
		event := OutputEvent{
			Payload:  []byte(line.Payload),
			Sequence: line.Sequence,
			ModeTag:  line.ModeTag,
			Held:     line.Held,
			Token:    line.Token,
		}
		if line.Held {
			event.Permission = &Permission{Tool: line.Tool, Input: line.Input}
		}
		select {
		case d.output <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	case "mode":
		select {
		case d.notifications <- Notification{Mode: line.Mode}:
		case <-ctx.Done():
			return ctx.Err()
		}
	case "session":
		select {
		case d.notifications <- Notification{AgentSessionID: line.AgentSessionID}:
		case <-ctx.Done():
			return ctx.Err()
		}
	case "permission_decision":
		d.resolve(line.ID, line.Decision)
	default:
		d.logger.Warn("dropping unknown driver event", "type", line.Type)
	}
	return nil
}

func (d *StdioDriver) resolve(id, decision string) {
	d.pendingMu.Lock()
	decided, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.pendingMu.Unlock()
	if !ok {
		d.logger.Warn("decision for unknown permission request", "id", id)
		return
	}
	if decision == string(Allow) {
		decided <- Allow
	} else {
		decided <- Deny
	}
}

func (d *StdioDriver) write(line stdioLine) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.encoder.Encode(line)
}
