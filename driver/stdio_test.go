// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentmirror/agentmirror/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStdioDriver_Events(t *testing.T) {
	ctx := context.Background()
	input := strings.Join([]string{
		`{"type":"session","agentSessionId":"agent-42"}`,
		`{"type":"output","payload":"hello","sequence":0,"modeTag":"local"}`,
		`{"type":"mode","mode":"remote"}`,
		`not json at all`,
		`{"type":"output","payload":"rm -rf /tmp/x","sequence":1,"modeTag":"remote","held":true,"token":"call-9","tool":"bash","input":{"command":"rm -rf /tmp/x"}}`,
	}, "\n") + "\n"

	d := NewStdio(strings.NewReader(input), io.Discard, testLogger())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	note := testutil.RequireReceive(t, d.Notifications(), 5*time.Second, "session notification")
	if note.AgentSessionID != "agent-42" {
		t.Errorf("notification = %+v", note)
	}

	first := testutil.RequireReceive(t, d.Output(), 5*time.Second, "first output event")
	if string(first.Payload) != "hello" || first.Sequence != 0 || first.ModeTag != "local" || first.Held {
		t.Errorf("first event = %+v", first)
	}

	note = testutil.RequireReceive(t, d.Notifications(), 5*time.Second, "mode notification")
	if note.Mode != "remote" {
		t.Errorf("notification = %+v", note)
	}

	held := testutil.RequireReceive(t, d.Output(), 5*time.Second, "held output event")
	if !held.Held || held.Token != "call-9" {
		t.Errorf("held event = %+v", held)
	}
	if held.Permission == nil || held.Permission.Tool != "bash" {
		t.Errorf("held permission = %+v", held.Permission)
	}

	if err := testutil.RequireReceive(t, runErr, 5*time.Second, "Run return"); err != nil {
		t.Errorf("Run() error: %v", err)
	}
	select {
	case _, ok := <-d.Output():
		if ok {
			t.Error("output channel received an extra event after EOF")
		}
	case <-time.After(5 * time.Second):
		t.Error("output channel not closed after Run returned")
	}
}

func TestStdioDriver_AskPermission(t *testing.T) {
	ctx := context.Background()
	agentIn, driverReads := io.Pipe()
	var prompts bytes.Buffer
	var promptsMu sync.Mutex

	d := NewStdio(agentIn, syncWriter{&promptsMu, &prompts}, testLogger())
	go d.Run(ctx)

	type result struct {
		decision Decision
		err      error
	}
	got := make(chan result, 1)
	go func() {
		decision, err := d.AskPermission(ctx, "bash", map[string]any{"command": "ls"})
		got <- result{decision, err}
	}()

	// Wait for the prompt line, then answer it by id.
	var prompt stdioLine
	testutil.Eventually(t, func() bool {
		promptsMu.Lock()
		defer promptsMu.Unlock()
		if prompts.Len() == 0 {
			return false
		}
		return json.Unmarshal(bytes.TrimSpace(prompts.Bytes()), &prompt) == nil
	}, 5*time.Second, "waiting for permission prompt")
	if prompt.Type != "permission_request" || prompt.Tool != "bash" || prompt.ID == "" {
		t.Fatalf("prompt = %+v", prompt)
	}

	answer, _ := json.Marshal(stdioLine{Type: "permission_decision", ID: prompt.ID, Decision: "allow"})
	if _, err := driverReads.Write(append(answer, '\n')); err != nil {
		t.Fatalf("writing decision: %v", err)
	}

	r := testutil.RequireReceive(t, got, 5*time.Second, "permission result")
	if r.err != nil || r.decision != Allow {
		t.Fatalf("AskPermission() = %v, %v, want Allow", r.decision, r.err)
	}
	driverReads.Close()
}

func TestStdioDriver_AskPermissionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewStdio(strings.NewReader(""), io.Discard, testLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	decision, err := d.AskPermission(ctx, "bash", nil)
	if err == nil {
		t.Fatal("AskPermission() succeeded without a decision")
	}
	if decision != Deny {
		t.Errorf("decision = %v, want Deny on cancellation", decision)
	}
}

type syncWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
