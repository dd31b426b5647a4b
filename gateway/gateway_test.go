// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/lib/testutil"
	"github.com/agentmirror/agentmirror/seal"
)

type responseRecorder struct {
	mu        sync.Mutex
	responses []Response
}

func (r *responseRecorder) send(ctx context.Context, response Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response)
	return nil
}

func (r *responseRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

func (r *responseRecorder) last() Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responses[len(r.responses)-1]
}

type testGateway struct {
	*Gateway
	key      *secret.Buffer
	recorder *responseRecorder
}

func newTestGateway(t *testing.T, sessionID string) *testGateway {
	t.Helper()
	key, err := secret.NewRandom(32)
	if err != nil {
		t.Fatalf("generating data key: %v", err)
	}
	t.Cleanup(func() { key.Close() })

	recorder := &responseRecorder{}
	g, err := New(Config{SessionID: sessionID, DataKey: key, Send: recorder.send})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testGateway{Gateway: g, key: key, recorder: recorder}
}

// sealedParams builds a params envelope the way a caller would.
func (g *testGateway) sealedParams(t *testing.T, plaintext string) string {
	t.Helper()
	envelope, err := seal.Encrypt(g.key, seal.VariantAESGCM, []byte(plaintext))
	if err != nil {
		t.Fatalf("seal.Encrypt() error: %v", err)
	}
	return seal.EncodeEnvelope(seal.VariantAESGCM, envelope)
}

func (g *testGateway) openResult(t *testing.T, response Response) string {
	t.Helper()
	if response.Error != nil {
		t.Fatalf("response carries error %+v", response.Error)
	}
	variant, envelope, err := seal.DecodeEnvelope(response.Result)
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if variant != seal.VariantAESGCM {
		t.Fatalf("result variant = %v, want aes-gcm", variant)
	}
	plaintext, err := seal.Decrypt(g.key, variant, envelope)
	if err != nil {
		t.Fatalf("seal.Decrypt() error: %v", err)
	}
	return string(plaintext)
}

func TestGateway_RoundTrip(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, "session-1")

	err := g.Register("echo", func(ctx context.Context, params []byte) ([]byte, error) {
		return append([]byte("echo: "), params...), nil
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	g.HandleRequest(ctx, Request{
		ID:     "req-1",
		Method: "session-1:echo",
		Params: g.sealedParams(t, "hello"),
	})
	testutil.Eventually(t, func() bool { return g.recorder.count() == 1 },
		5*time.Second, "waiting for rpc response")

	response := g.recorder.last()
	if response.ID != "req-1" {
		t.Errorf("response id = %q", response.ID)
	}
	if got := g.openResult(t, response); got != "echo: hello" {
		t.Errorf("result = %q, want %q", got, "echo: hello")
	}
}

func TestGateway_CrossSessionScopeIsNotFound(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, "session-x")

	invoked := false
	if err := g.Register("approve", func(ctx context.Context, params []byte) ([]byte, error) {
		invoked = true
		return nil, nil
	}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// Same method name, different session scope: must not dispatch.
	g.HandleRequest(ctx, Request{
		ID:     "req-1",
		Method: "session-y:approve",
		Params: g.sealedParams(t, "{}"),
	})
	testutil.Eventually(t, func() bool { return g.recorder.count() == 1 },
		5*time.Second, "waiting for error response")

	response := g.recorder.last()
	if response.Error == nil || response.Error.Kind != KindNotFound {
		t.Fatalf("response = %+v, want NotFound error", response)
	}
	if invoked {
		t.Error("handler ran for a request scoped to another session")
	}
}

func TestGateway_UndecryptableParamsIsBadParams(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, "session-1")

	if err := g.Register("echo", func(ctx context.Context, params []byte) ([]byte, error) {
		return params, nil
	}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	otherKey, err := secret.NewRandom(32)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	defer otherKey.Close()
	envelope, err := seal.Encrypt(otherKey, seal.VariantAESGCM, []byte("spoofed"))
	if err != nil {
		t.Fatalf("seal.Encrypt() error: %v", err)
	}

	g.HandleRequest(ctx, Request{
		ID:     "req-1",
		Method: "session-1:echo",
		Params: seal.EncodeEnvelope(seal.VariantAESGCM, envelope),
	})
	testutil.Eventually(t, func() bool { return g.recorder.count() == 1 },
		5*time.Second, "waiting for error response")

	response := g.recorder.last()
	if response.Error == nil || response.Error.Kind != KindBadParams {
		t.Fatalf("response = %+v, want BadParams error", response)
	}
}

func TestGateway_HandlerErrorAndPanicAreContained(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, "session-1")

	if err := g.Register("fail", func(ctx context.Context, params []byte) ([]byte, error) {
		return nil, fmt.Errorf("database password is hunter2")
	}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := g.Register("explode", func(ctx context.Context, params []byte) ([]byte, error) {
		panic("boom at /internal/path/secret.go:42")
	}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	for i, method := range []string{"session-1:fail", "session-1:explode"} {
		g.HandleRequest(ctx, Request{
			ID:     fmt.Sprintf("req-%d", i),
			Method: method,
			Params: g.sealedParams(t, "{}"),
		})
	}
	testutil.Eventually(t, func() bool { return g.recorder.count() == 2 },
		5*time.Second, "waiting for error responses")

	g.recorder.mu.Lock()
	defer g.recorder.mu.Unlock()
	for _, response := range g.recorder.responses {
		if response.Error == nil || response.Error.Kind != KindHandlerFailed {
			t.Fatalf("response = %+v, want HandlerFailed error", response)
		}
		if response.Error.Message != "handler failed" {
			t.Errorf("error message %q leaks internal detail", response.Error.Message)
		}
	}
}

func TestGateway_RegisterValidation(t *testing.T) {
	g := newTestGateway(t, "session-1")

	noop := func(ctx context.Context, params []byte) ([]byte, error) { return nil, nil }
	if err := g.Register("approve", noop); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := g.Register("approve", noop); err == nil {
		t.Error("duplicate registration succeeded")
	}
	if err := g.Register("bad:name", noop); err == nil {
		t.Error("method name with scope separator accepted")
	}
	if err := g.Register("", noop); err == nil {
		t.Error("empty method name accepted")
	}
	if err := g.Register("nilhandler", nil); err == nil {
		t.Error("nil handler accepted")
	}
}
