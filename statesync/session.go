// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmirror/agentmirror/lib/clock"
	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/relay"
)

// ErrMaxRetriesExceeded is returned by UpdateState when an update
// loses the version race more times than Options.MaxUpdateAttempts
// allows.
var ErrMaxRetriesExceeded = errors.New("statesync: max update retries exceeded")

// RelayAPI is the slice of the relay connection this package uses.
// *relay.Conn satisfies it; tests substitute an in-memory fake.
type RelayAPI interface {
	CreateSession(ctx context.Context, request relay.CreateSessionRequest) (int64, error)
	GetSession(ctx context.Context, sessionID string) (*relay.SessionRecord, error)
	UpdateSession(ctx context.Context, sessionID string, request relay.UpdateSessionRequest) (int64, error)
	Heartbeat(ctx context.Context, sessionID string, request relay.HeartbeatRequest) error
	Connected() bool
}

// Options tunes a Session. The zero value gets sensible defaults.
type Options struct {
	// MaxUpdateAttempts caps how many times one UpdateState call may
	// retry after version conflicts. Defaults to 5.
	MaxUpdateAttempts int
	// HeartbeatInterval is the heartbeat cadence. Defaults to 2s.
	HeartbeatInterval time.Duration
	// RetryBackoffBase is the first conflict-retry delay; it doubles
	// per conflict up to RetryBackoffCap. Defaults to 100ms / 2s.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	// Clock drives retries and heartbeats. Defaults to clock.Real().
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxUpdateAttempts <= 0 {
		o.MaxUpdateAttempts = 5
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 2 * time.Second
	}
	if o.RetryBackoffBase <= 0 {
		o.RetryBackoffBase = 100 * time.Millisecond
	}
	if o.RetryBackoffCap <= 0 {
		o.RetryBackoffCap = 2 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session is the per-session sync client. It caches the decrypted
// state alongside the relay's version and pushes changes through
// optimistic-concurrency updates; the relay only ever sees the sealed
// blobs.
type Session struct {
	id      string
	api     RelayAPI
	dataKey *secret.Buffer
	options Options

	// updateMu serializes UpdateState calls so every submitted
	// expectedVersion reflects a settled view. stateMu guards the
	// cached plaintext and version.
	updateMu sync.Mutex
	stateMu  sync.Mutex

	version    int64
	metadata   Metadata
	agentState AgentState

	heartbeatDone chan struct{}
}

// Create registers a new session with the relay: a fresh random id, a
// fresh random data key wrapped to the machine key, and the initial
// state sealed under the data key.
func Create(ctx context.Context, api RelayAPI, machineKey *secret.Buffer, metadata Metadata, agentState AgentState, options Options) (*Session, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, fmt.Errorf("statesync: generating session id: %w", err)
	}

	dataKey, err := secret.NewRandom(32)
	if err != nil {
		return nil, err
	}

	session := &Session{
		id:         hex.EncodeToString(idBytes),
		api:        api,
		dataKey:    dataKey,
		options:    options.withDefaults(),
		metadata:   metadata,
		agentState: agentState,
	}

	wrappedKey, err := wrapDataKey(machineKey, dataKey)
	if err != nil {
		dataKey.Close()
		return nil, err
	}
	metadataBlob, err := encodeBlob(dataKey, metadata)
	if err != nil {
		dataKey.Close()
		return nil, err
	}
	stateBlob, err := encodeBlob(dataKey, agentState)
	if err != nil {
		dataKey.Close()
		return nil, err
	}

	version, err := api.CreateSession(ctx, relay.CreateSessionRequest{
		ID:                session.id,
		Metadata:          metadataBlob,
		AgentState:        stateBlob,
		DataEncryptionKey: wrappedKey,
	})
	if err != nil {
		dataKey.Close()
		return nil, err
	}
	session.version = version
	return session, nil
}

// Open attaches to an existing session: fetches the record, unwraps
// the data key with the machine key, and decrypts the cached state.
func Open(ctx context.Context, api RelayAPI, machineKey *secret.Buffer, sessionID string, options Options) (*Session, error) {
	record, err := api.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record.DataEncryptionKey == "" {
		return nil, fmt.Errorf("statesync: session %s has no data encryption key", sessionID)
	}
	dataKey, err := unwrapDataKey(machineKey, record.DataEncryptionKey)
	if err != nil {
		return nil, err
	}

	session := &Session{
		id:      sessionID,
		api:     api,
		dataKey: dataKey,
		options: options.withDefaults(),
		version: record.Version,
	}
	if err := decodeBlob(dataKey, record.Metadata, &session.metadata); err != nil {
		dataKey.Close()
		return nil, err
	}
	if err := decodeBlob(dataKey, record.AgentState, &session.agentState); err != nil {
		dataKey.Close()
		return nil, err
	}
	return session, nil
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Version returns the last relay-accepted version.
func (s *Session) Version() int64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.version
}

// Snapshot returns copies of the cached state.
func (s *Session) Snapshot() (Metadata, AgentState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return clone(s.metadata, s.agentState)
}

// DataKey returns the session data key for components (the RPC
// gateway) that seal payloads under it.
func (s *Session) DataKey() *secret.Buffer { return s.dataKey }

// UpdateState merges a partial update into the session state and
// pushes it to the relay under optimistic concurrency. Calls for one
// session are serialized: a second caller waits until the first's
// update settles, so expectedVersion never races.
//
// On a version conflict the relay's current state is adopted, the
// original partial update is re-applied on top (field-level last
// writer wins), and the push retries with capped exponential backoff,
// at most Options.MaxUpdateAttempts times before ErrMaxRetriesExceeded.
func (s *Session) UpdateState(ctx context.Context, update Update) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	backoff := s.options.RetryBackoffBase
	for attempt := 0; attempt < s.options.MaxUpdateAttempts; attempt++ {
		s.stateMu.Lock()
		mergedMetadata, mergedAgentState := clone(s.metadata, s.agentState)
		expectedVersion := s.version
		s.stateMu.Unlock()
		update.apply(&mergedMetadata, &mergedAgentState)

		metadataBlob, err := encodeBlob(s.dataKey, mergedMetadata)
		if err != nil {
			return err
		}
		stateBlob, err := encodeBlob(s.dataKey, mergedAgentState)
		if err != nil {
			return err
		}

		newVersion, err := s.api.UpdateSession(ctx, s.id, relay.UpdateSessionRequest{
			EncryptedMetadata:   metadataBlob,
			EncryptedAgentState: stateBlob,
			ExpectedVersion:     expectedVersion,
		})
		if err == nil {
			s.stateMu.Lock()
			s.metadata = mergedMetadata
			s.agentState = mergedAgentState
			s.version = newVersion
			s.stateMu.Unlock()
			return nil
		}

		var conflict *relay.VersionConflictError
		if !errors.As(err, &conflict) {
			return err
		}

		// Adopt the relay's state; the next iteration re-applies the
		// original partial update on top of it.
		var serverMetadata Metadata
		var serverAgentState AgentState
		if err := decodeBlob(s.dataKey, conflict.Current.Metadata, &serverMetadata); err != nil {
			return err
		}
		if err := decodeBlob(s.dataKey, conflict.Current.AgentState, &serverAgentState); err != nil {
			return err
		}
		s.stateMu.Lock()
		s.metadata = serverMetadata
		s.agentState = serverAgentState
		s.version = conflict.Current.Version
		s.stateMu.Unlock()

		s.options.Logger.Debug("session update conflict, retrying",
			"session", s.id, "attempt", attempt+1, "relayVersion", conflict.Current.Version)

		if attempt < s.options.MaxUpdateAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.options.Clock.After(backoff):
			}
			if backoff *= 2; backoff > s.options.RetryBackoffCap {
				backoff = s.options.RetryBackoffCap
			}
		}
	}
	return ErrMaxRetriesExceeded
}

// SetMode pushes a mode change.
func (s *Session) SetMode(ctx context.Context, mode string) error {
	return s.UpdateState(ctx, Update{AgentState: &AgentStateUpdate{Mode: &mode}})
}

// SetThinking pushes the thinking flag.
func (s *Session) SetThinking(ctx context.Context, thinking bool) error {
	return s.UpdateState(ctx, Update{AgentState: &AgentStateUpdate{Thinking: &thinking}})
}

// SetAgentSessionID records the driver-assigned agent session id.
func (s *Session) SetAgentSessionID(ctx context.Context, agentSessionID string) error {
	return s.UpdateState(ctx, Update{AgentState: &AgentStateUpdate{AgentSessionID: &agentSessionID}})
}

// Close stops the heartbeat (if running) and releases the data key.
func (s *Session) Close() error {
	s.stateMu.Lock()
	done := s.heartbeatDone
	s.stateMu.Unlock()
	if done != nil {
		<-done
	}
	return s.dataKey.Close()
}
