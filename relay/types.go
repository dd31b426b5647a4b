// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "encoding/json"

// Frame is one realtime message exchanged over the relay connection.
// Body is opaque to the relay: anything sensitive inside it is a
// base64-wrapped seal envelope.
type Frame struct {
	// Type routes the frame to a registered handler
	// (e.g. "rpc-request", "rpc-response", "message-batch").
	Type string `json:"type"`

	// SessionID scopes the frame to one mirrored session.
	SessionID string `json:"sessionId"`

	// Body is the frame payload.
	Body json.RawMessage `json:"body,omitempty"`
}

// SessionRecord is the relay's view of a session: an opaque id, a
// monotonically increasing version, and encrypted state blobs the
// relay stores without being able to read.
type SessionRecord struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`

	// Metadata and AgentState are base64-wrapped seal envelopes.
	Metadata   string `json:"metadata"`
	AgentState string `json:"agentState"`

	// DataEncryptionKey, when present, is the session data key sealed
	// to the account key (base64-wrapped envelope).
	DataEncryptionKey string `json:"dataEncryptionKey,omitempty"`
}

// CreateSessionRequest registers a new session with the relay.
type CreateSessionRequest struct {
	ID                string `json:"id"`
	Metadata          string `json:"metadata"`
	AgentState        string `json:"agentState"`
	DataEncryptionKey string `json:"dataEncryptionKey,omitempty"`
}

// UpdateSessionRequest submits new encrypted state under optimistic
// concurrency: the relay accepts it only if the stored version still
// equals ExpectedVersion.
type UpdateSessionRequest struct {
	EncryptedMetadata   string `json:"encryptedMetadata"`
	EncryptedAgentState string `json:"encryptedAgentState"`
	ExpectedVersion     int64  `json:"expectedVersion"`
}

// UpdateSessionResponse carries the version the relay assigned to an
// accepted update.
type UpdateSessionResponse struct {
	Version int64 `json:"version"`
}

// HeartbeatRequest is the fire-and-forget liveness beacon. All fields
// are intentionally low-sensitivity; the detailed state lives in the
// encrypted session blobs.
type HeartbeatRequest struct {
	Mode           string `json:"mode"`
	Thinking       bool   `json:"thinking"`
	AgentSessionID string `json:"agentSessionId,omitempty"`
}

// AuthRequestResponse is the relay's answer to the opening auth
// request: a public-key envelope holding the account material, and a
// random challenge to be signed with the recovered secret.
type AuthRequestResponse struct {
	// Response is a base64 public-key envelope sealed to the
	// ephemeral key the client sent.
	Response string `json:"response"`

	// Challenge is base64 random bytes the client must sign.
	Challenge string `json:"challenge"`
}

// AuthVerifyRequest completes the ceremony: the signed challenge plus
// the signing public key the relay should verify against.
type AuthVerifyRequest struct {
	Challenge string `json:"challenge"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// AuthVerifyResponse carries the bearer token for an accepted
// ceremony.
type AuthVerifyResponse struct {
	Token string `json:"token"`
}

// pollResponse is one long-poll result: the cursor to resume from and
// any frames that arrived.
type pollResponse struct {
	Next   string  `json:"next"`
	Frames []Frame `json:"frames"`
}
