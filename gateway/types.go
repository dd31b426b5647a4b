// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

// Request is one incoming RPC call. Method carries the session scope
// ("<sessionID>:<name>") and Params is a seal string envelope sealed
// under the session data key.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params string `json:"params"`
}

// Response answers one Request: either a sealed result envelope or a
// structured error, never both.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// ErrorKind classifies RPC failures for the caller.
type ErrorKind string

const (
	// KindNotFound means no handler is registered under the request's
	// session-scoped method name.
	KindNotFound ErrorKind = "NotFound"
	// KindBadParams means the parameter envelope did not decrypt.
	KindBadParams ErrorKind = "BadParams"
	// KindHandlerFailed means the handler returned an error or
	// panicked. The message is generic; details stay in the log.
	KindHandlerFailed ErrorKind = "HandlerFailed"
)

// Error is the structured error half of a Response.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
