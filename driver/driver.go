// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import "context"

// Decision is the outcome of a permission request.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// OutputEvent is one message produced by the agent process. Sequence
// numbers start at 0 and increase by one per event. Held events carry
// the correlation token of the permission request blocking them.
type OutputEvent struct {
	Payload  []byte
	Sequence uint64
	ModeTag  string
	// Held marks an event awaiting a permission decision.
	Held bool
	// Token correlates a held event with its permission request.
	Token string
	// Permission describes the tool invocation awaiting approval.
	// Set only on held events.
	Permission *Permission
}

// Permission describes one tool invocation awaiting approval.
type Permission struct {
	Tool  string
	Input map[string]any
}

// Notification reports a driver-side lifecycle change.
type Notification struct {
	// Mode is set when the agent's operating mode changed.
	Mode string
	// AgentSessionID is set once, when the agent process assigns its
	// own session identifier at startup.
	AgentSessionID string
}

// Driver is the boundary to the local agent process. The mirroring
// core consumes its output and notifications and calls AskPermission
// when a mirrored device must approve a tool invocation.
//
// Output and Notifications are closed when the driver shuts down.
type Driver interface {
	// AskPermission requests a decision for one tool invocation. It
	// blocks until the driver resolves it or ctx is cancelled. An
	// error means no decision was obtained and callers must treat
	// the request as denied.
	AskPermission(ctx context.Context, toolName string, input map[string]any) (Decision, error)

	// Output streams the agent's messages in sequence order.
	Output() <-chan OutputEvent

	// Notifications streams mode transitions and the session-id
	// assignment.
	Notifications() <-chan Notification
}
