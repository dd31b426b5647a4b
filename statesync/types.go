// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

// Metadata describes the mirrored session to other devices: enough to
// pick it from a list, nothing the relay needs to read. It crosses the
// wire only inside an encrypted blob.
type Metadata struct {
	// Name is the human-facing session title.
	Name string `cbor:"name,omitempty"`
	// Host is the machine the agent runs on.
	Host string `cbor:"host,omitempty"`
	// Path is the working directory of the agent process.
	Path string `cbor:"path,omitempty"`
	// StartedAt is the session start in Unix milliseconds.
	StartedAt int64 `cbor:"startedAt,omitempty"`
}

// AgentState is the live condition of the agent, mirrored to devices
// through the encrypted state blob and summarized (mode and thinking
// flag only) in plaintext heartbeats.
type AgentState struct {
	// Mode is the operating mode reported by the agent process driver
	// (e.g. "local", "remote").
	Mode string `cbor:"mode,omitempty"`
	// Thinking reports whether the agent is mid-inference.
	Thinking bool `cbor:"thinking"`
	// AgentSessionID is the agent process's own session identifier,
	// assigned by the driver at session start.
	AgentSessionID string `cbor:"agentSessionId,omitempty"`
	// PendingPermissions holds tool-permission requests awaiting a
	// decision, keyed by correlation token.
	PendingPermissions map[string]PermissionRequest `cbor:"pendingPermissions,omitempty"`
}

// PermissionRequest is one tool invocation awaiting approval.
type PermissionRequest struct {
	Tool  string         `cbor:"tool"`
	Input map[string]any `cbor:"input,omitempty"`
}

// Update is a partial, field-level state change. Nil pointer fields
// are left untouched; set fields win over whatever is cached or
// fetched (last writer wins at field granularity).
type Update struct {
	Metadata   *MetadataUpdate
	AgentState *AgentStateUpdate
}

// MetadataUpdate selects metadata fields to overwrite.
type MetadataUpdate struct {
	Name *string
	Host *string
	Path *string
}

// AgentStateUpdate selects agent-state fields to overwrite.
// SetPermissions and ClearPermissions operate per key, so concurrent
// updates touching different permissions never erase each other.
type AgentStateUpdate struct {
	Mode             *string
	Thinking         *bool
	AgentSessionID   *string
	SetPermissions   map[string]PermissionRequest
	ClearPermissions []string
}

// apply merges the update into the given state copies.
func (u Update) apply(metadata *Metadata, agentState *AgentState) {
	if m := u.Metadata; m != nil {
		if m.Name != nil {
			metadata.Name = *m.Name
		}
		if m.Host != nil {
			metadata.Host = *m.Host
		}
		if m.Path != nil {
			metadata.Path = *m.Path
		}
	}
	if a := u.AgentState; a != nil {
		if a.Mode != nil {
			agentState.Mode = *a.Mode
		}
		if a.Thinking != nil {
			agentState.Thinking = *a.Thinking
		}
		if a.AgentSessionID != nil {
			agentState.AgentSessionID = *a.AgentSessionID
		}
		if len(a.SetPermissions) > 0 && agentState.PendingPermissions == nil {
			agentState.PendingPermissions = make(map[string]PermissionRequest)
		}
		for token, request := range a.SetPermissions {
			agentState.PendingPermissions[token] = request
		}
		for _, token := range a.ClearPermissions {
			delete(agentState.PendingPermissions, token)
		}
	}
}

// clone returns deep copies so merges never alias the cached state.
func clone(metadata Metadata, agentState AgentState) (Metadata, AgentState) {
	copied := agentState
	if agentState.PendingPermissions != nil {
		copied.PendingPermissions = make(map[string]PermissionRequest, len(agentState.PendingPermissions))
		for token, request := range agentState.PendingPermissions {
			copied.PendingPermissions[token] = request
		}
	}
	return metadata, copied
}
