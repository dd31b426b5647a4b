// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver defines the boundary between the mirroring core and
// the local agent process. The core never spawns or speaks to the
// agent directly; a Driver implementation supplies sequenced output
// events, lifecycle notifications, and the permission prompt.
//
// StdioDriver is the reference implementation: it speaks a JSON-lines
// protocol over the agent process's stdio, with permission prompts
// correlated by request id.
//
// Key exports:
//
//   - Driver, OutputEvent, Notification, Permission
//   - Decision, Allow, Deny
//   - StdioDriver, NewStdio
package driver
