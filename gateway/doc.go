// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway dispatches session-scoped, encrypted RPC requests.
//
// Each Gateway belongs to one mirrored session: handlers register
// under "<sessionID>:<method>", request parameters arrive sealed
// under the session data key, and results go back the same way. All
// failures surface as structured responses (NotFound, BadParams,
// HandlerFailed) carrying no internal detail; a handler panic is
// contained, never fatal.
//
// Key exports:
//
//   - Gateway, New, Config, Handler
//   - Request, Response, Error, ErrorKind
package gateway
