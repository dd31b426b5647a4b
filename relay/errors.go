// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"fmt"
)

// RelayError represents a structured error response from the relay.
// Callers extract it with errors.As:
//
//	var relayErr *relay.RelayError
//	if errors.As(err, &relayErr) && relayErr.Code == relay.CodeNotFound { ... }
type RelayError struct {
	// Code is the relay error code (e.g. "NOT_FOUND").
	Code string `json:"code"`
	// Message is the human-readable description from the relay.
	Message string `json:"message"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Relay error codes.
const (
	CodeAuthRejected    = "AUTH_REJECTED"
	CodeNotFound        = "NOT_FOUND"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnknownToken    = "UNKNOWN_TOKEN"
)

// IsRelayError reports whether err is a *RelayError with the given code.
func IsRelayError(err error, code string) bool {
	var relayErr *RelayError
	return errors.As(err, &relayErr) && relayErr.Code == code
}

// VersionConflictError is returned by UpdateSession when the expected
// version no longer matches. Current holds the relay's present record
// so the caller can re-merge and retry without an extra fetch.
type VersionConflictError struct {
	Current SessionRecord
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("relay: version conflict, relay is at version %d", e.Current.Version)
}
