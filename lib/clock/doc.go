// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects [Real]; tests inject [Fake] and drive it with
// [FakeClock.Advance] for deterministic heartbeat, backoff, and
// timeout behavior.
package clock
