// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by tests across the
// module: timeout-guarded channel operations and condition polling.
package testutil
