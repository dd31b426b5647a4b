// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package order sequences agent output for delivery.
//
// Two disciplines share the package:
//
//   - Batcher groups outbound messages into batches that never mix
//     operating modes. A mode change seals the batch, and so does the
//     sender going idle, so output flows as it arrives; batches are
//     sent one at a time, in seal order.
//   - Releaser emits sequenced replies in strict numeric order. A
//     reply awaiting a permission decision is held, blocking
//     everything behind it, until EarlyRelease resolves it by
//     correlation token or the hold timeout converts it to a denial.
//
// Key exports:
//
//   - Batcher, NewBatcher, SendFunc, Batch
//   - Releaser, NewReleaser, Reply, DefaultHoldTimeout
package order
