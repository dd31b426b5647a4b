// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore persists the install's relay credentials: the
// bearer token, the signing public key, and the machine key. Writes
// are atomic (temp file, fsync, rename) so a crash never leaves a torn
// file, and the legacy single-secret file shape from older installs is
// migrated transparently on load.
//
// [Export] and [Import] move credentials between machines as
// passphrase-protected age bundles.
package credstore
