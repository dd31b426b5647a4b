// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the challenge-response ceremony that turns a
// fresh install into an authenticated relay client.
//
// The flow: generate an ephemeral X25519 keypair, send its public half
// to the relay, open the sealed response to recover the account
// secret, sign the relay's random challenge with the Ed25519 keypair
// derived from that secret, and exchange the signature for a bearer
// token. The relay never sees the secret: only the sealed envelope and
// the signature cross the wire.
//
// A [Ceremony] is single-use. Transport failures may be retried by
// running a new ceremony; cryptographic failures ([Error]) indicate a
// corrupted or adversarial response and the material behind them is
// always discarded.
//
// [Login] is the returning-machine variant: it skips provisioning and
// signs the challenge with an existing machine key, typically one
// recovered from a backup phrase.
package auth
