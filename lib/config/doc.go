// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the daemon configuration from a single YAML
// file. There is no automatic discovery and no environment-variable
// overrides: the file passed on the command line is the whole truth.
//
// Key exports:
//
//   - Config, Default, LoadFile
package config
