// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/seal"
)

// Credentials is the material produced by the auth ceremony and
// consumed by everything that talks to the relay. Token and MachineKey
// live in protected buffers; PublicKey is safe to publish.
type Credentials struct {
	// Token is the relay bearer token.
	Token *secret.Buffer

	// PublicKey is the 32-byte Ed25519 signing public key.
	PublicKey []byte

	// MachineKey is the 32-byte account secret from which the signing
	// keypair and all session keys derive.
	MachineKey *secret.Buffer
}

// Close releases the protected buffers. Idempotent.
func (c *Credentials) Close() error {
	var firstErr error
	if c.Token != nil {
		firstErr = c.Token.Close()
	}
	if c.MachineKey != nil {
		if err := c.MachineKey.Close(); firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// credentialFile is the on-disk shape. The legacy shape predates the
// split into public key and machine key and stored a single secret.
type credentialFile struct {
	Token      string                `json:"token"`
	Encryption *credentialEncryption `json:"encryption,omitempty"`

	// Secret is the legacy field. Present only in files written by
	// old installs; migrated to the current shape on load.
	Secret string `json:"secret,omitempty"`
}

type credentialEncryption struct {
	PublicKey  string `json:"publicKey"`
	MachineKey string `json:"machineKey"`
}

// Save persists credentials atomically: the file is written to a
// temporary path in the same directory, synced, and renamed into
// place, so a crash never leaves a torn credential file.
func Save(path string, credentials *Credentials) error {
	if credentials.Token == nil || credentials.MachineKey == nil {
		return fmt.Errorf("credstore: credentials are incomplete")
	}

	payload, err := json.MarshalIndent(credentialFile{
		Token: credentials.Token.String(),
		Encryption: &credentialEncryption{
			PublicKey:  base64.StdEncoding.EncodeToString(credentials.PublicKey),
			MachineKey: base64.StdEncoding.EncodeToString(credentials.MachineKey.Bytes()),
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("credstore: creating credential directory: %w", err)
	}

	temp := path + ".tmp"
	file, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}
	if _, err := file.Write(payload); err != nil {
		file.Close()
		os.Remove(temp)
		return fmt.Errorf("credstore: writing credentials: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temp)
		return fmt.Errorf("credstore: syncing credentials: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temp)
		return fmt.Errorf("credstore: closing temp file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("credstore: renaming credentials into place: %w", err)
	}
	return nil
}

// Load reads credentials from disk. Files in the legacy single-secret
// shape are migrated in memory: the secret becomes the machine key and
// the public key is re-derived from it. The migrated shape is not
// written back until the next Save.
func Load(path string) (*Credentials, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", path, err)
	}

	var file credentialFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("credstore: parsing %s: %w", path, err)
	}
	if file.Token == "" {
		return nil, fmt.Errorf("credstore: %s has no token", path)
	}

	token, err := secret.NewFromBytes([]byte(file.Token))
	if err != nil {
		return nil, err
	}

	switch {
	case file.Encryption != nil:
		publicKey, err := base64.StdEncoding.DecodeString(file.Encryption.PublicKey)
		if err != nil {
			token.Close()
			return nil, fmt.Errorf("credstore: decoding public key: %w", err)
		}
		machineKeyBytes, err := base64.StdEncoding.DecodeString(file.Encryption.MachineKey)
		if err != nil {
			token.Close()
			return nil, fmt.Errorf("credstore: decoding machine key: %w", err)
		}
		machineKey, err := secret.NewFromBytes(machineKeyBytes)
		if err != nil {
			token.Close()
			return nil, err
		}
		return &Credentials{Token: token, PublicKey: publicKey, MachineKey: machineKey}, nil

	case file.Secret != "":
		secretBytes, err := base64.StdEncoding.DecodeString(file.Secret)
		if err != nil {
			token.Close()
			return nil, fmt.Errorf("credstore: decoding legacy secret: %w", err)
		}
		machineKey, err := secret.NewFromBytes(secretBytes)
		if err != nil {
			token.Close()
			return nil, err
		}
		publicKey, _, err := seal.SigningKeypairFromSecret(machineKey)
		if err != nil {
			token.Close()
			machineKey.Close()
			return nil, fmt.Errorf("credstore: migrating legacy secret: %w", err)
		}
		return &Credentials{Token: token, PublicKey: publicKey, MachineKey: machineKey}, nil

	default:
		token.Close()
		return nil, fmt.Errorf("credstore: %s has no key material", path)
	}
}
