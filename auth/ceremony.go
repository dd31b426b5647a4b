// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/agentmirror/agentmirror/lib/credstore"
	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/relay"
	"github.com/agentmirror/agentmirror/seal"
)

// State tracks the ceremony's progress. The machine only moves
// forward; any protocol violation lands in StateFailed, which is
// terminal for this Ceremony instance.
type State int

const (
	StateIdle State = iota
	StateKeyGenerated
	StateRequestSent
	StateChallengeReceived
	StateSigned
	StateTokenReceived
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeyGenerated:
		return "key-generated"
	case StateRequestSent:
		return "request-sent"
	case StateChallengeReceived:
		return "challenge-received"
	case StateSigned:
		return "signed"
	case StateTokenReceived:
		return "token-received"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrorKind classifies terminal ceremony failures.
type ErrorKind int

const (
	// KindInvalidResponse means the relay's sealed response could not
	// be opened or parsed: the response was corrupted or adversarial.
	KindInvalidResponse ErrorKind = iota
	// KindRejected means the relay refused the signed challenge.
	KindRejected
)

// Error is a terminal ceremony failure. The ephemeral material behind
// it is discarded; recovery means running a fresh Ceremony from
// scratch, never retrying with the same keys.
type Error struct {
	Kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidResponse:
		return fmt.Sprintf("auth: invalid relay response: %v", e.cause)
	case KindRejected:
		return fmt.Sprintf("auth: relay rejected the signed challenge: %v", e.cause)
	default:
		return fmt.Sprintf("auth: failure (%d): %v", int(e.Kind), e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// responsePayload is the plaintext inside the relay's sealed auth
// response: either a reusable account secret, or an explicit
// (publicKey, derivedKey) pair for accounts provisioned elsewhere.
type responsePayload struct {
	Secret     string `json:"secret,omitempty"`
	PublicKey  string `json:"publicKey,omitempty"`
	DerivedKey string `json:"derivedKey,omitempty"`
}

// Ceremony is a single-use challenge-response authentication run. A
// Ceremony that fails is discarded; create a new one to try again so
// no ephemeral material is ever reused.
type Ceremony struct {
	client *relay.Client
	logger *slog.Logger
	state  State
}

// NewCeremony creates a ceremony against the given relay client.
func NewCeremony(client *relay.Client, logger *slog.Logger) *Ceremony {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ceremony{client: client, logger: logger, state: StateIdle}
}

// State returns the ceremony's current state.
func (c *Ceremony) State() State { return c.state }

// Run executes the ceremony. Transport errors are returned as-is and
// may be retried by running a new Ceremony; *Error values are
// cryptographic or protocol failures and must not be retried with the
// same material (Run discards it regardless).
func (c *Ceremony) Run(ctx context.Context) (*credstore.Credentials, error) {
	if c.state != StateIdle {
		return nil, fmt.Errorf("auth: ceremony already ran (state %s)", c.state)
	}

	ephemeralPublic, ephemeralPrivate, err := seal.GenerateBoxKeypair()
	if err != nil {
		c.state = StateFailed
		return nil, err
	}
	defer zeroKey(ephemeralPrivate)
	c.state = StateKeyGenerated

	c.state = StateRequestSent
	response, err := c.client.AuthRequest(ctx, ephemeralPublic[:])
	if err != nil {
		c.state = StateFailed
		return nil, err
	}
	c.state = StateChallengeReceived

	machineKey, err := c.openResponse(response.Response, ephemeralPrivate)
	if err != nil {
		c.state = StateFailed
		return nil, err
	}

	publicKey, privateKey, err := seal.SigningKeypairFromSecret(machineKey)
	if err != nil {
		machineKey.Close()
		c.state = StateFailed
		return nil, &Error{Kind: KindInvalidResponse, cause: err}
	}

	challenge, err := base64.StdEncoding.DecodeString(response.Challenge)
	if err != nil {
		machineKey.Close()
		c.state = StateFailed
		return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("decoding challenge: %w", err)}
	}
	signature := seal.Sign(challenge, privateKey)
	c.state = StateSigned

	verifyResponse, err := c.client.AuthVerify(ctx, relay.AuthVerifyRequest{
		Challenge: response.Challenge,
		PublicKey: base64.StdEncoding.EncodeToString(publicKey),
		Signature: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		machineKey.Close()
		c.state = StateFailed
		if relay.IsRelayError(err, relay.CodeAuthRejected) {
			return nil, &Error{Kind: KindRejected, cause: err}
		}
		return nil, err
	}

	token, err := secret.NewFromBytes([]byte(verifyResponse.Token))
	if err != nil {
		machineKey.Close()
		c.state = StateFailed
		return nil, err
	}

	c.state = StateTokenReceived
	c.logger.Info("auth ceremony complete")
	return &credstore.Credentials{
		Token:      token,
		PublicKey:  publicKey,
		MachineKey: machineKey,
	}, nil
}

// openResponse decrypts the relay's sealed response and extracts the
// account secret from either accepted payload shape.
func (c *Ceremony) openResponse(sealedResponse string, ephemeralPrivate *[seal.KeySize]byte) (*secret.Buffer, error) {
	envelope, err := base64.StdEncoding.DecodeString(sealedResponse)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("decoding response envelope: %w", err)}
	}
	plaintext, err := seal.DecryptFromPublicKey(envelope, ephemeralPrivate)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, cause: err}
	}
	defer zeroBytes(plaintext)

	var payload responsePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("parsing response payload: %w", err)}
	}

	encodedSecret := payload.Secret
	if encodedSecret == "" {
		encodedSecret = payload.DerivedKey
	}
	if encodedSecret == "" {
		return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("response payload has no key material")}
	}
	secretBytes, err := base64.StdEncoding.DecodeString(encodedSecret)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("decoding key material: %w", err)}
	}
	machineKey, err := secret.NewFromBytes(secretBytes)
	if err != nil {
		return nil, err
	}

	// When the relay supplies an explicit public key alongside a
	// derived key, the pair must be self-consistent.
	if payload.DerivedKey != "" && payload.PublicKey != "" {
		expectedPublic, err := base64.StdEncoding.DecodeString(payload.PublicKey)
		if err != nil {
			machineKey.Close()
			return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("decoding payload public key: %w", err)}
		}
		derivedPublic, _, err := seal.SigningKeypairFromSecret(machineKey)
		if err != nil {
			machineKey.Close()
			return nil, &Error{Kind: KindInvalidResponse, cause: err}
		}
		if !derivedPublic.Equal(ed25519.PublicKey(expectedPublic)) {
			machineKey.Close()
			return nil, &Error{Kind: KindInvalidResponse, cause: fmt.Errorf("payload public key does not match derived key")}
		}
	}
	return machineKey, nil
}

func zeroKey(key *[seal.KeySize]byte) {
	for i := range key {
		key[i] = 0
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
