// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/agentmirror/agentmirror/lib/credstore"
	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/relay"
	"github.com/agentmirror/agentmirror/seal"
)

// Login authenticates with an existing machine key, typically one
// recovered from a backup phrase. Unlike a Ceremony it provisions
// nothing: the relay recognizes the signing key derived from
// machineKey, issues a challenge, and returns a fresh token for the
// signed answer.
//
// Login does not take ownership of machineKey; the returned
// Credentials hold their own copy.
func Login(ctx context.Context, client *relay.Client, machineKey *secret.Buffer, logger *slog.Logger) (*credstore.Credentials, error) {
	if logger == nil {
		logger = slog.Default()
	}

	publicKey, privateKey, err := seal.SigningKeypairFromSecret(machineKey)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, cause: err}
	}

	response, err := client.AuthRequest(ctx, publicKey)
	if err != nil {
		return nil, err
	}

	challenge, err := base64.StdEncoding.DecodeString(response.Challenge)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, cause: err}
	}
	signature := seal.Sign(challenge, privateKey)

	verifyResponse, err := client.AuthVerify(ctx, relay.AuthVerifyRequest{
		Challenge: response.Challenge,
		PublicKey: base64.StdEncoding.EncodeToString(publicKey),
		Signature: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		if relay.IsRelayError(err, relay.CodeAuthRejected) {
			return nil, &Error{Kind: KindRejected, cause: err}
		}
		return nil, err
	}

	token, err := secret.NewFromBytes([]byte(verifyResponse.Token))
	if err != nil {
		return nil, err
	}
	keyCopy, err := secret.NewFromBytes(append([]byte(nil), machineKey.Bytes()...))
	if err != nil {
		token.Close()
		return nil, err
	}

	logger.Info("login complete")
	return &credstore.Credentials{
		Token:      token,
		PublicKey:  publicKey,
		MachineKey: keyCopy,
	}, nil
}
