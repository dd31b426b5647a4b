// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/agentmirror/agentmirror/lib/secret"
)

// Export seals the credentials into a passphrase-protected age bundle
// for moving an install to another machine. The passphrase is
// stretched with scrypt by age; the output is safe to store or mail.
func Export(credentials *Credentials, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("credstore: export passphrase must not be empty")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating scrypt recipient: %w", err)
	}

	plaintext, err := json.Marshal(credentialFile{
		Token: credentials.Token.String(),
		Encryption: &credentialEncryption{
			PublicKey:  base64.StdEncoding.EncodeToString(credentials.PublicKey),
			MachineKey: base64.StdEncoding.EncodeToString(credentials.MachineKey.Bytes()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: encoding bundle: %w", err)
	}
	defer func() {
		for i := range plaintext {
			plaintext[i] = 0
		}
	}()

	var sealedBundle bytes.Buffer
	writer, err := age.Encrypt(&sealedBundle, recipient)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("credstore: sealing bundle: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("credstore: finalizing bundle: %w", err)
	}
	return sealedBundle.Bytes(), nil
}

// Import opens a bundle produced by Export.
func Import(bundle []byte, passphrase string) (*Credentials, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(bundle), identity)
	if err != nil {
		return nil, fmt.Errorf("credstore: opening bundle: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("credstore: reading bundle: %w", err)
	}
	defer func() {
		for i := range plaintext {
			plaintext[i] = 0
		}
	}()

	var file credentialFile
	if err := json.Unmarshal(plaintext, &file); err != nil {
		return nil, fmt.Errorf("credstore: parsing bundle: %w", err)
	}
	if file.Token == "" || file.Encryption == nil {
		return nil, fmt.Errorf("credstore: bundle is incomplete")
	}

	token, err := secret.NewFromBytes([]byte(file.Token))
	if err != nil {
		return nil, err
	}
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
}
