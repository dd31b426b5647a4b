// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/seal"
)

func newTestCredentials(t *testing.T) *Credentials {
	t.Helper()
	machineKey, err := secret.NewRandom(32)
	if err != nil {
		t.Fatalf("generating machine key: %v", err)
	}
	publicKey, _, err := seal.SigningKeypairFromSecret(machineKey)
	if err != nil {
		t.Fatalf("deriving keypair: %v", err)
	}
	token, err := secret.NewFromBytes([]byte("bearer-xyz"))
	if err != nil {
		t.Fatalf("creating token: %v", err)
	}
	credentials := &Credentials{Token: token, PublicKey: publicKey, MachineKey: machineKey}
	t.Cleanup(func() { credentials.Close() })
	return credentials
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	credentials := newTestCredentials(t)

	if err := Save(path, credentials); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("credential file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	defer loaded.Close()

	if !loaded.Token.Equal(credentials.Token.Bytes()) {
		t.Error("token changed across save/load")
	}
	if !loaded.MachineKey.Equal(credentials.MachineKey.Bytes()) {
		t.Error("machine key changed across save/load")
	}
	if base64.StdEncoding.EncodeToString(loaded.PublicKey) != base64.StdEncoding.EncodeToString(credentials.PublicKey) {
		t.Error("public key changed across save/load")
	}
}

func TestLoad_LegacyShape(t *testing.T) {
	machineKey, err := secret.NewRandom(32)
	if err != nil {
		t.Fatalf("generating secret: %v", err)
	}
	defer machineKey.Close()
	wantPublic, _, err := seal.SigningKeypairFromSecret(machineKey)
	if err != nil {
		t.Fatalf("deriving keypair: %v", err)
	}

	path := filepath.Join(t.TempDir(), "credentials.json")
	legacy, err := json.Marshal(map[string]string{
		"token":  "legacy-token",
		"secret": base64.StdEncoding.EncodeToString(machineKey.Bytes()),
	})
	if err != nil {
		t.Fatalf("encoding legacy file: %v", err)
	}
	if err := os.WriteFile(path, legacy, 0o600); err != nil {
		t.Fatalf("writing legacy file: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	defer loaded.Close()

	if loaded.Token.String() != "legacy-token" {
		t.Errorf("token = %q, want legacy-token", loaded.Token.String())
	}
	if !loaded.MachineKey.Equal(machineKey.Bytes()) {
		t.Error("legacy secret not carried into machine key")
	}
	if string(loaded.PublicKey) != string(wantPublic) {
		t.Error("public key not re-derived from legacy secret")
	}
}

func TestLoad_Rejects(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"empty object", "{}"},
		{"token only", `{"token":"t"}`},
		{"garbage", "not json"},
	}
	for _, tc := range cases {
		path := filepath.Join(dir, tc.name+".json")
		if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
			t.Fatalf("writing file: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load succeeded, want error", tc.name)
		}
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	credentials := newTestCredentials(t)

	bundle, err := Export(credentials, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	imported, err := Import(bundle, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	defer imported.Close()

	if !imported.MachineKey.Equal(credentials.MachineKey.Bytes()) {
		t.Error("machine key changed across export/import")
	}
	if !imported.Token.Equal(credentials.Token.Bytes()) {
		t.Error("token changed across export/import")
	}
}

func TestImport_WrongPassphrase(t *testing.T) {
	credentials := newTestCredentials(t)
	bundle, err := Export(credentials, "right")
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if _, err := Import(bundle, "wrong"); err == nil {
		t.Error("Import with wrong passphrase succeeded")
	}
}
