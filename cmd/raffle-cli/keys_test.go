package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"rafflenet/crypto"
)

// fieldValue pulls the value following a "Label:" line from command output.
func fieldValue(t *testing.T, output, label string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, label) {
			return strings.TrimSpace(strings.TrimPrefix(line, label))
		}
	}
	t.Fatalf("output missing %q line:\n%s", label, output)
	return ""
}

func TestKeysNewShowListRoundTrip(t *testing.T) {
	t.Setenv(passphraseEnvVar, "round-trip-pass")
	dir := t.TempDir()
	path := filepath.Join(dir, "test.keystore")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runKeysCommand([]string{"new", "--out", path}, stdout, stderr); code != 0 {
		t.Fatalf("keys new failed (%d): %s", code, stderr.String())
	}
	account := fieldValue(t, stdout.String(), "Account:")
	if !strings.HasPrefix(account, "rfl1") {
		t.Fatalf("unexpected account address: %s", account)
	}
	signer := fieldValue(t, stdout.String(), "Signer:")
	if !strings.HasPrefix(signer, "rflsig1") {
		t.Fatalf("unexpected signer address: %s", signer)
	}

	showOut := &bytes.Buffer{}
	if code := runKeysCommand([]string{"show", "--file", path}, showOut, stderr); code != 0 {
		t.Fatalf("keys show failed (%d): %s", code, stderr.String())
	}
	if got := fieldValue(t, showOut.String(), "Account:"); got != account {
		t.Fatalf("show account mismatch: got %s, want %s", got, account)
	}

	listOut := &bytes.Buffer{}
	if code := runKeysCommand([]string{"list", "--dir", dir}, listOut, stderr); code != 0 {
		t.Fatalf("keys list failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(listOut.String(), "test.keystore") {
		t.Fatalf("list output missing keystore file: %s", listOut.String())
	}
}

func TestKeysImportDerivesSourceAddress(t *testing.T) {
	t.Setenv(passphraseEnvVar, "import-pass")
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "imported.keystore")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"import", "--hex", "0x" + hex.EncodeToString(key.Bytes()), "--out", path}
	if code := runKeysCommand(args, stdout, stderr); code != 0 {
		t.Fatalf("keys import failed (%d): %s", code, stderr.String())
	}
	want := key.PubKey().Address().String()
	if got := fieldValue(t, stdout.String(), "Account:"); got != want {
		t.Fatalf("imported account mismatch: got %s, want %s", got, want)
	}
}

func TestKeysShowRejectsWrongPassphrase(t *testing.T) {
	t.Setenv(passphraseEnvVar, "first-pass")
	path := filepath.Join(t.TempDir(), "locked.keystore")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runKeysCommand([]string{"new", "--out", path}, stdout, stderr); code != 0 {
		t.Fatalf("keys new failed (%d): %s", code, stderr.String())
	}

	t.Setenv(passphraseEnvVar, "second-pass")
	stderr.Reset()
	if code := runKeysCommand([]string{"show", "--file", path}, &bytes.Buffer{}, stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unlock keystore") {
		t.Fatalf("unexpected error output: %s", stderr.String())
	}
}

func TestKeysCommandValidation(t *testing.T) {
	t.Setenv(passphraseEnvVar, "validation-pass")
	cases := []struct {
		name string
		args []string
	}{
		{"no subcommand", nil},
		{"unknown subcommand", []string{"rotate"}},
		{"import missing hex", []string{"import", "--out", filepath.Join(t.TempDir(), "x.keystore")}},
		{"import bad hex", []string{"import", "--hex", "zz", "--out", filepath.Join(t.TempDir(), "y.keystore")}},
		{"positional args", []string{"new", "extra"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			if code := runKeysCommand(tc.args, stdout, stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d (stderr %q)", code, stderr.String())
			}
			if stderr.Len() == 0 {
				t.Fatal("expected an error message on stderr")
			}
		})
	}
}
