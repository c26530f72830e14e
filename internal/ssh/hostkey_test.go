package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeKeyFile(t *testing.T, key interface{}) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "host-key")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	return path
}

func TestLoadHostKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	signer, err := LoadHostKey(writeKeyFile(t, priv))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		t.Errorf("Expected ed25519 signer, got %s", signer.PublicKey().Type())
	}
}

func TestLoadHostKeyMissingFile(t *testing.T) {
	if _, err := LoadHostKey(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for missing host key, got nil")
	}
}

func TestLoadHostKeyGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("not a key"), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadHostKey(path); err == nil {
		t.Error("Expected error for unparseable host key, got nil")
	}
}

func TestLoadHostKeyRejectsNonEd25519(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	if _, err := LoadHostKey(writeKeyFile(t, rsaKey)); err == nil {
		t.Error("Expected error for RSA host key, got nil")
	}
}
