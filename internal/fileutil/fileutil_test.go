package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	secret, err := ReadSecret(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if secret != "s3cret" {
		t.Errorf("Expected 's3cret', got %q", secret)
	}
}

func TestReadSecretMissingFile(t *testing.T) {
	_, err := ReadSecret(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestReadSecretEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := ReadSecret(path); err == nil {
		t.Error("Expected error for empty secret, got nil")
	}
}
