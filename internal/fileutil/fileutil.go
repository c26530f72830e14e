// Package fileutil provides utility functions for file operations
package fileutil

import (
	"fmt"
	"os"
	"strings"
)

// ReadSecret reads a credential from a file and strips surrounding
// whitespace. Secret files mounted by orchestrators routinely carry a
// trailing newline that must not become part of the credential.
func ReadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}

	return secret, nil
}
