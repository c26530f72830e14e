package ssh

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// LoadHostKey reads the server's Ed25519 host identity from disk. A missing
// or unusable key is a startup failure: generating one on the fly would give
// every replacement pod a fresh identity and trip every client's known_hosts.
func LoadHostKey(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host key %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host key %s: %w", path, err)
	}

	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("host key %s is %s, expected %s", path, signer.PublicKey().Type(), ssh.KeyAlgoED25519)
	}

	return signer, nil
}
