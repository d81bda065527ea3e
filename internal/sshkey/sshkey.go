// Package sshkey validates SSH public keys before they are registered with
// the platform, so a typo or a pasted private key never leaves the machine.
package sshkey

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/ctf-platform/ctf/internal/model"
)

// Key is a parsed public key.
type Key struct {
	Type        string
	Comment     string
	Fingerprint string // SHA256:...
	// Authorized is the normalized single-line authorized_keys form sent to the platform.
	Authorized string
}

// Parse validates a single authorized_keys line.
func Parse(line []byte) (*Key, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty key", model.ErrInvalidKey)
	}
	if bytes.Contains(line, []byte("PRIVATE KEY")) {
		return nil, fmt.Errorf("%w: this is a private key, use the .pub file", model.ErrInvalidKey)
	}

	pub, comment, _, rest, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidKey, err)
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		return nil, fmt.Errorf("%w: expected exactly one key", model.ErrInvalidKey)
	}

	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		authorized += " " + comment
	}

	return &Key{
		Type:        pub.Type(),
		Comment:     comment,
		Fingerprint: ssh.FingerprintSHA256(pub),
		Authorized:  authorized,
	}, nil
}

// ReadFile reads and parses a public key file such as ~/.ssh/id_ed25519.pub.
func ReadFile(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return Parse(data)
}
