package sshkey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	config "github.com/kevinburke/ssh_config"
)

// ErrNoKey is returned when no public key file could be located.
var ErrNoKey = errors.New("no ssh public key found, pass the .pub file explicitly")

var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Find locates the public key ssh would offer to host: the IdentityFile set
// for host in ~/.ssh/config, then the usual default key names. home is the
// user's home directory.
func Find(home, host string) (string, error) {
	sshDir := filepath.Join(home, ".ssh")

	var candidates []string
	if identity := identityFile(filepath.Join(sshDir, "config"), host); identity != "" {
		// ssh_config does not expand ~.
		if strings.HasPrefix(identity, "~") {
			identity = filepath.Join(home, identity[1:])
		}
		candidates = append(candidates, identity)
	}
	for _, name := range defaultKeys {
		candidates = append(candidates, filepath.Join(sshDir, name))
	}

	for _, c := range candidates {
		pub := c
		if !strings.HasSuffix(pub, ".pub") {
			pub += ".pub"
		}
		if _, err := os.Stat(pub); err == nil {
			return pub, nil
		}
	}
	return "", ErrNoKey
}

func identityFile(path, host string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	cfg, err := config.Decode(f)
	if err != nil {
		return ""
	}
	identity, err := cfg.Get(host, "IdentityFile")
	if err != nil {
		return ""
	}
	return identity
}

// FindDefault runs Find for the current user.
func FindDefault(host string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find public key: %w", err)
	}
	return Find(home, host)
}
