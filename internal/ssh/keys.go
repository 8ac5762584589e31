package ssh

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/yourusername/docker-volume-backup/internal/crypto"
	"golang.org/x/crypto/ssh"
)

// Sealed identity files start with this line, followed by base64.
const sealedIdentityHeader = "ENC1\n"

const identityPurpose = "docker-backup/ssh-identity"

// ReadIdentity returns the PEM bytes of an identity file, opening it with
// ENCRYPTION_KEY when it is sealed.
func ReadIdentity(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read identity %s: %w", path, err)
	}
	if !bytes.HasPrefix(data, []byte(sealedIdentityHeader)) {
		return data, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data[len(sealedIdentityHeader):])))
	if err != nil {
		return nil, fmt.Errorf("identity %s is not valid base64: %w", path, err)
	}

	sealer, err := crypto.SealerFromEnv()
	if err != nil {
		return nil, fmt.Errorf("identity %s is sealed: %w", path, err)
	}
	return sealer.Open(identityPurpose, sealed)
}

// SealIdentity wraps a PEM private key so it can be stored as
// ssh.identity_file and read back by ReadIdentity.
func SealIdentity(pemBytes []byte) ([]byte, error) {
	if _, err := ssh.ParseRawPrivateKey(pemBytes); err != nil {
		return nil, fmt.Errorf("not a usable private key: %w", err)
	}

	sealer, err := crypto.SealerFromEnv()
	if err != nil {
		return nil, err
	}
	sealed, err := sealer.Seal(identityPurpose, pemBytes)
	if err != nil {
		return nil, err
	}
	return []byte(sealedIdentityHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// LoadSigner reads an identity file and parses it as a private key
func LoadSigner(path string) (ssh.Signer, error) {
	key, err := ReadIdentity(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", path, err)
	}
	return signer, nil
}
