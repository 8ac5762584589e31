// Package crypto seals small secrets, such as ssh identities, with a key
// taken from the environment.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeyEnv holds the base64 key used to seal and open identities
const KeyEnv = "ENCRYPTION_KEY"

// Sealer encrypts with AES-256-GCM. Each ciphertext is bound to a purpose
// string, so a blob sealed for one use fails to open for another.
type Sealer struct {
	aead cipher.AEAD
}

// SealerFromEnv builds a sealer from ENCRYPTION_KEY.
func SealerFromEnv() (*Sealer, error) {
	encoded := strings.TrimSpace(os.Getenv(KeyEnv))
	if encoded == "" {
		return nil, fmt.Errorf("%s is not set", KeyEnv)
	}
	return NewSealer(encoded)
}

// NewSealer builds a sealer from a base64 key. Keys that are not 32 bytes
// are hashed down to one.
func NewSealer(encoded string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid %s (must be base64): %w", KeyEnv, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s is empty", KeyEnv)
	}
	if len(raw) != 32 {
		sum := sha256.Sum256(raw)
		raw = sum[:]
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(purpose string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(purpose)), nil
}

// Open reverses Seal for the same purpose.
func (s *Sealer) Open(purpose string, sealed []byte) ([]byte, error) {
	size := s.aead.NonceSize()
	if len(sealed) < size+s.aead.Overhead() {
		return nil, errors.New("sealed data too short")
	}
	plaintext, err := s.aead.Open(nil, sealed[:size], sealed[size:], []byte(purpose))
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed data (wrong %s?): %w", KeyEnv, err)
	}
	return plaintext, nil
}

// GenerateKey returns a random base64 key suitable for ENCRYPTION_KEY
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
