// Package crypto seals secrets that are stored outside the process, such as
// customer bearer tokens held by the session store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const keySize = 32

var (
	ErrMissingKey         = errors.New("encryption key is required")
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes or base64 of 32 bytes")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Sealer encrypts values bound to an owner label. A value sealed for one
// owner cannot be opened as another's.
type Sealer interface {
	Seal(plaintext, owner string) (string, error)
	Open(ciphertext, owner string) (string, error)
}

type aesGCMSealer struct {
	aead cipher.AEAD
}

// NewSealer builds an AES-256-GCM sealer. The key may be 32 raw bytes or
// their standard base64 encoding.
func NewSealer(key string) (Sealer, error) {
	keyBytes, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &aesGCMSealer{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if len(key) == keySize {
		return []byte(key), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(decoded) != keySize {
		return nil, ErrInvalidKey
	}
	return decoded, nil
}

func (s *aesGCMSealer) Seal(plaintext, owner string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *aesGCMSealer) Open(ciphertext, owner string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize+s.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(owner))
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plaintext), nil
}
