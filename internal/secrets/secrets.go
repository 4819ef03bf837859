// Package secrets seals user API keys with AES-256-GCM. Sealed values look
// like enc:v1:<iv>:<tag>:<data> with each part base64 encoded; anything
// without the prefix is treated as plaintext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	Prefix = "enc:v1:"

	minSecretLength = 16
	placeholder     = "replace-with-strong-secret"
)

var (
	ErrWeakSecret = errors.New("missing or weak encryption secret")
	ErrMalformed  = errors.New("malformed sealed value")
)

// Box seals and opens values with a key derived from a shared secret
type Box struct {
	aead cipher.AEAD
}

// ValidateSecret rejects short or placeholder secrets
func ValidateSecret(secret string) error {
	if len(strings.TrimSpace(secret)) < minSecretLength || strings.Contains(secret, placeholder) {
		return ErrWeakSecret
	}
	return nil
}

// New derives the AES key as sha256(secret)
func New(secret string) (*Box, error) {
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// IsSealed reports whether value carries the sealed prefix
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal encrypts value with a random 12-byte nonce
func (b *Box) Seal(value string) (string, error) {
	iv := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := b.aead.Seal(nil, iv, []byte(value), nil)
	tagStart := len(out) - b.aead.Overhead()
	data, tag := out[:tagStart], out[tagStart:]

	enc := base64.StdEncoding
	return Prefix + enc.EncodeToString(iv) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(data), nil
}

// Open decrypts a sealed value. Plaintext passes through unchanged.
// A nil Box can only open plaintext.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if b == nil {
		return "", ErrWeakSecret
	}

	parts := strings.Split(strings.TrimPrefix(value, Prefix), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", ErrMalformed
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrMalformed, err)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}
	data, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	if len(iv) != b.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv length %d", ErrMalformed, len(iv))
	}

	plain, err := b.aead.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
