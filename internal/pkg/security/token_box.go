package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// TokenBox seals Shopify access tokens before they are stored.
type TokenBox struct {
	key [32]byte
}

// NewTokenBox derives the box key from secret. A base64 encoded 32 byte
// secret is used as is; anything else is hashed with SHA-256.
func NewTokenBox(secret string) (*TokenBox, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("secret is required for token encryption")
	}

	var box TokenBox
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		copy(box.key[:], raw)
		return &box, nil
	}
	box.key = sha256.Sum256([]byte(secret))
	return &box, nil
}

// Seal encrypts plaintext and returns base64(nonce || box).
func (b *TokenBox) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *TokenBox) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.New("invalid token encoding")
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed token too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", errors.New("invalid token signature")
	}
	return string(plain), nil
}
