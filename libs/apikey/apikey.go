package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// SecretPrefix is the fixed, recognizable head of every plaintext key.
	SecretPrefix = "sk_live_"

	// DisplayPrefixLen is how much of the plaintext is safe to show back
	// to the owner after creation.
	DisplayPrefixLen = 20

	secretEntropyBytes = 32
)

var ErrInvalidKey = errors.New("invalid api key")

// Generate produces a fresh plaintext secret together with its storage hash
// and display prefix. The plaintext is returned exactly once; only the hash
// is ever persisted.
func Generate() (secret string, prefix string, hash string, err error) {
	buf := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	secret = SecretPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return secret, Prefix(secret), Hash(secret), nil
}

// Hash is the deterministic one-way digest used for storage and lookup.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the non-secret leading slice of a plaintext key.
func Prefix(secret string) string {
	if len(secret) <= DisplayPrefixLen {
		return secret
	}
	return secret[:DisplayPrefixLen]
}

// Validate checks the shape of a presented key before any lookup happens.
func Validate(secret string) error {
	if !strings.HasPrefix(secret, SecretPrefix) {
		return ErrInvalidKey
	}
	tail := strings.TrimPrefix(secret, SecretPrefix)
	if len(tail) < base64.RawURLEncoding.EncodedLen(secretEntropyBytes) {
		return ErrInvalidKey
	}
	if _, err := base64.RawURLEncoding.DecodeString(tail); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// Match compares a presented plaintext key against a stored hash in constant
// time.
func Match(secret string, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(secret)), []byte(storedHash)) == 1
}
