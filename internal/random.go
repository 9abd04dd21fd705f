package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const overrideTokenSize = 32

// NewOverrideToken returns a base64url token carrying 256 random bits.
func NewOverrideToken() (string, error) {
	var raw [overrideTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidOverrideToken reports whether token has the shape NewOverrideToken
// produces.
func ValidOverrideToken(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == overrideTokenSize
}

// HashToken returns the hex SHA-256 of a high-entropy token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var errEmptyFingerprint = errors.New("empty device fingerprint")
