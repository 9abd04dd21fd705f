package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const maxFingerprintLen = 512

// HashFingerprint returns the stored form of a client device fingerprint.
// Fingerprints are account-scoped, so the account id is mixed in.
func HashFingerprint(accountID, fingerprint string) (string, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return "", errEmptyFingerprint
	}
	if len(fp) > maxFingerprintLen {
		fp = fp[:maxFingerprintLen]
	}
	data := make([]byte, 0, len(accountID)+1+len(fp))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, fp...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
