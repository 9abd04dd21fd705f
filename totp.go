package mfaauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

var errEmptyTOTPSecret = errors.New("empty totp secret")

type totpManager struct {
	config TOTPConfig
	opts   totp.ValidateOpts
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{
		config: cfg,
		opts: totp.ValidateOpts{
			Period:    uint(cfg.Period),
			Digits:    otp.Digits(cfg.Digits),
			Algorithm: totpAlgorithm(cfg.Algorithm),
		},
	}
}

func totpAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// GenerateSecret returns a fresh base32 secret and its otpauth:// URI.
func (m *totpManager) GenerateSecret(accountName string) (string, string, error) {
	if m == nil {
		return "", "", ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      m.opts.Period,
		SecretSize:  totpSecretBytes,
		Digits:      m.opts.Digits,
		Algorithm:   m.opts.Algorithm,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// VerifyCode checks code against every step in the skew window and returns
// the matching step, so callers can reject reuse of an accepted step.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, nil
	}

	if secret == "" {
		return false, 0, errEmptyTOTPSecret
	}

	period := int64(m.config.Period)
	baseCounter := now.Unix() / period
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0).UTC(), m.opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
