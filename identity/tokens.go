package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSigningKeyLen = 32

// TokenConfig configures access token signing.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	Leeway     time.Duration
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	Role string `json:"role,omitempty"`
	AMR  string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and parses HS256 access tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

func NewTokenManager(cfg TokenConfig, now func() time.Time) (*TokenManager, error) {
	if len(cfg.SigningKey) < minSigningKeyLen {
		return nil, ErrSigningKeyMissing
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("identity: access ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("identity: invalid leeway")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenManager{config: cfg, now: now}, nil
}

// Issue signs a token for accountID. amr records how the session was
// authenticated (password, totp, passkey and so on).
func (m *TokenManager) Issue(accountID, role, amr string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.config.AccessTTL)
	claims := AccessClaims{
		Role: role,
		AMR:  amr,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies signature, expiry, issuer and audience.
func (m *TokenManager) Parse(token string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.config.SigningKey, nil
	}, options...)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
