// Package identity is the local identity provider: it owns password
// verification and access-token sessions for accounts in the credential
// store.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nutricoach/mfaauth/credential"
)

var (
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidToken       = errors.New("identity: invalid access token")
	ErrSigningKeyMissing  = errors.New("identity: signing key missing or shorter than 32 bytes")
)

// Session is an issued login session.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccountID   string    `json:"account_id"`
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	AccountID string
	Role      string
}

// Local verifies passwords stored on the account row and issues JWT sessions.
type Local struct {
	store     credential.Store
	hasher    *Hasher
	tokens    *TokenManager
	dummyHash string
}

func NewLocal(store credential.Store, hasher *Hasher, tokens *TokenManager) (*Local, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, errors.New("identity: store, hasher and tokens are required")
	}
	dummy, err := hasher.Hash("unknown-account-placeholder")
	if err != nil {
		return nil, fmt.Errorf("identity: prepare dummy hash: %w", err)
	}
	return &Local{store: store, hasher: hasher, tokens: tokens, dummyHash: dummy}, nil
}

// VerifyPassword returns the account id when password matches. Unknown
// emails cost the same hash work as a wrong password.
func (l *Local) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	account, err := l.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			_, _ = l.hasher.Verify(password, l.dummyHash)
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if account.PasswordHash == "" {
		_, _ = l.hasher.Verify(password, l.dummyHash)
		return "", ErrInvalidCredentials
	}
	ok, err := l.hasher.Verify(password, account.PasswordHash)
	if err != nil || !ok {
		return "", ErrInvalidCredentials
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return account.ID, nil
}

// IssueSession signs an access token for account. It does not read the
// store, so callers may invoke it while holding a transaction.
func (l *Local) IssueSession(ctx context.Context, account *credential.Account, method string) (*Session, error) {
	if account == nil || account.ID == "" {
		return nil, errors.New("identity: account required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, expires, err := l.tokens.Issue(account.ID, account.Role, method)
	if err != nil {
		return nil, fmt.Errorf("identity: sign token: %w", err)
	}
	return &Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		AccountID:   account.ID,
	}, nil
}

// Authenticate resolves an access token to its principal.
func (l *Local) Authenticate(_ context.Context, accessToken string) (*Principal, error) {
	claims, err := l.tokens.Parse(accessToken)
	if err != nil {
		return nil, err
	}
	return &Principal{AccountID: claims.Subject, Role: claims.Role}, nil
}

// HashPassword hashes a new password for storage on an account.
func (l *Local) HashPassword(password string) (string, error) {
	return l.hasher.Hash(password)
}
