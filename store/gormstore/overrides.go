package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nutricoach/mfaauth/credential"
)

func (s *Store) CreateOverrideToken(ctx context.Context, token *credential.OverrideToken) error {
	if token.ID == "" {
		token.ID = newID()
	}
	m := overrideTokenModel{
		ID:        token.ID,
		AccountID: token.AccountID,
		TokenHash: token.TokenHash,
		IssuedBy:  token.IssuedBy,
		Reason:    token.Reason,
		ExpiresAt: token.ExpiresAt.UTC(),
		CreatedAt: token.CreatedAt.UTC(),
	}
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create override token: %w", err)
	}
	return nil
}

// ConsumeOverrideToken marks the token consumed when it is unconsumed and
// unexpired at at. An expired token is left unconsumed.
func (s *Store) ConsumeOverrideToken(ctx context.Context, accountID, tokenHash string, at time.Time) (credential.ConsumeResult, error) {
	at = at.UTC()
	res := s.conn(ctx).Model(&overrideTokenModel{}).
		Where("account_id = ? AND token_hash = ? AND consumed_at IS NULL AND expires_at > ?", accountID, tokenHash, at).
		Update("consumed_at", at)
	if res.Error != nil {
		return credential.ConsumeNotFound, res.Error
	}
	if res.RowsAffected > 0 {
		return credential.ConsumeOK, nil
	}

	var m overrideTokenModel
	err := s.conn(ctx).Where("account_id = ? AND token_hash = ?", accountID, tokenHash).Limit(1).Find(&m).Error
	if err != nil {
		return credential.ConsumeNotFound, err
	}
	switch {
	case m.ID == "":
		return credential.ConsumeNotFound, nil
	case m.ConsumedAt != nil:
		return credential.ConsumeAlreadyUsed, nil
	default:
		return credential.ConsumeExpired, nil
	}
}

// GetOverrideToken returns a token by hash.
func (s *Store) GetOverrideToken(ctx context.Context, tokenHash string) (*credential.OverrideToken, error) {
	var m overrideTokenModel
	if err := s.conn(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &credential.OverrideToken{
		ID:         m.ID,
		AccountID:  m.AccountID,
		TokenHash:  m.TokenHash,
		IssuedBy:   m.IssuedBy,
		Reason:     m.Reason,
		ExpiresAt:  m.ExpiresAt,
		ConsumedAt: m.ConsumedAt,
		CreatedAt:  m.CreatedAt,
	}, nil
}
