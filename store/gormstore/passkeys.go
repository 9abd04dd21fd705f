package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nutricoach/mfaauth/credential"
)

// CreatePasskey stores the credential together with a confirmed passkey factor.
func (s *Store) CreatePasskey(ctx context.Context, p *credential.Passkey) error {
	now := p.CreatedAt.UTC()
	if p.CreatedAt.IsZero() {
		now = time.Now().UTC()
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&passkeyModel{}).Where("credential_id = ?", p.CredentialID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return credential.ErrDuplicateCredential
		}

		factor := factorModel{
			ID:           newID(),
			AccountID:    p.AccountID,
			Kind:         string(credential.FactorPasskey),
			FriendlyName: p.FriendlyName,
			ConfirmedAt:  &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&factor).Error; err != nil {
			return fmt.Errorf("create passkey factor: %w", err)
		}

		m := passkeyModel{
			ID:              newID(),
			FactorID:        factor.ID,
			AccountID:       p.AccountID,
			CredentialID:    p.CredentialID,
			PublicKey:       p.PublicKey,
			AttestationType: p.AttestationType,
			AAGUID:          p.AAGUID,
			SignCount:       int64(p.SignCount),
			Transports:      datatypes.JSONSlice[string](p.Transports),
			BackupEligible:  p.BackupEligible,
			BackupState:     p.BackupState,
			FriendlyName:    p.FriendlyName,
			CreatedAt:       now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("create passkey: %w", err)
		}

		p.ID = m.ID
		p.FactorID = factor.ID
		p.CreatedAt = now
		return nil
	})
}

func (s *Store) ListPasskeys(ctx context.Context, accountID string) ([]credential.Passkey, error) {
	var rows []passkeyModel
	if err := s.conn(ctx).Where("account_id = ?", accountID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]credential.Passkey, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*credential.Passkey, error) {
	var m passkeyModel
	if err := s.conn(ctx).Where("credential_id = ?", credentialID).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (s *Store) CompareAndSwapSignCount(ctx context.Context, passkeyID string, expected, next uint32, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&passkeyModel{}).
		Where("id = ? AND sign_count = ?", passkeyID, int64(expected)).
		Updates(map[string]any{"sign_count": int64(next), "last_used_at": at.UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) DeletePasskey(ctx context.Context, accountID, passkeyID string) (bool, error) {
	deleted := false
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var m passkeyModel
		if err := tx.Where("id = ? AND account_id = ?", passkeyID, accountID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("id = ?", m.ID).Delete(&passkeyModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ? AND account_id = ?", m.FactorID, accountID).Delete(&factorModel{}).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (m *passkeyModel) toDomain() *credential.Passkey {
	return &credential.Passkey{
		ID:              m.ID,
		FactorID:        m.FactorID,
		AccountID:       m.AccountID,
		CredentialID:    m.CredentialID,
		PublicKey:       m.PublicKey,
		AttestationType: m.AttestationType,
		AAGUID:          m.AAGUID,
		SignCount:       uint32(m.SignCount),
		Transports:      []string(m.Transports),
		BackupEligible:  m.BackupEligible,
		BackupState:     m.BackupState,
		FriendlyName:    m.FriendlyName,
		LastUsedAt:      m.LastUsedAt,
		CreatedAt:       m.CreatedAt,
	}
}
