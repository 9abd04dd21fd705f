package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/nutricoach/mfaauth/credential"
)

func (s *Store) UpsertTOTPFactor(ctx context.Context, accountID, secret, friendlyName string, at time.Time) (*credential.Factor, error) {
	at = at.UTC()
	slot := accountID
	m := factorModel{
		ID:            newID(),
		AccountID:     accountID,
		Kind:          string(credential.FactorTOTP),
		TOTPAccountID: &slot,
		FriendlyName:  friendlyName,
		Secret:        secret,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "totp_account_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"secret":         secret,
			"friendly_name":  friendlyName,
			"confirmed_at":   nil,
			"last_used_step": 0,
			"updated_at":     at,
		}),
	}).Create(&m).Error
	if err != nil {
		return nil, fmt.Errorf("upsert totp factor: %w", err)
	}
	return s.GetTOTPFactor(ctx, accountID)
}

func (s *Store) GetTOTPFactor(ctx context.Context, accountID string) (*credential.Factor, error) {
	var m factorModel
	err := s.conn(ctx).
		Where("account_id = ? AND kind = ?", accountID, string(credential.FactorTOTP)).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (s *Store) ConfirmTOTPFactor(ctx context.Context, factorID, secret string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&factorModel{}).
		Where("id = ? AND secret = ? AND confirmed_at IS NULL", factorID, secret).
		Updates(map[string]any{"confirmed_at": at.UTC(), "updated_at": at.UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, factorID string, step int64) (bool, error) {
	res := s.conn(ctx).Model(&factorModel{}).
		Where("id = ? AND last_used_step < ?", factorID, step).
		Update("last_used_step", step)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CountConfirmedFactors(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&factorModel{}).
		Where("account_id = ? AND confirmed_at IS NOT NULL", accountID).
		Count(&count).Error
	return count, err
}

func (m *factorModel) toDomain() *credential.Factor {
	return &credential.Factor{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Kind:         credential.FactorKind(m.Kind),
		FriendlyName: m.FriendlyName,
		Secret:       m.Secret,
		LastUsedStep: m.LastUsedStep,
		ConfirmedAt:  m.ConfirmedAt,
		CreatedAt:    m.CreatedAt,
	}
}
