package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/nutricoach/mfaauth/credential"
)

func (s *Store) UpsertTrustedDevice(ctx context.Context, accountID, fingerprintHash, name string, at time.Time) (*credential.TrustedDevice, error) {
	at = at.UTC()
	m := trustedDeviceModel{
		ID:              newID(),
		AccountID:       accountID,
		FingerprintHash: fingerprintHash,
		Name:            name,
		LastSeenAt:      at,
		CreatedAt:       at,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "fingerprint_hash"}},
		DoUpdates: clause.Assignments(map[string]any{"name": name, "last_seen_at": at}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "trusted_devices.revoked_at IS NULL"},
		}},
	}).Create(&m).Error
	if err != nil {
		return nil, fmt.Errorf("upsert trusted device: %w", err)
	}

	var stored trustedDeviceModel
	if err := s.conn(ctx).
		Where("account_id = ? AND fingerprint_hash = ?", accountID, fingerprintHash).
		First(&stored).Error; err != nil {
		return nil, notFound(err)
	}
	return stored.toDomain(), nil
}

func (s *Store) TouchTrustedDevice(ctx context.Context, accountID, fingerprintHash string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&trustedDeviceModel{}).
		Where("account_id = ? AND fingerprint_hash = ? AND revoked_at IS NULL", accountID, fingerprintHash).
		Update("last_seen_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, accountID string) ([]credential.TrustedDevice, error) {
	var rows []trustedDeviceModel
	if err := s.conn(ctx).Where("account_id = ?", accountID).Order("last_seen_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]credential.TrustedDevice, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) RevokeTrustedDevice(ctx context.Context, accountID, deviceID string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&trustedDeviceModel{}).
		Where("id = ? AND account_id = ? AND revoked_at IS NULL", deviceID, accountID).
		Update("revoked_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (m *trustedDeviceModel) toDomain() *credential.TrustedDevice {
	return &credential.TrustedDevice{
		ID:              m.ID,
		AccountID:       m.AccountID,
		FingerprintHash: m.FingerprintHash,
		Name:            m.Name,
		LastSeenAt:      m.LastSeenAt,
		RevokedAt:       m.RevokedAt,
		CreatedAt:       m.CreatedAt,
	}
}
