package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nutricoach/mfaauth/credential"
)

// ReplaceBackupCodes deletes the account's batch and inserts codes.
func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, codes []credential.BackupCode) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&backupCodeModel{}).Error; err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		now := time.Now().UTC()
		records := make([]backupCodeModel, 0, len(codes))
		for _, c := range codes {
			created := c.CreatedAt.UTC()
			if c.CreatedAt.IsZero() {
				created = now
			}
			records = append(records, backupCodeModel{
				ID:        newID(),
				AccountID: accountID,
				CodeHash:  c.CodeHash,
				Hint:      c.Hint,
				CreatedAt: created,
			})
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("insert backup codes: %w", err)
		}
		return nil
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, accountID, codeHash string, at time.Time) (credential.ConsumeResult, error) {
	res := s.conn(ctx).Model(&backupCodeModel{}).
		Where("account_id = ? AND code_hash = ? AND consumed_at IS NULL", accountID, codeHash).
		Update("consumed_at", at.UTC())
	if res.Error != nil {
		return credential.ConsumeNotFound, res.Error
	}
	if res.RowsAffected > 0 {
		return credential.ConsumeOK, nil
	}

	var used int64
	err := s.conn(ctx).Model(&backupCodeModel{}).
		Where("account_id = ? AND code_hash = ?", accountID, codeHash).
		Count(&used).Error
	if err != nil {
		return credential.ConsumeNotFound, err
	}
	if used > 0 {
		return credential.ConsumeAlreadyUsed, nil
	}
	return credential.ConsumeNotFound, nil
}

func (s *Store) CountRemainingBackupCodes(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&backupCodeModel{}).
		Where("account_id = ? AND consumed_at IS NULL", accountID).
		Count(&count).Error
	return count, err
}
