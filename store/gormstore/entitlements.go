package gormstore

import (
	"context"
	"time"
)

// GrantContentUnlock records that an account unlocked a piece of content.
func (s *Store) GrantContentUnlock(ctx context.Context, accountID, contentID string, premium bool, at time.Time) error {
	return s.conn(ctx).Create(&contentUnlockModel{
		ID:        newID(),
		AccountID: accountID,
		ContentID: contentID,
		Premium:   premium,
		GrantedAt: at.UTC(),
	}).Error
}

// RevokePremiumUnlocks deletes the account's premium-gated unlock grants.
func (s *Store) RevokePremiumUnlocks(ctx context.Context, accountID string) (int64, error) {
	res := s.conn(ctx).Where("account_id = ? AND premium = ?", accountID, true).Delete(&contentUnlockModel{})
	return res.RowsAffected, res.Error
}

// CountContentUnlocks returns the number of grants an account holds.
func (s *Store) CountContentUnlocks(ctx context.Context, accountID string, premiumOnly bool) (int64, error) {
	q := s.conn(ctx).Model(&contentUnlockModel{}).Where("account_id = ?", accountID)
	if premiumOnly {
		q = q.Where("premium = ?", true)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}
