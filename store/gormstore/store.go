// Package gormstore implements credential.Store on gorm.
//
// Production runs on PostgreSQL with the embedded goose migrations; tests and
// local development run on SQLite with AutoMigrate. Every single-use
// transition is a conditional UPDATE whose RowsAffected decides the winner.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nutricoach/mfaauth/credential"
)

// Store is a gorm-backed credential.Store.
type Store struct {
	db *gorm.DB
}

var _ credential.Store = (*Store)(nil)

// New wraps db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table from the gorm models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(credential.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func newID() string {
	return uuid.NewString()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credential.ErrNotFound
	}
	return err
}

func (s *Store) CreateAccount(ctx context.Context, account *credential.Account) error {
	if account.ID == "" {
		account.ID = newID()
	}
	account.Email = normalizeEmail(account.Email)
	if account.Email == "" {
		return errors.New("gormstore: account email empty")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	m := accountModel{
		ID:                account.ID,
		Email:             account.Email,
		PasswordHash:      account.PasswordHash,
		Role:              account.Role,
		SubscriptionTier:  account.SubscriptionTier,
		BillingCustomerID: account.BillingCustomerID,
		MFARequired:       account.MFARequired,
		MFAEnrolled:       account.MFAEnrolled,
		MFAVerifiedAt:     account.MFAVerifiedAt,
		PremiumLocked:     account.PremiumLocked,
		PremiumLockReason: account.PremiumLockReason,
		CreatedAt:         account.CreatedAt,
		UpdatedAt:         account.CreatedAt,
	}
	// Select all columns so false booleans are written rather than skipped.
	if err := s.conn(ctx).Select("*").Create(&m).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*credential.Account, error) {
	var m accountModel
	if err := s.conn(ctx).Where("id = ?", accountID).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*credential.Account, error) {
	var m accountModel
	if err := s.conn(ctx).Where("email = ?", normalizeEmail(email)).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (s *Store) updateAccount(ctx context.Context, accountID string, values map[string]any) error {
	values["updated_at"] = time.Now().UTC()
	res := s.conn(ctx).Model(&accountModel{}).Where("id = ?", accountID).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return credential.ErrNotFound
	}
	return nil
}

func (s *Store) SetMFAEnrolled(ctx context.Context, accountID string, enrolled bool) error {
	return s.updateAccount(ctx, accountID, map[string]any{"mfa_enrolled": enrolled})
}

func (s *Store) StampMFAVerified(ctx context.Context, accountID string, at time.Time) error {
	return s.updateAccount(ctx, accountID, map[string]any{
		"mfa_verified_at":     at.UTC(),
		"premium_locked":      false,
		"premium_lock_reason": "",
	})
}

func (s *Store) SetPremiumLock(ctx context.Context, accountID string, locked bool, reason string) (bool, error) {
	if !locked {
		reason = ""
	}
	res := s.conn(ctx).Model(&accountModel{}).
		Where("id = ? AND premium_locked <> ?", accountID, locked).
		Updates(map[string]any{
			"premium_locked":      locked,
			"premium_lock_reason": reason,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return !locked, nil
	}

	var count int64
	if err := s.conn(ctx).Model(&accountModel{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, credential.ErrNotFound
	}
	return locked, nil
}

func (s *Store) SetBillingCustomerID(ctx context.Context, accountID, customerID string) error {
	return s.updateAccount(ctx, accountID, map[string]any{"billing_customer_id": customerID})
}

func (m *accountModel) toDomain() *credential.Account {
	return &credential.Account{
		ID:                m.ID,
		Email:             m.Email,
		PasswordHash:      m.PasswordHash,
		Role:              m.Role,
		SubscriptionTier:  m.SubscriptionTier,
		BillingCustomerID: m.BillingCustomerID,
		MFARequired:       m.MFARequired,
		MFAEnrolled:       m.MFAEnrolled,
		MFAVerifiedAt:     m.MFAVerifiedAt,
		PremiumLocked:     m.PremiumLocked,
		PremiumLockReason: m.PremiumLockReason,
		CreatedAt:         m.CreatedAt,
	}
}
