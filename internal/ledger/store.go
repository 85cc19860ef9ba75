// Package ledger owns account balances and the append-only transaction log.
// Every balance change goes through Apply inside a gorm transaction while the
// account's lock is held.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"referral-bot/internal/errs"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
)

type Store struct {
	db    *gorm.DB
	locks *Locker
	now   func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		locks: NewLocker(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// WithAccounts locks the given accounts and runs fn in one DB transaction.
// fn must use only the tx it receives.
func (s *Store) WithAccounts(ctx context.Context, ids []int64, fn func(tx *gorm.DB) error) error {
	unlock := s.locks.Lock(ids...)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(fn)
}

// ApplyTransaction changes the balance by delta and records the matching
// transaction row atomically.
func (s *Store) ApplyTransaction(ctx context.Context, userID int64, delta money.Amount, kind models.TransactionKind, description string) (money.Amount, error) {
	var balance money.Amount
	err := s.WithAccounts(ctx, []int64{userID}, func(tx *gorm.DB) error {
		var err error
		balance, err = s.Apply(tx, userID, delta, kind, description)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Apply is the in-transaction primitive behind every balance change. A debit
// only succeeds when the balance covers it; the check and the update are one
// statement so it holds across processes as well.
func (s *Store) Apply(tx *gorm.DB, userID int64, delta money.Amount, kind models.TransactionKind, description string) (money.Amount, error) {
	q := tx.Model(&models.Account{}).Where("user_id = ?", userID)
	if delta < 0 {
		q = q.Where("balance >= ?", delta.Neg())
	}
	res := q.Updates(map[string]any{
		"balance":    gorm.Expr("balance + ?", delta),
		"updated_at": s.Now(),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update balance for %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		exists, err := accountExists(tx, userID)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, fmt.Errorf("account %d: %w", userID, errs.ErrNotFound)
		}
		return 0, errs.ErrInsufficientFunds
	}

	balance, err := balanceOf(tx, userID)
	if err != nil {
		return 0, err
	}

	entry := models.Transaction{
		AccountID:    userID,
		Delta:        delta,
		BalanceAfter: balance,
		Kind:         kind,
		Description:  description,
		CreatedAt:    s.Now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}
	return balance, nil
}

func accountExists(tx *gorm.DB, userID int64) (bool, error) {
	var n int64
	if err := tx.Model(&models.Account{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to look up account %d: %w", userID, err)
	}
	return n > 0, nil
}

func balanceOf(tx *gorm.DB, userID int64) (money.Amount, error) {
	var acc models.Account
	err := tx.Select("balance").Where("user_id = ?", userID).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("account %d: %w", userID, errs.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance for %d: %w", userID, err)
	}
	return acc.Balance, nil
}

// LoadAccount reads an account inside tx.
func LoadAccount(tx *gorm.DB, userID int64) (*models.Account, error) {
	var acc models.Account
	err := tx.Where("user_id = ?", userID).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %d: %w", userID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", userID, err)
	}
	return &acc, nil
}
