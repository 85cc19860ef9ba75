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

type RegisterParams struct {
	UserID     int64
	Username   string
	FullName   string
	ReferrerID *int64
}

type RegisterResult struct {
	Account models.Account
	Created bool
	// ReferrerLinked is true when this call set referred_by.
	ReferrerLinked bool
}

// RegisterOrUpdateAccount creates the account on first contact or refreshes
// its profile fields. A referrer is accepted only if it exists, is not the
// user and is not referred by the user. referred_by is written at most once.
func (s *Store) RegisterOrUpdateAccount(ctx context.Context, p RegisterParams) (*RegisterResult, error) {
	out := &RegisterResult{}

	err := s.WithAccounts(ctx, []int64{p.UserID}, func(tx *gorm.DB) error {
		referrer, err := s.validReferrer(tx, p)
		if err != nil {
			return err
		}

		var acc models.Account
		err = tx.Where("user_id = ?", p.UserID).Take(&acc).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := s.Now()
			acc = models.Account{
				UserID:     p.UserID,
				Username:   p.Username,
				FullName:   p.FullName,
				ReferredBy: referrer,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(&acc).Error; err != nil {
				return fmt.Errorf("failed to create account %d: %w", p.UserID, err)
			}
			if _, err := s.Apply(tx, p.UserID, 0, models.KindRegistration, "Регистрация"); err != nil {
				return err
			}
			out.Created = true
			out.ReferrerLinked = referrer != nil
		case err != nil:
			return fmt.Errorf("failed to load account %d: %w", p.UserID, err)
		default:
			updates := map[string]any{"updated_at": s.Now()}
			if p.Username != "" {
				updates["username"] = p.Username
			}
			if p.FullName != "" {
				updates["full_name"] = p.FullName
			}
			if err := tx.Model(&models.Account{}).Where("user_id = ?", p.UserID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update account %d: %w", p.UserID, err)
			}

			if referrer != nil && acc.ReferredBy == nil {
				res := tx.Model(&models.Account{}).
					Where("user_id = ? AND referred_by IS NULL AND referral_paid = ?", p.UserID, false).
					Update("referred_by", *referrer)
				if res.Error != nil {
					return fmt.Errorf("failed to link referrer for %d: %w", p.UserID, res.Error)
				}
				out.ReferrerLinked = res.RowsAffected == 1
			}
		}

		loaded, err := LoadAccount(tx, p.UserID)
		if err != nil {
			return err
		}
		out.Account = *loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) validReferrer(tx *gorm.DB, p RegisterParams) (*int64, error) {
	if p.ReferrerID == nil || *p.ReferrerID == p.UserID || *p.ReferrerID <= 0 {
		return nil, nil
	}
	ref, err := LoadAccount(tx, *p.ReferrerID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ref.ReferredBy != nil && *ref.ReferredBy == p.UserID {
		return nil, nil
	}
	id := ref.UserID
	return &id, nil
}

func (s *Store) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	return LoadAccount(s.db.WithContext(ctx), userID)
}

func (s *Store) GetBalance(ctx context.Context, userID int64) (money.Amount, error) {
	return balanceOf(s.db.WithContext(ctx), userID)
}

// GetTransactionHistory returns the newest transactions first.
func (s *Store) GetTransactionHistory(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %d: %w", userID, err)
	}
	return txs, nil
}

// SumTransactions adds up every delta of the account. It always equals the
// stored balance.
func (s *Store) SumTransactions(ctx context.Context, userID int64) (money.Amount, error) {
	return s.sumDeltas(ctx, "account_id = ?", userID)
}

// ReferralEarnings is the total credited to userID for invited users.
func (s *Store) ReferralEarnings(ctx context.Context, userID int64) (money.Amount, error) {
	return s.sumDeltas(ctx, "account_id = ? AND kind = ?", userID, models.KindReferralBonus)
}

func (s *Store) sumDeltas(ctx context.Context, where string, args ...any) (money.Amount, error) {
	var sum int64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(delta), 0)").
		Where(where, args...).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return money.Amount(sum), nil
}

func (s *Store) MarkCaptchaSolved(ctx context.Context, userID int64, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ?", userID).
		Update("captcha_solved_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to mark captcha for %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %d: %w", userID, errs.ErrNotFound)
	}
	return nil
}

// CountReferrals counts accounts that registered through userID's link.
func (s *Store) CountReferrals(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Account{}).Where("referred_by = ?", userID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals for %d: %w", userID, err)
	}
	return n, nil
}

func (s *Store) TopReferrers(ctx context.Context, limit int) ([]models.ReferrerStat, error) {
	var stats []models.ReferrerStat
	err := s.db.WithContext(ctx).Raw(`
		SELECT a.user_id, a.username, a.full_name, a.balance, COUNT(r.user_id) AS referrals
		FROM accounts a
		JOIN accounts r ON r.referred_by = a.user_id
		GROUP BY a.user_id, a.username, a.full_name, a.balance
		ORDER BY referrals DESC, a.user_id ASC
		LIMIT ?`, limit).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load top referrers: %w", err)
	}
	return stats, nil
}

// PendingReferrals lists referred accounts whose referrer is not paid yet,
// ordered by id and starting after afterID.
func (s *Store) PendingReferrals(ctx context.Context, afterID int64, limit int) ([]models.Account, error) {
	var accs []models.Account
	err := s.db.WithContext(ctx).
		Where("referred_by IS NOT NULL AND referral_paid = ? AND user_id > ?", false, afterID).
		Order("user_id ASC").
		Limit(limit).
		Find(&accs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending referrals: %w", err)
	}
	return accs, nil
}

func (s *Store) AccountsWithBalanceAtLeast(ctx context.Context, min money.Amount, afterID int64, limit int) ([]models.Account, error) {
	var accs []models.Account
	err := s.db.WithContext(ctx).
		Where("balance >= ? AND user_id > ?", min, afterID).
		Order("user_id ASC").
		Limit(limit).
		Find(&accs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts by balance: %w", err)
	}
	return accs, nil
}

// CountAccounts is used by the admin stats screen.
func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}
