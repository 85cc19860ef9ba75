// Package withdrawal runs the payout request lifecycle. Funds are reserved
// when a request is created; approval finalizes it and rejection burns the
// reserved amount.
package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"referral-bot/internal/errs"
	"referral-bot/internal/ledger"
	"referral-bot/internal/logging"
	"referral-bot/internal/metrics"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
)

type Manager struct {
	store   *ledger.Store
	minimum money.Amount
	sink    notify.Sink
}

func NewManager(store *ledger.Store, minimum money.Amount, sink notify.Sink) *Manager {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Manager{store: store, minimum: minimum, sink: sink}
}

func (m *Manager) Minimum() money.Amount { return m.minimum }

// RequestWithdrawal debits amount and opens a pending request in one
// transaction.
func (m *Manager) RequestWithdrawal(ctx context.Context, userID int64, amount money.Amount, contact string) (*models.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	if amount < m.minimum {
		return nil, errs.ErrBelowMinimum
	}

	var (
		w       models.Withdrawal
		balance money.Amount
		acc     *models.Account
	)
	err := m.store.WithAccounts(ctx, []int64{userID}, func(tx *gorm.DB) error {
		var err error
		acc, err = ledger.LoadAccount(tx, userID)
		if err != nil {
			return err
		}
		balance, err = m.store.Apply(tx, userID, amount.Neg(), models.KindWithdrawal, fmt.Sprintf("Заявка на вывод %s", amount))
		if err != nil {
			return err
		}
		w = models.Withdrawal{
			AccountID: userID,
			Amount:    amount,
			Contact:   contact,
			Status:    models.WithdrawalPending,
			CreatedAt: m.store.Now(),
		}
		if err := tx.Create(&w).Error; err != nil {
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(models.WithdrawalPending)).Inc()
	logging.Info("Withdrawal requested",
		zap.Uint("withdrawal_id", w.ID), zap.Int64("user_id", userID), zap.Stringer("amount", amount))

	req := notify.New(notify.KindWithdrawalCreated, userID)
	req.WithdrawalID = w.ID
	req.Amount = amount
	req.Balance = balance
	req.Contact = contact
	req.Username = acc.Username
	req.RelatedName = acc.DisplayName()
	m.sink.Notify(ctx, req)
	return &w, nil
}

// Approve finalizes a pending request. The balance is not touched again.
func (m *Manager) Approve(ctx context.Context, withdrawalID uint, adminID int64, note string) (*models.Withdrawal, error) {
	return m.decide(ctx, withdrawalID, adminID, note, models.WithdrawalApproved)
}

// Reject closes a pending request without returning the reserved amount.
// A zero audit transaction records the decision.
func (m *Manager) Reject(ctx context.Context, withdrawalID uint, adminID int64, reason string) (*models.Withdrawal, error) {
	return m.decide(ctx, withdrawalID, adminID, reason, models.WithdrawalRejected)
}

func (m *Manager) decide(ctx context.Context, withdrawalID uint, adminID int64, note string, status models.WithdrawalStatus) (*models.Withdrawal, error) {
	current, err := m.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, fmt.Errorf("withdrawal %d is %s: %w", withdrawalID, current.Status, errs.ErrAlreadyProcessed)
	}

	var (
		w       *models.Withdrawal
		balance money.Amount
	)
	err = m.store.WithAccounts(ctx, []int64{current.AccountID}, func(tx *gorm.DB) error {
		now := m.store.Now()
		res := tx.Model(&models.Withdrawal{}).
			Where("id = ? AND status = ?", withdrawalID, models.WithdrawalPending).
			Updates(map[string]any{
				"status":       status,
				"admin_note":   note,
				"processed_by": adminID,
				"processed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update withdrawal %d: %w", withdrawalID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("withdrawal %d: %w", withdrawalID, errs.ErrAlreadyProcessed)
		}

		if status == models.WithdrawalRejected {
			desc := fmt.Sprintf("Заявка #%d отклонена", withdrawalID)
			if _, err := m.store.Apply(tx, current.AccountID, 0, models.KindWithdrawalRejected, desc); err != nil {
				return err
			}
		}

		var err error
		w, err = load(tx, withdrawalID)
		if err != nil {
			return err
		}
		acc, err := ledger.LoadAccount(tx, current.AccountID)
		if err != nil {
			return err
		}
		balance = acc.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(status)).Inc()
	logging.Info("Withdrawal processed",
		zap.Uint("withdrawal_id", withdrawalID), zap.String("status", string(status)), zap.Int64("admin_id", adminID))

	kind := notify.KindWithdrawalApproved
	if status == models.WithdrawalRejected {
		kind = notify.KindWithdrawalRejected
	}
	req := notify.New(kind, w.AccountID)
	req.WithdrawalID = w.ID
	req.Amount = w.Amount
	req.Balance = balance
	req.Contact = w.Contact
	req.Note = note
	m.sink.Notify(ctx, req)
	return w, nil
}

func (m *Manager) Get(ctx context.Context, withdrawalID uint) (*models.Withdrawal, error) {
	return load(m.store.DB().WithContext(ctx), withdrawalID)
}

func load(tx *gorm.DB, withdrawalID uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := tx.Take(&w, withdrawalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("withdrawal %d: %w", withdrawalID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal %d: %w", withdrawalID, err)
	}
	return &w, nil
}

// ListPending returns the oldest pending requests first.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	var out []models.Withdrawal
	err := m.store.DB().WithContext(ctx).
		Where("status = ?", models.WithdrawalPending).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	return out, nil
}

// ListForAccount returns the user's requests, newest first.
func (m *Manager) ListForAccount(ctx context.Context, userID int64, limit int) ([]models.Withdrawal, error) {
	var out []models.Withdrawal
	err := m.store.DB().WithContext(ctx).
		Where("account_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals for %d: %w", userID, err)
	}
	return out, nil
}

type Summary struct {
	Approved money.Amount
	Pending  money.Amount
	Rejected money.Amount
	Count    int64
}

func (m *Manager) Summary(ctx context.Context, userID int64) (*Summary, error) {
	var rows []struct {
		Status string
		Total  int64
		N      int64
	}
	err := m.store.DB().WithContext(ctx).
		Model(&models.Withdrawal{}).
		Select("status, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS n").
		Where("account_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize withdrawals for %d: %w", userID, err)
	}

	s := &Summary{}
	for _, r := range rows {
		s.Count += r.N
		switch models.WithdrawalStatus(r.Status) {
		case models.WithdrawalApproved:
			s.Approved = money.Amount(r.Total)
		case models.WithdrawalPending:
			s.Pending = money.Amount(r.Total)
		case models.WithdrawalRejected:
			s.Rejected = money.Amount(r.Total)
		}
	}
	return s, nil
}
