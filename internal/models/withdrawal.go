package models

import (
	"time"

	"referral-bot/internal/money"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Withdrawal is a payout request. The amount is reserved (debited) when the
// request is created and a request leaves pending exactly once.
type Withdrawal struct {
	ID          uint             `gorm:"primaryKey"`
	AccountID   int64            `gorm:"not null;index"`
	Amount      money.Amount     `gorm:"type:bigint;not null"`
	Contact     string           `gorm:"size:255"`
	Status      WithdrawalStatus `gorm:"size:16;not null;default:'pending';index"`
	AdminNote   string           `gorm:"size:1024"`
	ProcessedBy *int64
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (w *Withdrawal) IsPending() bool {
	return w.Status == WithdrawalPending
}
