package models

import (
	"strconv"
	"time"

	"referral-bot/internal/money"
)

type Account struct {
	UserID           int64        `gorm:"primaryKey;autoIncrement:false"`
	Username         string       `gorm:"size:255"`
	FullName         string       `gorm:"size:255"`
	Balance          money.Amount `gorm:"type:bigint;not null;default:0"`
	ReferredBy       *int64       `gorm:"index"`
	ReferralPaid     bool         `gorm:"not null;default:false"`
	LastDailyBonusAt *time.Time
	CaptchaSolvedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DisplayName prefers the full name, then @username, then a synthetic label.
func (a *Account) DisplayName() string {
	switch {
	case a.FullName != "":
		return a.FullName
	case a.Username != "":
		return "@" + a.Username
	default:
		return "User_" + strconv.FormatInt(a.UserID, 10)
	}
}

type TransactionKind string

const (
	KindRegistration       TransactionKind = "registration"
	KindReferralBonus      TransactionKind = "referral_bonus"
	KindWelcomeBonus       TransactionKind = "welcome_bonus"
	KindDailyBonus         TransactionKind = "daily_bonus"
	KindCheckActivation    TransactionKind = "check_activation"
	KindWithdrawal         TransactionKind = "withdrawal"
	KindWithdrawalRejected TransactionKind = "withdrawal_rejected"
	KindAdminAdd           TransactionKind = "admin_add"
)

// Transaction is an append-only ledger row. Rows are never updated or deleted.
type Transaction struct {
	ID           uint            `gorm:"primaryKey"`
	AccountID    int64           `gorm:"not null;index"`
	Delta        money.Amount    `gorm:"type:bigint;not null"`
	BalanceAfter money.Amount    `gorm:"type:bigint;not null"`
	Kind         TransactionKind `gorm:"size:32;not null;index"`
	Description  string          `gorm:"size:512"`
	CreatedAt    time.Time       `gorm:"index"`
}

// ReferrerStat is a row of the top referrers board.
type ReferrerStat struct {
	UserID    int64
	Username  string
	FullName  string
	Balance   money.Amount
	Referrals int64
}
