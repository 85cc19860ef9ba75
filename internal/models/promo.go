package models

import (
	"time"

	"referral-bot/internal/money"
)

// PromoCode is an admin-issued "check" redeemable for a fixed credit.
type PromoCode struct {
	Code               string       `gorm:"primaryKey;size:32"`
	RewardAmount       money.Amount `gorm:"type:bigint;not null"`
	MaxActivations     int          `gorm:"not null"`
	CurrentActivations int          `gorm:"not null;default:0"`
	IsActive           bool         `gorm:"not null;default:true"`
	CreatorID          int64        `gorm:"index"`
	Description        string       `gorm:"size:512"`
	CreatedAt          time.Time    `gorm:"index"`
}

func (p *PromoCode) Remaining() int {
	if p.CurrentActivations >= p.MaxActivations {
		return 0
	}
	return p.MaxActivations - p.CurrentActivations
}

type PromoRedemption struct {
	ID        uint         `gorm:"primaryKey"`
	Code      string       `gorm:"size:32;not null;uniqueIndex:idx_promo_redemption_code_account"`
	AccountID int64        `gorm:"not null;uniqueIndex:idx_promo_redemption_code_account"`
	Amount    money.Amount `gorm:"type:bigint;not null"`
	CreatedAt time.Time
}
