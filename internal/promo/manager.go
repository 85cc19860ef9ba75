// Package promo issues capped-use codes ("checks") and redeems them.
package promo

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"referral-bot/internal/errs"
	"referral-bot/internal/ledger"
	"referral-bot/internal/logging"
	"referral-bot/internal/metrics"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
)

const (
	CodeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxAttempts  = 10
)

var (
	ErrCodeExists  = errors.New("code already exists")
	ErrInvalidCode = errors.New("invalid code")

	codePattern = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)
)

type Manager struct {
	store *ledger.Store
}

func NewManager(store *ledger.Store) *Manager {
	return &Manager{store: store}
}

// Normalize upper-cases and trims user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateCode issues a random code that was never used before.
func (m *Manager) CreateCode(ctx context.Context, reward money.Amount, maxActivations int, creatorID int64, description string) (*models.PromoCode, error) {
	if err := validate(reward, maxActivations); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		p, err := m.create(ctx, code, reward, maxActivations, creatorID, description)
		if errors.Is(err, ErrCodeExists) {
			continue
		}
		return p, err
	}
	return nil, fmt.Errorf("failed to generate a unique code after %d attempts", maxAttempts)
}

// CreateNamedCode issues a code chosen by the admin.
func (m *Manager) CreateNamedCode(ctx context.Context, code string, reward money.Amount, maxActivations int, creatorID int64, description string) (*models.PromoCode, error) {
	code = Normalize(code)
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%q: %w", code, ErrInvalidCode)
	}
	if err := validate(reward, maxActivations); err != nil {
		return nil, err
	}
	return m.create(ctx, code, reward, maxActivations, creatorID, description)
}

func validate(reward money.Amount, maxActivations int) error {
	if !reward.IsPositive() || maxActivations <= 0 {
		return errs.ErrInvalidAmount
	}
	return nil
}

func (m *Manager) create(ctx context.Context, code string, reward money.Amount, maxActivations int, creatorID int64, description string) (*models.PromoCode, error) {
	p := models.PromoCode{
		Code:           code,
		RewardAmount:   reward,
		MaxActivations: maxActivations,
		IsActive:       true,
		CreatorID:      creatorID,
		Description:    description,
		CreatedAt:      m.store.Now(),
	}
	err := m.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.PromoCode{}).Where("code = ?", code).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check code: %w", err)
		}
		if n > 0 {
			return ErrCodeExists
		}
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to create code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Promo code created",
		zap.String("code", code), zap.Stringer("reward", reward), zap.Int("max_activations", maxActivations))
	return &p, nil
}

func generateCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

type Redemption struct {
	Code           string
	Reward         money.Amount
	Balance        money.Amount
	Activations    int
	MaxActivations int
}

// Redeem credits the code reward to userID. The limit check, the counter
// increment, the redemption row and the credit commit together.
func (m *Manager) Redeem(ctx context.Context, code string, userID int64) (*Redemption, error) {
	r, err := m.redeem(ctx, Normalize(code), userID)
	metrics.PromoRedemptions.WithLabelValues(errs.Code(err)).Inc()
	return r, err
}

func (m *Manager) redeem(ctx context.Context, code string, userID int64) (*Redemption, error) {
	var out *Redemption
	err := m.store.WithAccounts(ctx, []int64{userID}, func(tx *gorm.DB) error {
		if _, err := ledger.LoadAccount(tx, userID); err != nil {
			return err
		}

		p, err := loadCode(tx, code)
		if err != nil {
			return err
		}
		if err := checkAvailable(p); err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&models.PromoRedemption{}).Where("code = ? AND account_id = ?", code, userID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check redemption: %w", err)
		}
		if n > 0 {
			return errs.ErrAlreadyRedeemed
		}

		res := tx.Model(&models.PromoCode{}).
			Where("code = ? AND is_active = ? AND current_activations < max_activations", code, true).
			Update("current_activations", gorm.Expr("current_activations + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to count activation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			if p, err = loadCode(tx, code); err != nil {
				return err
			}
			if err := checkAvailable(p); err != nil {
				return err
			}
			return errs.ErrLimitReached
		}

		var counted models.PromoCode
		if err := tx.Select("current_activations").Where("code = ?", code).
			Take(&counted).Error; err != nil {
			return fmt.Errorf("failed to read activations: %w", err)
		}

		redemption := models.PromoRedemption{
			Code:      code,
			AccountID: userID,
			Amount:    p.RewardAmount,
			CreatedAt: m.store.Now(),
		}
		if err := tx.Create(&redemption).Error; err != nil {
			return fmt.Errorf("failed to record redemption: %w", err)
		}

		balance, err := m.store.Apply(tx, userID, p.RewardAmount, models.KindCheckActivation, "Активация чека "+code)
		if err != nil {
			return err
		}

		out = &Redemption{
			Code:           code,
			Reward:         p.RewardAmount,
			Balance:        balance,
			Activations:    counted.CurrentActivations,
			MaxActivations: p.MaxActivations,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Promo code redeemed", zap.String("code", code), zap.Int64("user_id", userID))
	return out, nil
}

func checkAvailable(p *models.PromoCode) error {
	if !p.IsActive {
		return errs.ErrInactive
	}
	if p.CurrentActivations >= p.MaxActivations {
		return errs.ErrLimitReached
	}
	return nil
}

func loadCode(tx *gorm.DB, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := tx.Where("code = ?", code).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("code %s: %w", code, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load code %s: %w", code, err)
	}
	return &p, nil
}

// Deactivate switches the code off for good. Issued credits stay.
func (m *Manager) Deactivate(ctx context.Context, code string) error {
	code = Normalize(code)
	res := m.store.DB().WithContext(ctx).
		Model(&models.PromoCode{}).
		Where("code = ?", code).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate code %s: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("code %s: %w", code, errs.ErrNotFound)
	}
	logging.Info("Promo code deactivated", zap.String("code", code))
	return nil
}

func (m *Manager) GetCodeInfo(ctx context.Context, code string) (*models.PromoCode, error) {
	return loadCode(m.store.DB().WithContext(ctx), Normalize(code))
}

// ListCodes returns the newest codes first.
func (m *Manager) ListCodes(ctx context.Context, limit int) ([]models.PromoCode, error) {
	var out []models.PromoCode
	err := m.store.DB().WithContext(ctx).
		Order("created_at DESC, code ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	return out, nil
}

// Redemptions lists who redeemed code, oldest first.
func (m *Manager) Redemptions(ctx context.Context, code string) ([]models.PromoRedemption, error) {
	var out []models.PromoRedemption
	err := m.store.DB().WithContext(ctx).
		Where("code = ?", Normalize(code)).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	return out, nil
}

type Stats struct {
	Codes       int64
	Active      int64
	Activations int64
	TotalPaid   money.Amount
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	db := m.store.DB().WithContext(ctx)
	s := &Stats{}

	if err := db.Model(&models.PromoCode{}).Count(&s.Codes).Error; err != nil {
		return nil, fmt.Errorf("failed to count codes: %w", err)
	}
	if err := db.Model(&models.PromoCode{}).Where("is_active = ?", true).Count(&s.Active).Error; err != nil {
		return nil, fmt.Errorf("failed to count active codes: %w", err)
	}

	var totals struct {
		N     int64
		Total int64
	}
	err := db.Model(&models.PromoRedemption{}).
		Select("COUNT(*) AS n, COALESCE(SUM(amount), 0) AS total").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum redemptions: %w", err)
	}
	s.Activations = totals.N
	s.TotalPaid = money.Amount(totals.Total)
	return s, nil
}
