// Package rewards credits referral and daily bonuses exactly once.
package rewards

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"referral-bot/internal/gate"
	"referral-bot/internal/ledger"
	"referral-bot/internal/logging"
	"referral-bot/internal/metrics"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
)

const DailyInterval = 24 * time.Hour

type Outcome int

const (
	NoOp Outcome = iota
	Credited
	NotEligible
)

func (o Outcome) String() string {
	switch o {
	case Credited:
		return "credited"
	case NotEligible:
		return "not_eligible"
	default:
		return "noop"
	}
}

type Evaluator interface {
	Evaluate(ctx context.Context, userID int64) (gate.Decision, error)
}

type Pipeline struct {
	store  *ledger.Store
	gate   Evaluator
	policy Policy
	sink   notify.Sink
}

func NewPipeline(store *ledger.Store, evaluator Evaluator, policy Policy, sink notify.Sink) *Pipeline {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Pipeline{store: store, gate: evaluator, policy: policy, sink: sink}
}

func (p *Pipeline) Policy() Policy { return p.policy }

// TryCreditReferral pays the referrer of userID if that has not happened
// yet. It is safe to call from any number of triggers at once.
func (p *Pipeline) TryCreditReferral(ctx context.Context, userID int64) (Outcome, error) {
	outcome, err := p.tryCreditReferral(ctx, userID)
	if err == nil {
		metrics.RewardOutcomes.WithLabelValues("referral", outcome.String()).Inc()
	}
	return outcome, err
}

func (p *Pipeline) tryCreditReferral(ctx context.Context, userID int64) (Outcome, error) {
	acc, err := p.store.GetAccount(ctx, userID)
	if err != nil {
		return NoOp, err
	}
	if acc.ReferredBy == nil || acc.ReferralPaid {
		return NoOp, nil
	}
	referrerID := *acc.ReferredBy

	if p.policy.CreditMode == GatedCredit {
		d, err := p.gate.Evaluate(ctx, userID)
		if err != nil {
			return NoOp, err
		}
		if d.OracleErr != nil {
			metrics.OracleFailures.Inc()
			logging.Warn("Subscription check failed", zap.Int64("user_id", userID), zap.Error(d.OracleErr))
		}
		if !d.Pass {
			return NotEligible, nil
		}
	}

	var referrerBalance, welcomeBalance money.Amount
	credited := false
	err = p.store.WithAccounts(ctx, []int64{userID, referrerID}, func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("user_id = ? AND referred_by = ? AND referral_paid = ?", userID, referrerID, false).
			Update("referral_paid", true)
		if res.Error != nil {
			return fmt.Errorf("failed to mark referral paid for %d: %w", userID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var err error
		desc := fmt.Sprintf("Бонус за приглашение %s", acc.DisplayName())
		referrerBalance, err = p.store.Apply(tx, referrerID, p.policy.ReferralReward, models.KindReferralBonus, desc)
		if err != nil {
			return err
		}
		if p.policy.WelcomeBonus.IsPositive() {
			welcomeBalance, err = p.store.Apply(tx, userID, p.policy.WelcomeBonus, models.KindWelcomeBonus, "Приветственный бонус")
			if err != nil {
				return err
			}
		}
		credited = true
		return nil
	})
	if err != nil {
		return NoOp, err
	}
	if !credited {
		return NoOp, nil
	}

	logging.Info("Referral credited",
		zap.Int64("referrer_id", referrerID),
		zap.Int64("user_id", userID),
		zap.Stringer("amount", p.policy.ReferralReward))

	req := notify.New(notify.KindReferralCredited, referrerID)
	req.Amount = p.policy.ReferralReward
	req.Balance = referrerBalance
	req.RelatedUserID = userID
	req.RelatedName = acc.DisplayName()
	p.sink.Notify(ctx, req)

	if p.policy.WelcomeBonus.IsPositive() {
		welcome := notify.New(notify.KindWelcomeCredited, userID)
		welcome.Amount = p.policy.WelcomeBonus
		welcome.Balance = welcomeBalance
		welcome.RelatedUserID = referrerID
		p.sink.Notify(ctx, welcome)
	}
	return Credited, nil
}

type DailyResult struct {
	Outcome Outcome
	Amount  money.Amount
	Balance money.Amount
	// NextAt is when the next bonus becomes available.
	NextAt time.Time
}

// TryCreditDailyBonus credits the daily bonus at most once per DailyInterval.
// The window check and the stamp are one conditional update.
func (p *Pipeline) TryCreditDailyBonus(ctx context.Context, userID int64) (*DailyResult, error) {
	now := p.store.Now()
	out := &DailyResult{Outcome: NoOp}

	err := p.store.WithAccounts(ctx, []int64{userID}, func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("user_id = ? AND (last_daily_bonus_at IS NULL OR last_daily_bonus_at <= ?)", userID, now.Add(-DailyInterval)).
			Update("last_daily_bonus_at", now)
		if res.Error != nil {
			return fmt.Errorf("failed to stamp daily bonus for %d: %w", userID, res.Error)
		}

		if res.RowsAffected == 0 {
			acc, err := ledger.LoadAccount(tx, userID)
			if err != nil {
				return err
			}
			out.Balance = acc.Balance
			if acc.LastDailyBonusAt != nil {
				out.NextAt = acc.LastDailyBonusAt.UTC().Add(DailyInterval)
			}
			return nil
		}

		balance, err := p.store.Apply(tx, userID, p.policy.DailyBonus, models.KindDailyBonus, "Ежедневный бонус")
		if err != nil {
			return err
		}
		out.Outcome = Credited
		out.Amount = p.policy.DailyBonus
		out.Balance = balance
		out.NextAt = now.Add(DailyInterval)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RewardOutcomes.WithLabelValues("daily", out.Outcome.String()).Inc()
	return out, nil
}
