// Package engine wires the ledger, gate and reward components into the
// surface used by the bot, the admin API and the sweep worker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"referral-bot/internal/channels"
	"referral-bot/internal/errs"
	"referral-bot/internal/gate"
	"referral-bot/internal/ledger"
	"referral-bot/internal/logging"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
	"referral-bot/internal/promo"
	"referral-bot/internal/rewards"
	"referral-bot/internal/withdrawal"
)

var errNoOracle = errors.New("no subscription oracle configured")

type Deps struct {
	DB             *gorm.DB
	Oracle         gate.Oracle
	Sink           notify.Sink
	Policy         rewards.Policy
	CaptchaEnabled bool
	OracleTimeout  time.Duration
	ChannelTTL     time.Duration
	Now            func() time.Time
}

type Engine struct {
	Store       *ledger.Store
	Channels    *channels.Store
	Gate        *gate.Evaluator
	Rewards     *rewards.Pipeline
	Withdrawals *withdrawal.Manager
	Promo       *promo.Manager

	sink   notify.Sink
	policy rewards.Policy
}

func New(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sink == nil {
		d.Sink = notify.Nop{}
	}
	if d.Oracle == nil {
		d.Oracle = gate.OracleFunc(func(context.Context, int64, string) (bool, error) {
			return false, errNoOracle
		})
	}

	store := ledger.NewStore(d.DB, ledger.WithClock(d.Now))
	chans := channels.NewStore(d.DB, d.ChannelTTL)
	evaluator := gate.NewEvaluator(store, chans, d.Oracle, gate.Config{
		CaptchaEnabled: d.CaptchaEnabled,
		OracleTimeout:  d.OracleTimeout,
		Now:            d.Now,
	})

	return &Engine{
		Store:       store,
		Channels:    chans,
		Gate:        evaluator,
		Rewards:     rewards.NewPipeline(store, evaluator, d.Policy, d.Sink),
		Withdrawals: withdrawal.NewManager(store, d.Policy.MinWithdrawal, d.Sink),
		Promo:       promo.NewManager(store),
		sink:        d.Sink,
		policy:      d.Policy,
	}
}

func (e *Engine) Policy() rewards.Policy { return e.policy }

type Registration struct {
	Account        models.Account
	Created        bool
	ReferrerLinked bool
	Decision       gate.Decision
	Referral       rewards.Outcome
}

// RegisterOrUpdateAccount records the user, tells the referrer about a new
// invitee and pays the referral right away when the policy or the gate
// allows it.
func (e *Engine) RegisterOrUpdateAccount(ctx context.Context, p ledger.RegisterParams) (*Registration, error) {
	res, err := e.Store.RegisterOrUpdateAccount(ctx, p)
	if err != nil {
		return nil, err
	}
	out := &Registration{
		Account:        res.Account,
		Created:        res.Created,
		ReferrerLinked: res.ReferrerLinked,
	}

	if res.ReferrerLinked {
		req := notify.New(notify.KindReferralRegistered, *res.Account.ReferredBy)
		req.RelatedUserID = res.Account.UserID
		req.RelatedName = res.Account.DisplayName()
		req.Amount = e.policy.ReferralReward
		e.sink.Notify(ctx, req)
	}

	out.Decision, err = e.Gate.Evaluate(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	if e.policy.CreditMode == rewards.ImmediateCredit || out.Decision.Pass {
		out.Referral, err = e.Rewards.TryCreditReferral(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) Evaluate(ctx context.Context, userID int64) (gate.Decision, error) {
	return e.Gate.Evaluate(ctx, userID)
}

// RequirePass fails with errs.ErrNotEligible unless userID passes the gate.
func (e *Engine) RequirePass(ctx context.Context, userID int64) error {
	d, err := e.Gate.Evaluate(ctx, userID)
	if err != nil {
		return err
	}
	if !d.Pass {
		return fmt.Errorf("user %d: %w", userID, errs.ErrNotEligible)
	}
	return nil
}

// SolveCaptcha stamps the solve time and re-runs the gate.
func (e *Engine) SolveCaptcha(ctx context.Context, userID int64) (gate.Decision, rewards.Outcome, error) {
	if err := e.Store.MarkCaptchaSolved(ctx, userID, e.Store.Now()); err != nil {
		return gate.Decision{}, rewards.NoOp, err
	}
	return e.RecheckSubscription(ctx, userID)
}

// RecheckSubscription re-runs the gate and pays a pending referral once it
// passes.
func (e *Engine) RecheckSubscription(ctx context.Context, userID int64) (gate.Decision, rewards.Outcome, error) {
	d, err := e.Gate.Evaluate(ctx, userID)
	if err != nil {
		return gate.Decision{}, rewards.NoOp, err
	}
	if !d.Pass {
		return d, rewards.NotEligible, nil
	}
	outcome, err := e.Rewards.TryCreditReferral(ctx, userID)
	if err != nil {
		return d, rewards.NoOp, err
	}
	return d, outcome, nil
}

func (e *Engine) TryCreditReferral(ctx context.Context, userID int64) (rewards.Outcome, error) {
	return e.Rewards.TryCreditReferral(ctx, userID)
}

func (e *Engine) TryCreditDailyBonus(ctx context.Context, userID int64) (*rewards.DailyResult, error) {
	return e.Rewards.TryCreditDailyBonus(ctx, userID)
}

func (e *Engine) RequestWithdrawal(ctx context.Context, userID int64, amount money.Amount, contact string) (*models.Withdrawal, error) {
	return e.Withdrawals.RequestWithdrawal(ctx, userID, amount, contact)
}

func (e *Engine) Approve(ctx context.Context, withdrawalID uint, adminID int64, note string) (*models.Withdrawal, error) {
	return e.Withdrawals.Approve(ctx, withdrawalID, adminID, note)
}

func (e *Engine) Reject(ctx context.Context, withdrawalID uint, adminID int64, reason string) (*models.Withdrawal, error) {
	return e.Withdrawals.Reject(ctx, withdrawalID, adminID, reason)
}

func (e *Engine) ListPending(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	return e.Withdrawals.ListPending(ctx, limit)
}

func (e *Engine) CreateCode(ctx context.Context, reward money.Amount, maxActivations int, creatorID int64, description string) (*models.PromoCode, error) {
	return e.Promo.CreateCode(ctx, reward, maxActivations, creatorID, description)
}

func (e *Engine) Redeem(ctx context.Context, code string, userID int64) (*promo.Redemption, error) {
	return e.Promo.Redeem(ctx, code, userID)
}

func (e *Engine) Deactivate(ctx context.Context, code string) error {
	return e.Promo.Deactivate(ctx, code)
}

func (e *Engine) GetCodeInfo(ctx context.Context, code string) (*models.PromoCode, error) {
	return e.Promo.GetCodeInfo(ctx, code)
}

func (e *Engine) ListCodes(ctx context.Context, limit int) ([]models.PromoCode, error) {
	return e.Promo.ListCodes(ctx, limit)
}

func (e *Engine) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	return e.Store.GetAccount(ctx, userID)
}

func (e *Engine) GetTransactionHistory(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return e.Store.GetTransactionHistory(ctx, userID, limit)
}

// AdminCredit adds amount to the user's balance on behalf of an admin.
func (e *Engine) AdminCredit(ctx context.Context, userID int64, amount money.Amount, adminID int64) (money.Amount, error) {
	if !amount.IsPositive() {
		return 0, errs.ErrInvalidAmount
	}
	balance, err := e.Store.ApplyTransaction(ctx, userID, amount, models.KindAdminAdd, "Начисление администратором")
	if err != nil {
		return 0, err
	}
	logging.Info("Admin credit",
		zap.Int64("admin_id", adminID), zap.Int64("user_id", userID), zap.Stringer("amount", amount))
	return balance, nil
}

type Profile struct {
	Account          models.Account
	Referrals        int64
	ReferralEarnings money.Amount
	Withdrawals      withdrawal.Summary
}

func (e *Engine) Profile(ctx context.Context, userID int64) (*Profile, error) {
	acc, err := e.Store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	referrals, err := e.Store.CountReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, err := e.Store.ReferralEarnings(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary, err := e.Withdrawals.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Account:          *acc,
		Referrals:        referrals,
		ReferralEarnings: earned,
		Withdrawals:      *summary,
	}, nil
}

func (e *Engine) TopReferrers(ctx context.Context, limit int) ([]models.ReferrerStat, error) {
	return e.Store.TopReferrers(ctx, limit)
}
