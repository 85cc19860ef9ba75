package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"referral-bot/internal/engine"
	"referral-bot/internal/logging"
	"referral-bot/internal/notify"
	"referral-bot/internal/rewards"
)

const reminderInterval = 24 * time.Hour

// Checker periodically retries unpaid referrals and reminds users who can
// withdraw.
type Checker struct {
	Engine   *engine.Engine
	Redis    *redis.Client
	Sink     notify.Sink
	Interval time.Duration
	Batch    int
}

func NewChecker(e *engine.Engine, rdb *redis.Client, sink notify.Sink, interval time.Duration, batch int) *Checker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &Checker{
		Engine:   e,
		Redis:    rdb,
		Sink:     sink,
		Interval: interval,
		Batch:    batch,
	}
}

func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	logging.Info("Background sweep worker started", zap.Duration("interval", c.Interval))

	// Run once at start
	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

func (c *Checker) RunOnce(ctx context.Context) {
	credited, err := c.sweepReferrals(ctx)
	if err != nil {
		logging.Error("Referral sweep failed", zap.Error(err))
	}
	reminded, err := c.remindWithdrawReady(ctx)
	if err != nil {
		logging.Error("Withdrawal reminder sweep failed", zap.Error(err))
	}
	logging.Debug("Sweep cycle finished", zap.Int("credited", credited), zap.Int("reminded", reminded))
}

func (c *Checker) sweepReferrals(ctx context.Context) (int, error) {
	credited := 0
	var after int64
	for {
		pending, err := c.Engine.Store.PendingReferrals(ctx, after, c.Batch)
		if err != nil {
			return credited, err
		}
		for _, acc := range pending {
			after = acc.UserID
			outcome, err := c.Engine.TryCreditReferral(ctx, acc.UserID)
			if err != nil {
				logging.Warn("Failed to credit referral", zap.Int64("user_id", acc.UserID), zap.Error(err))
				continue
			}
			if outcome == rewards.Credited {
				credited++
			}
		}
		if len(pending) < c.Batch || ctx.Err() != nil {
			return credited, nil
		}
	}
}

func (c *Checker) remindWithdrawReady(ctx context.Context) (int, error) {
	minimum := c.Engine.Policy().MinWithdrawal
	if !minimum.IsPositive() || c.Redis == nil {
		return 0, nil
	}

	reminded := 0
	var after int64
	for {
		accounts, err := c.Engine.Store.AccountsWithBalanceAtLeast(ctx, minimum, after, c.Batch)
		if err != nil {
			return reminded, err
		}
		for _, acc := range accounts {
			after = acc.UserID
			key := fmt.Sprintf("notified_withdraw_ready_%d", acc.UserID)
			fresh, err := c.Redis.SetNX(ctx, key, "true", reminderInterval).Result()
			if err != nil {
				return reminded, fmt.Errorf("failed to set reminder key: %w", err)
			}
			if !fresh {
				continue
			}
			req := notify.New(notify.KindWithdrawalReady, acc.UserID)
			req.Balance = acc.Balance
			req.Amount = minimum
			c.Sink.Notify(ctx, req)
			reminded++
		}
		if len(accounts) < c.Batch || ctx.Err() != nil {
			return reminded, nil
		}
	}
}
