package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"referral-bot/internal/adminapi"
	"referral-bot/internal/bot"
	"referral-bot/internal/captcha"
	"referral-bot/internal/config"
	"referral-bot/internal/database"
	"referral-bot/internal/engine"
	"referral-bot/internal/logging"
	"referral-bot/internal/notify"
	"referral-bot/internal/rewards"
	"referral-bot/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	if err := logging.Init(cfg.LogProduction); err != nil {
		log.Fatalf("Could not init logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := buildPolicy(cfg)
	if err != nil {
		logging.Error("Invalid reward policy", zap.Error(err))
		return
	}

	// Connect to Database
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logging.Error("Could not connect to database", zap.Error(err))
		return
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		logging.Error("Could not connect to redis", zap.Error(err))
		return
	}
	defer rdb.Close()

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		logging.Error("Could not create bot", zap.Error(err))
		return
	}

	texts := bot.NewTexts(policy)
	sender := notify.NewTelegram(tgBot, rdb, texts.Notification, notify.TelegramConfig{
		ChannelID: cfg.WithdrawalChannelID,
	})
	go sender.Run(ctx)

	e := engine.New(engine.Deps{
		DB:             db,
		Oracle:         bot.NewSubscriptionOracle(tgBot),
		Sink:           sender,
		Policy:         policy,
		CaptchaEnabled: cfg.CaptchaEnabled,
		OracleTimeout:  cfg.OracleTimeout,
	})
	if err := e.Channels.Seed(ctx, cfg.RequiredChannels); err != nil {
		logging.Error("Could not seed required channels", zap.Error(err))
		return
	}

	checker := worker.NewChecker(e, rdb, sender, cfg.SweepInterval, cfg.SweepBatch)
	go checker.Start(ctx)

	if cfg.AdminAPIToken != "" {
		api := adminapi.NewServer(e, adminapi.Config{
			Token:        cfg.AdminAPIToken,
			AllowedCIDRs: cfg.AdminAllowedCIDRs,
		})
		go func() {
			if err := api.Run(ctx, cfg.AdminAPIAddr); err != nil {
				logging.Error("Admin API stopped", zap.Error(err))
			}
		}()
	} else {
		logging.Info("ADMIN_API_TOKEN is empty, admin API disabled")
	}

	logging.Info("Service started successfully",
		zap.String("policy", policy.Name), zap.Stringer("credit_mode", policy.CreditMode))

	b := bot.NewBot(tgBot, e, captcha.NewStore(rdb, cfg.CaptchaTTL), cfg)
	if err := b.Start(ctx); err != nil {
		logging.Error("Bot stopped", zap.Error(err))
		return
	}
	logging.Info("Shutting down")
}

// buildPolicy picks the named policy and applies env overrides.
func buildPolicy(cfg *config.Config) (rewards.Policy, error) {
	policy, err := rewards.PolicyByName(cfg.RewardPolicy)
	if err != nil {
		return rewards.Policy{}, err
	}
	if cfg.CreditMode != "" {
		mode, err := rewards.ParseCreditMode(cfg.CreditMode)
		if err != nil {
			return rewards.Policy{}, err
		}
		policy.CreditMode = mode
	}
	if cfg.ReferralReward != nil {
		policy.ReferralReward = *cfg.ReferralReward
	}
	if cfg.DailyBonus != nil {
		policy.DailyBonus = *cfg.DailyBonus
	}
	if cfg.MinWithdrawal != nil {
		policy.MinWithdrawal = *cfg.MinWithdrawal
	}
	return policy, nil
}
