package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/money"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ADMIN_IDS", "1, 2,bad,3")
	t.Setenv("REQUIRED_CHANNELS", "@one, -100123 ,")
	t.Setenv("REWARD_POLICY", "currency")
	t.Setenv("MIN_WITHDRAWAL", "75.5")
	t.Setenv("CAPTCHA_ENABLED", "false")
	t.Setenv("ORACLE_TIMEOUT", "2s")

	cfg := LoadConfig()

	require.Equal(t, []int64{1, 2, 3}, cfg.AdminIDs)
	require.Equal(t, []string{"@one", "-100123"}, cfg.RequiredChannels)
	require.Equal(t, "currency", cfg.RewardPolicy)
	require.NotNil(t, cfg.MinWithdrawal)
	require.Equal(t, money.Amount(7550), *cfg.MinWithdrawal)
	require.Nil(t, cfg.DailyBonus)
	require.False(t, cfg.CaptchaEnabled)
	require.Equal(t, 2*time.Second, cfg.OracleTimeout)
	require.True(t, cfg.IsAdmin(2))
	require.False(t, cfg.IsAdmin(4))
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ORACLE_TIMEOUT", "not-a-duration")

	cfg := LoadConfig()

	require.Equal(t, 5*time.Second, cfg.OracleTimeout)
	require.Equal(t, "stars", cfg.RewardPolicy)
	require.True(t, cfg.CaptchaEnabled)
	require.Equal(t, 200, cfg.SweepBatch)
}
