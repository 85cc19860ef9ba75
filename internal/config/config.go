package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"referral-bot/internal/money"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string
	LogProduction bool

	AdminIDs            []int64
	WithdrawalChannelID string
	RequiredChannels    []string

	// Reward policy: "stars" or "currency". CreditMode overrides the policy's
	// referral credit timing when set ("gated" or "immediate").
	RewardPolicy   string
	CreditMode     string
	ReferralReward *money.Amount
	DailyBonus     *money.Amount
	MinWithdrawal  *money.Amount

	CaptchaEnabled bool
	CaptchaTTL     time.Duration
	OracleTimeout  time.Duration
	SweepInterval  time.Duration
	SweepBatch     int

	AdminAPIAddr      string
	AdminAPIToken     string
	AdminAllowedCIDRs []string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "referral_bot"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		LogProduction: getEnvAsBool("LOG_PRODUCTION", false),

		AdminIDs:            getEnvAsInt64Slice("ADMIN_IDS"),
		WithdrawalChannelID: getEnv("WITHDRAWAL_CHANNEL_ID", ""),
		RequiredChannels:    getEnvAsSlice("REQUIRED_CHANNELS"),

		RewardPolicy:   getEnv("REWARD_POLICY", "stars"),
		CreditMode:     getEnv("REFERRAL_CREDIT_MODE", ""),
		ReferralReward: getEnvAsAmount("REFERRAL_REWARD"),
		DailyBonus:     getEnvAsAmount("DAILY_BONUS"),
		MinWithdrawal:  getEnvAsAmount("MIN_WITHDRAWAL"),

		CaptchaEnabled: getEnvAsBool("CAPTCHA_ENABLED", true),
		CaptchaTTL:     getEnvAsDuration("CAPTCHA_TTL", 10*time.Minute),
		OracleTimeout:  getEnvAsDuration("ORACLE_TIMEOUT", 5*time.Second),
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", 10*time.Minute),
		SweepBatch:     getEnvAsInt("SWEEP_BATCH", 200),

		AdminAPIAddr:      getEnv("ADMIN_API_ADDR", ":8080"),
		AdminAPIToken:     getEnv("ADMIN_API_TOKEN", ""),
		AdminAllowedCIDRs: getEnvAsSlice("ADMIN_ALLOWED_CIDRS"),
	}
}

// IsAdmin reports whether the Telegram user may use admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if val, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func getEnvAsSlice(key string) []string {
	val := getEnv(key, "")
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsInt64Slice(key string) []int64 {
	var out []int64
	for _, part := range getEnvAsSlice(key) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid %s entry %q", key, part)
			continue
		}
		out = append(out, id)
	}
	return out
}

func getEnvAsAmount(key string) *money.Amount {
	val := getEnv(key, "")
	if val == "" {
		return nil
	}
	a, err := money.Parse(val)
	if err != nil {
		log.Printf("Ignoring invalid %s: %v", key, err)
		return nil
	}
	return &a
}
