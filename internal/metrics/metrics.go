package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RewardOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_bot_reward_outcomes_total",
			Help: "Reward crediting attempts by reward kind and outcome",
		},
		[]string{"reward", "outcome"},
	)

	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_bot_withdrawal_transitions_total",
			Help: "Withdrawal requests by resulting status",
		},
		[]string{"status"},
	)

	PromoRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_bot_promo_redemptions_total",
			Help: "Promo code redemption attempts by result",
		},
		[]string{"result"},
	)

	OracleFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_bot_oracle_failures_total",
			Help: "Subscription lookups that failed or timed out",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_bot_notifications_total",
			Help: "Outbound notifications by kind and result",
		},
		[]string{"kind", "result"},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_bot_http_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "referral_bot_http_response_time_seconds",
			Help:    "Histogram of admin API response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

