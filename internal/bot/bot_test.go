package bot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-bot/internal/errs"
	"referral-bot/internal/gate"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
	"referral-bot/internal/rewards"
)

func TestParseStartPayload(t *testing.T) {
	ref, check := parseStartPayload("ref_42")
	require.NotNil(t, ref)
	require.Equal(t, int64(42), *ref)
	require.Empty(t, check)

	ref, check = parseStartPayload("check_ABC123")
	require.Nil(t, ref)
	require.Equal(t, "ABC123", check)

	for _, payload := range []string{"", "ref_", "ref_abc", "ref_-5", "ref_0", "promo"} {
		ref, check = parseStartPayload(payload)
		assert.Nil(t, ref, payload)
		assert.Empty(t, check, payload)
	}
}

func TestParseDecision(t *testing.T) {
	id, approve, ok := parseDecision("admin_approve_17")
	require.True(t, ok)
	require.True(t, approve)
	require.Equal(t, uint(17), id)

	id, approve, ok = parseDecision("admin_reject_3")
	require.True(t, ok)
	require.False(t, approve)
	require.Equal(t, uint(3), id)

	for _, data := range []string{"admin_approve_", "admin_reject_x", "admin_approve_0", "captcha_4"} {
		_, _, ok = parseDecision(data)
		assert.False(t, ok, data)
	}
}

func newStateBot() *Bot {
	return &Bot{UserStates: make(map[int64]userState)}
}

func TestClearStateKeepsPendingCheck(t *testing.T) {
	b := newStateBot()
	b.rememberCheck(1, "CODE1234")
	b.setState(1, userState{Name: stateWithdrawAmount, PendingCheck: "CODE1234"})

	b.clearState(1)
	s, ok := b.getState(1)
	require.True(t, ok)
	require.Empty(t, s.Name)
	require.Equal(t, "CODE1234", s.PendingCheck)

	require.Equal(t, "CODE1234", b.takePendingCheck(1))
	_, ok = b.getState(1)
	require.False(t, ok)
	require.Empty(t, b.takePendingCheck(1))
}

func TestTakePendingCheckKeepsDialog(t *testing.T) {
	b := newStateBot()
	b.setState(2, userState{Name: stateCheckCode})
	b.rememberCheck(2, "XYZ")

	require.Equal(t, "XYZ", b.takePendingCheck(2))
	s, ok := b.getState(2)
	require.True(t, ok)
	require.Equal(t, stateCheckCode, s.Name)

	b.clearState(2)
	_, ok = b.getState(2)
	require.False(t, ok)
}

func TestReferralLink(t *testing.T) {
	b := newStateBot()
	b.username = "refbot"
	require.Equal(t, "https://t.me/refbot?start=ref_7", b.referralLink(7))
	require.Equal(t, "https://t.me/refbot?start=check_ABC", b.checkLink("ABC"))
}

func TestNotificationToUser(t *testing.T) {
	texts := NewTexts(rewards.StarPolicy())

	req := notify.New(notify.KindReferralCredited, 1)
	req.RelatedName = "<Bob>"
	req.Amount = money.Units(5)
	req.Balance = money.Units(10)

	msg, ok := texts.Notification(req, notify.ToUser)
	require.True(t, ok)
	require.Contains(t, msg.Text, "&lt;Bob&gt;")
	require.Contains(t, msg.Text, "+5")
	require.Nil(t, msg.Markup)

	_, ok = texts.Notification(notify.New(notify.KindWithdrawalCreated, 1), notify.ToUser)
	require.False(t, ok)
}

func TestNotificationChannelPost(t *testing.T) {
	texts := NewTexts(rewards.StarPolicy())

	req := notify.New(notify.KindWithdrawalCreated, 5)
	req.WithdrawalID = 9
	req.RelatedName = "Alice"
	req.Username = "alice"
	req.Amount = money.Units(60)
	req.Contact = "@alice"

	msg, ok := texts.Notification(req, notify.ToChannel)
	require.True(t, ok)
	require.Contains(t, msg.Text, "#9")
	require.Contains(t, msg.Text, "(@alice)")
	require.NotNil(t, msg.Markup)

	req.Kind = notify.KindWithdrawalRejected
	req.Note = "спам"
	msg, ok = texts.Notification(req, notify.ToChannel)
	require.True(t, ok)
	require.Contains(t, msg.Text, "ОТКЛОНЕНА")
	require.Contains(t, msg.Text, "спам")
	require.Nil(t, msg.Markup)

	_, ok = texts.Notification(notify.New(notify.KindReferralRegistered, 5), notify.ToChannel)
	require.False(t, ok)
}

func TestErrorTexts(t *testing.T) {
	texts := NewTexts(rewards.StarPolicy())
	require.Contains(t, texts.Error(fmt.Errorf("wrap: %w", errs.ErrLimitReached)), "максимальное")
	require.Contains(t, texts.Error(errs.ErrBelowMinimum), "50")
	require.Contains(t, texts.Error(fmt.Errorf("boom")), "Попробуйте позже")
}

func TestSubscriptionReport(t *testing.T) {
	texts := NewTexts(rewards.StarPolicy())

	ok := texts.SubscriptionReport(7, gate.Decision{Pass: true})
	require.Contains(t, ok, "7 прошел все проверки")

	report := texts.SubscriptionReport(7, gate.Decision{
		Captcha:      gate.Satisfied,
		Subscription: gate.Required,
		Unsatisfied:  []models.RequiredChannel{{ChannelID: "@news", Username: "news", Title: "<News>"}},
		OracleErr:    errs.ErrOracleTimeout,
	})
	require.Contains(t, report, "Подписки: required")
	require.Contains(t, report, "&lt;News&gt;")
	require.Contains(t, report, "https://t.me/news")
	require.Contains(t, report, "timed out")
}
