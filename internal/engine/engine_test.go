package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/errs"
	"referral-bot/internal/gate"
	"referral-bot/internal/ledger"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
	"referral-bot/internal/rewards"
	"referral-bot/internal/testutil"
)

type memberOracle struct {
	mu      sync.Mutex
	members map[int64]bool
}

func (o *memberOracle) IsSubscribed(_ context.Context, userID int64, _ string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.members[userID], nil
}

func (o *memberOracle) join(userID int64) {
	o.mu.Lock()
	o.members[userID] = true
	o.mu.Unlock()
}

func newEngine(t *testing.T, policy rewards.Policy, captcha bool) (*Engine, *memberOracle, *notify.Recorder) {
	t.Helper()
	oracle := &memberOracle{members: map[int64]bool{}}
	sink := &notify.Recorder{}
	e := New(Deps{
		DB:             testutil.NewDB(t),
		Oracle:         oracle,
		Sink:           sink,
		Policy:         policy,
		CaptchaEnabled: captcha,
		OracleTimeout:  time.Second,
	})
	return e, oracle, sink
}

func ptr(id int64) *int64 { return &id }

func TestImmediatePolicyCreditsOnRegistration(t *testing.T) {
	e, _, sink := newEngine(t, rewards.CurrencyPolicy(), false)
	ctx := context.Background()
	require.NoError(t, e.Channels.Seed(ctx, []string{"@news"}))

	_, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 1})
	require.NoError(t, err)

	reg, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 2, ReferrerID: ptr(1)})
	require.NoError(t, err)
	require.True(t, reg.Created)
	require.True(t, reg.ReferrerLinked)
	require.False(t, reg.Decision.Pass)
	require.Equal(t, rewards.Credited, reg.Referral)

	balance, err := e.Store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, money.Units(10), balance)
	require.Len(t, sink.ByKind(notify.KindReferralRegistered), 1)
	require.Len(t, sink.ByKind(notify.KindReferralCredited), 1)

	// repeated /start does nothing new
	reg, err = e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 2, ReferrerID: ptr(1)})
	require.NoError(t, err)
	require.False(t, reg.Created)
	require.Equal(t, rewards.NoOp, reg.Referral)
	require.Len(t, sink.ByKind(notify.KindReferralCredited), 1)
}

func TestGatedFlowThroughCaptchaAndRecheck(t *testing.T) {
	e, oracle, sink := newEngine(t, rewards.StarPolicy(), true)
	ctx := context.Background()
	require.NoError(t, e.Channels.Seed(ctx, []string{"@news"}))

	_, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 1})
	require.NoError(t, err)
	reg, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 2, ReferrerID: ptr(1)})
	require.NoError(t, err)
	require.Equal(t, gate.Required, reg.Decision.Captcha)
	require.Equal(t, gate.Required, reg.Decision.Subscription)
	require.Equal(t, rewards.NoOp, reg.Referral)

	d, outcome, err := e.SolveCaptcha(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, gate.Satisfied, d.Captcha)
	require.Equal(t, gate.Required, d.Subscription)
	require.Equal(t, rewards.NotEligible, outcome)

	oracle.join(2)
	d, outcome, err = e.RecheckSubscription(ctx, 2)
	require.NoError(t, err)
	require.True(t, d.Pass)
	require.Equal(t, rewards.Credited, outcome)

	_, outcome, err = e.RecheckSubscription(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, rewards.NoOp, outcome)

	balance, err := e.Store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, money.Units(5), balance)
	balance, err = e.Store.GetBalance(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, money.Units(1), balance)
	require.Len(t, sink.ByKind(notify.KindReferralCredited), 1)
}

func TestAdminCreditAndProfile(t *testing.T) {
	e, _, _ := newEngine(t, rewards.StarPolicy(), false)
	ctx := context.Background()
	_, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 1})
	require.NoError(t, err)
	_, err = e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: 2, ReferrerID: ptr(1)})
	require.NoError(t, err)

	_, err = e.AdminCredit(ctx, 1, 0, 9)
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	balance, err := e.AdminCredit(ctx, 1, money.Units(100), 9)
	require.NoError(t, err)
	require.Equal(t, money.Units(105), balance)

	_, err = e.RequestWithdrawal(ctx, 1, money.Units(50), "@one")
	require.NoError(t, err)

	p, err := e.Profile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), p.Referrals)
	require.Equal(t, money.Units(5), p.ReferralEarnings)
	require.Equal(t, money.Units(50), p.Withdrawals.Pending)
	require.Equal(t, money.Units(55), p.Account.Balance)

	top, err := e.TopReferrers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
}

func TestDispatch(t *testing.T) {
	e, _, _ := newEngine(t, rewards.StarPolicy(), false)
	ctx := context.Background()

	res, err := e.Dispatch(ctx, Event{Type: EventUserRegistered, UserID: 1, Username: "one"})
	require.NoError(t, err)
	require.NotNil(t, res.Pass)
	require.True(t, *res.Pass)

	res, err = e.Dispatch(ctx, Event{Type: EventUserRegistered, UserID: 2, ReferrerID: ptr(1)})
	require.NoError(t, err)
	require.Equal(t, "credited", res.Outcome)

	res, err = e.Dispatch(ctx, Event{Type: EventGatePassed, UserID: 2})
	require.NoError(t, err)
	require.Equal(t, "noop", res.Outcome)

	res, err = e.Dispatch(ctx, Event{Type: EventDailyBonusRequested, UserID: 1})
	require.NoError(t, err)
	require.Equal(t, "credited", res.Outcome)
	require.Equal(t, "5.1", res.Balance)

	_, err = e.Dispatch(ctx, Event{Type: EventWithdrawalRequested, UserID: 1, Amount: "50", Contact: "@one"})
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)
	_, err = e.Dispatch(ctx, Event{Type: EventWithdrawalRequested, UserID: 1, Amount: "abc"})
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = e.AdminCredit(ctx, 1, money.Units(100), 9)
	require.NoError(t, err)
	res, err = e.Dispatch(ctx, Event{Type: EventWithdrawalRequested, UserID: 1, Amount: "50", Contact: "@one"})
	require.NoError(t, err)
	require.Equal(t, string(models.WithdrawalPending), res.Outcome)
	id := res.WithdrawalID

	res, err = e.Dispatch(ctx, Event{Type: EventWithdrawalRejected, WithdrawalID: id, AdminID: 9, Note: "no"})
	require.NoError(t, err)
	require.Equal(t, string(models.WithdrawalRejected), res.Outcome)
	_, err = e.Dispatch(ctx, Event{Type: EventWithdrawalApproved, WithdrawalID: id, AdminID: 9})
	require.ErrorIs(t, err, errs.ErrAlreadyProcessed)

	p, err := e.Promo.CreateNamedCode(ctx, "WELCOME", money.Units(3), 1, 9, "")
	require.NoError(t, err)
	res, err = e.Dispatch(ctx, Event{Type: EventCheckRedeemRequested, UserID: 2, Code: p.Code})
	require.NoError(t, err)
	require.Equal(t, "redeemed", res.Outcome)
	require.Equal(t, "4", res.Balance)

	_, err = e.Dispatch(ctx, Event{Type: "bogus"})
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDispatchRequiresGateForRewards(t *testing.T) {
	e, _, _ := newEngine(t, rewards.StarPolicy(), true)
	ctx := context.Background()

	_, err := e.Dispatch(ctx, Event{Type: EventUserRegistered, UserID: 1})
	require.NoError(t, err)
	p, err := e.Promo.CreateNamedCode(ctx, "GATED1", money.Units(3), 5, 9, "")
	require.NoError(t, err)

	_, err = e.Dispatch(ctx, Event{Type: EventDailyBonusRequested, UserID: 1})
	require.ErrorIs(t, err, errs.ErrNotEligible)
	_, err = e.Dispatch(ctx, Event{Type: EventCheckRedeemRequested, UserID: 1, Code: p.Code})
	require.ErrorIs(t, err, errs.ErrNotEligible)

	balance, err := e.Store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, money.Amount(0), balance)

	_, err = e.Dispatch(ctx, Event{Type: EventDailyBonusRequested, UserID: 404})
	require.ErrorIs(t, err, errs.ErrNotFound)

	res, err := e.Dispatch(ctx, Event{Type: EventCaptchaSolved, UserID: 1})
	require.NoError(t, err)
	require.True(t, *res.Pass)

	res, err = e.Dispatch(ctx, Event{Type: EventCheckRedeemRequested, UserID: 1, Code: p.Code})
	require.NoError(t, err)
	require.Equal(t, "3", res.Balance)
}

func TestDispatchRejectsOverflowingAmount(t *testing.T) {
	e, _, _ := newEngine(t, rewards.StarPolicy(), false)
	ctx := context.Background()

	_, err := e.Dispatch(ctx, Event{Type: EventUserRegistered, UserID: 1})
	require.NoError(t, err)
	_, err = e.AdminCredit(ctx, 1, money.Units(60), 9)
	require.NoError(t, err)

	_, err = e.Dispatch(ctx, Event{Type: EventWithdrawalRequested, UserID: 1, Amount: "184467440737095566.16", Contact: "@u"})
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	pending, err := e.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
	balance, err := e.Store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, money.Units(60), balance)
}
