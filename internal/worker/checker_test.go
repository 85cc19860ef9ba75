package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/engine"
	"referral-bot/internal/gate"
	"referral-bot/internal/ledger"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
	"referral-bot/internal/rewards"
	"referral-bot/internal/testutil"
)

func TestSweepCreditsOnceGatePasses(t *testing.T) {
	subscribed := false
	sink := &notify.Recorder{}
	e := engine.New(engine.Deps{
		DB: testutil.NewDB(t),
		Oracle: gate.OracleFunc(func(context.Context, int64, string) (bool, error) {
			return subscribed, nil
		}),
		Sink:   sink,
		Policy: rewards.StarPolicy(),
	})
	ctx := context.Background()
	require.NoError(t, e.Channels.Seed(ctx, []string{"@news"}))

	ref := int64(1)
	for _, p := range []ledger.RegisterParams{{UserID: 1}, {UserID: 2, ReferrerID: &ref}, {UserID: 3, ReferrerID: &ref}} {
		_, err := e.RegisterOrUpdateAccount(ctx, p)
		require.NoError(t, err)
	}

	rdb, _ := testutil.NewRedis(t)
	c := NewChecker(e, rdb, sink, time.Minute, 1)

	credited, err := c.sweepReferrals(ctx)
	require.NoError(t, err)
	require.Zero(t, credited)

	subscribed = true
	credited, err = c.sweepReferrals(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, credited)

	credited, err = c.sweepReferrals(ctx)
	require.NoError(t, err)
	require.Zero(t, credited)

	balance, err := e.Store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, money.Units(10), balance)
}

func TestWithdrawReadyReminderOncePerDay(t *testing.T) {
	sink := &notify.Recorder{}
	e := engine.New(engine.Deps{DB: testutil.NewDB(t), Sink: sink, Policy: rewards.StarPolicy()})
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{UserID: id})
		require.NoError(t, err)
	}
	_, err := e.AdminCredit(ctx, 1, money.Units(50), 0)
	require.NoError(t, err)
	_, err = e.AdminCredit(ctx, 3, money.Units(75), 0)
	require.NoError(t, err)

	rdb, mr := testutil.NewRedis(t)
	c := NewChecker(e, rdb, sink, time.Minute, 10)

	c.RunOnce(ctx)
	c.RunOnce(ctx)
	reminders := sink.ByKind(notify.KindWithdrawalReady)
	require.Len(t, reminders, 2)
	require.Equal(t, int64(1), reminders[0].UserID)
	require.Equal(t, money.Units(75), reminders[1].Balance)

	mr.FastForward(25 * time.Hour)
	c.RunOnce(ctx)
	require.Len(t, sink.ByKind(notify.KindWithdrawalReady), 4)
}
