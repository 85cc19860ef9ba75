package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-bot/internal/errs"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/testutil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.NewDB(t))
}

func register(t *testing.T, s *Store, id int64, referrer *int64) *RegisterResult {
	t.Helper()
	res, err := s.RegisterOrUpdateAccount(context.Background(), RegisterParams{
		UserID:     id,
		Username:   "user",
		FullName:   "User",
		ReferrerID: referrer,
	})
	require.NoError(t, err)
	return res
}

func requireLedgerConsistent(t *testing.T, s *Store, id int64) {
	t.Helper()
	ctx := context.Background()
	balance, err := s.GetBalance(ctx, id)
	require.NoError(t, err)
	sum, err := s.SumTransactions(ctx, id)
	require.NoError(t, err)
	require.Equal(t, balance, sum)
}

func TestRegisterCreatesAccountWithRegistrationEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	res := register(t, s, 100, nil)
	require.True(t, res.Created)
	require.False(t, res.ReferrerLinked)
	require.Equal(t, money.Amount(0), res.Account.Balance)

	history, err := s.GetTransactionHistory(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.KindRegistration, history[0].Kind)
	require.Equal(t, money.Amount(0), history[0].Delta)

	again := register(t, s, 100, nil)
	require.False(t, again.Created)

	history, err = s.GetTransactionHistory(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRegisterReferrerRules(t *testing.T) {
	s := newStore(t)

	self := int64(1)
	res := register(t, s, 1, &self)
	require.Nil(t, res.Account.ReferredBy)

	unknown := int64(999)
	res = register(t, s, 2, &unknown)
	require.Nil(t, res.Account.ReferredBy)
	require.False(t, res.ReferrerLinked)

	// existing account without referrer may still be linked once
	ref := int64(1)
	res = register(t, s, 2, &ref)
	require.True(t, res.ReferrerLinked)
	require.Equal(t, int64(1), *res.Account.ReferredBy)

	register(t, s, 3, nil)
	other := int64(3)
	res = register(t, s, 2, &other)
	require.False(t, res.ReferrerLinked)
	require.Equal(t, int64(1), *res.Account.ReferredBy)

	// no cycles
	back := int64(2)
	res = register(t, s, 1, &back)
	require.Nil(t, res.Account.ReferredBy)
}

func TestApplyTransaction(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	register(t, s, 10, nil)

	balance, err := s.ApplyTransaction(ctx, 10, money.Units(5), models.KindAdminAdd, "bonus")
	require.NoError(t, err)
	require.Equal(t, money.Units(5), balance)

	balance, err = s.ApplyTransaction(ctx, 10, money.Amount(-150), models.KindWithdrawal, "payout")
	require.NoError(t, err)
	require.Equal(t, money.Amount(350), balance)

	_, err = s.ApplyTransaction(ctx, 10, money.Amount(-351), models.KindWithdrawal, "payout")
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	_, err = s.ApplyTransaction(ctx, 11, money.Units(1), models.KindAdminAdd, "")
	require.ErrorIs(t, err, errs.ErrNotFound)

	history, err := s.GetTransactionHistory(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, models.KindWithdrawal, history[0].Kind)
	require.Equal(t, money.Amount(350), history[0].BalanceAfter)

	requireLedgerConsistent(t, s, 10)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	register(t, s, 20, nil)
	_, err := s.ApplyTransaction(ctx, 20, money.Units(10), models.KindAdminAdd, "")
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyTransaction(ctx, 20, money.Units(-1), models.KindWithdrawal, "")
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	balance, err := s.GetBalance(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, money.Amount(0), balance)
	requireLedgerConsistent(t, s, 20)
}

func TestReferralQueries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	register(t, s, 1, nil)
	register(t, s, 2, nil)
	one, two := int64(1), int64(2)
	register(t, s, 3, &one)
	register(t, s, 4, &one)
	register(t, s, 5, &two)

	n, err := s.CountReferrals(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	top, err := s.TopReferrers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, int64(1), top[0].UserID)
	require.Equal(t, int64(2), top[0].Referrals)

	pending, err := s.PendingReferrals(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	pending, err = s.PendingReferrals(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, int64(4), pending[0].UserID)
}

func TestMarkCaptchaSolved(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	register(t, s, 1, nil)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.MarkCaptchaSolved(ctx, 1, at))

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, acc.CaptchaSolvedAt)
	require.True(t, at.Equal(*acc.CaptchaSolvedAt))

	require.ErrorIs(t, s.MarkCaptchaSolved(ctx, 2, at), errs.ErrNotFound)
}
