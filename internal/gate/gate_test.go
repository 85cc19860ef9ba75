package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/errs"
	"referral-bot/internal/models"
)

type fakeAccounts map[int64]*models.Account

func (f fakeAccounts) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	acc, ok := f[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return acc, nil
}

type fakeChannels []models.RequiredChannel

func (f fakeChannels) RequiredChannels(context.Context) ([]models.RequiredChannel, error) {
	return f, nil
}

type fakeOracle struct {
	members map[string]bool
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (o *fakeOracle) IsSubscribed(ctx context.Context, _ int64, channelID string) (bool, error) {
	o.calls.Add(1)
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if o.err != nil {
		return false, o.err
	}
	return o.members[channelID], nil
}

var now = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func channel(id string) models.RequiredChannel {
	return models.RequiredChannel{ChannelID: id, Title: id, Kind: models.ChannelRequired, IsActive: true}
}

func solvedAt(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func newEvaluator(acc *models.Account, chans fakeChannels, oracle Oracle, captcha bool) *Evaluator {
	return NewEvaluator(fakeAccounts{acc.UserID: acc}, chans, oracle, Config{
		CaptchaEnabled: captcha,
		OracleTimeout:  50 * time.Millisecond,
		Now:            func() time.Time { return now },
	})
}

func TestCaptchaValidity(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}

	cases := []struct {
		name     string
		solvedAt *time.Time
		enabled  bool
		want     Status
	}{
		{"never solved", nil, true, Required},
		{"fresh", solvedAt(time.Hour), true, Satisfied},
		{"expired", solvedAt(25 * time.Hour), true, Required},
		{"exactly 24h", solvedAt(24 * time.Hour), true, Required},
		{"disabled", nil, false, Satisfied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acc := &models.Account{UserID: 1, CaptchaSolvedAt: tc.solvedAt}
			d, err := newEvaluator(acc, nil, oracle, tc.enabled).Evaluate(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, tc.want, d.Captcha)
			require.Equal(t, tc.want == Satisfied, d.Pass)
		})
	}
	require.Zero(t, oracle.calls.Load())
}

func TestPlaceholderChannelsAreNoRequirement(t *testing.T) {
	acc := &models.Account{UserID: 1, CaptchaSolvedAt: solvedAt(time.Minute)}
	oracle := &fakeOracle{}
	d, err := newEvaluator(acc, fakeChannels{channel("@your_channel"), channel("-100XXXXXXXXXX")}, oracle, true).
		Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, d.Pass)
	require.Equal(t, Satisfied, d.Subscription)
	require.Zero(t, oracle.calls.Load())
}

func TestSubscriptionUnsatisfiedChannels(t *testing.T) {
	acc := &models.Account{UserID: 1, CaptchaSolvedAt: solvedAt(time.Minute)}
	oracle := &fakeOracle{members: map[string]bool{"@a": true}}
	d, err := newEvaluator(acc, fakeChannels{channel("@a"), channel("@b")}, oracle, true).
		Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, d.Pass)
	require.Equal(t, Required, d.Subscription)
	require.Len(t, d.Unsatisfied, 1)
	require.Equal(t, "@b", d.Unsatisfied[0].ChannelID)
	require.NoError(t, d.OracleErr)

	oracle.members["@b"] = true
	d, err = newEvaluator(acc, fakeChannels{channel("@a"), channel("@b")}, oracle, true).
		Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, d.Pass)
}

func TestOracleFailureIsFailClosed(t *testing.T) {
	acc := &models.Account{UserID: 1}
	oracle := &fakeOracle{err: errors.New("chat not found")}
	d, err := newEvaluator(acc, fakeChannels{channel("@a")}, oracle, false).Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, d.Pass)
	require.Error(t, d.OracleErr)
	require.Len(t, d.Unsatisfied, 1)
}

func TestOracleTimeout(t *testing.T) {
	acc := &models.Account{UserID: 1}
	oracle := &fakeOracle{delay: time.Second, members: map[string]bool{"@a": true}}

	start := time.Now()
	d, err := newEvaluator(acc, fakeChannels{channel("@a")}, oracle, false).Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.False(t, d.Pass)
	require.ErrorIs(t, d.OracleErr, errs.ErrOracleTimeout)
}

func TestUnknownAccountIsAnError(t *testing.T) {
	e := NewEvaluator(fakeAccounts{}, fakeChannels{}, &fakeOracle{}, Config{})
	_, err := e.Evaluate(context.Background(), 42)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEvaluateIsRepeatable(t *testing.T) {
	acc := &models.Account{UserID: 1, CaptchaSolvedAt: solvedAt(time.Minute)}
	oracle := &fakeOracle{members: map[string]bool{"@a": true}}
	e := newEvaluator(acc, fakeChannels{channel("@a")}, oracle, true)

	first, err := e.Evaluate(context.Background(), 1)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
