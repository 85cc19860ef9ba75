package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"referral-bot/internal/testutil"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []*telego.SendMessageParams
	edited   []*telego.EditMessageTextParams
	failures int
	nextID   int
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("telegram: 502 bad gateway")
	}
	f.nextID++
	f.sent = append(f.sent, params)
	return &telego.Message{MessageID: 100 + f.nextID}, nil
}

func (f *fakeSender) EditMessageText(_ context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, params)
	return &telego.Message{MessageID: params.MessageID}, nil
}

func renderAll(req Request, target Target) (Message, bool) {
	if target == ToChannel {
		return Message{Text: "channel " + string(req.Kind)}, true
	}
	if req.Kind == KindWithdrawalCreated {
		return Message{}, false
	}
	return Message{Text: "user " + string(req.Kind)}, true
}

func TestTelegramWithdrawalPostIsEdited(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	sender := &fakeSender{}
	tg := NewTelegram(sender, rdb, renderAll, TelegramConfig{ChannelID: "-100555", RetryDelay: time.Millisecond})
	ctx := context.Background()

	created := New(KindWithdrawalCreated, 7)
	created.WithdrawalID = 3
	tg.deliver(ctx, created)

	require.Len(t, sender.sent, 1)
	require.Equal(t, "channel withdrawal_created", sender.sent[0].Text)

	approved := New(KindWithdrawalApproved, 7)
	approved.WithdrawalID = 3
	tg.deliver(ctx, approved)

	require.Len(t, sender.sent, 2)
	require.Equal(t, "user withdrawal_approved", sender.sent[1].Text)
	require.Len(t, sender.edited, 1)
	require.Equal(t, 101, sender.edited[0].MessageID)
}

func TestTelegramRetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{failures: 2}
	tg := NewTelegram(sender, nil, renderAll, TelegramConfig{Attempts: 3, RetryDelay: time.Millisecond})

	tg.deliver(context.Background(), New(KindReferralCredited, 9))
	require.Len(t, sender.sent, 1)
}

func TestTelegramNotifyDropsWhenFull(t *testing.T) {
	tg := NewTelegram(&fakeSender{}, nil, renderAll, TelegramConfig{QueueSize: 1})
	tg.Notify(context.Background(), New(KindReferralCredited, 1))
	tg.Notify(context.Background(), New(KindReferralCredited, 2))
	require.Len(t, tg.queue, 1)
}

func TestTelegramRunDeliversQueued(t *testing.T) {
	sender := &fakeSender{}
	tg := NewTelegram(sender, nil, renderAll, TelegramConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tg.Run(ctx)
	tg.Notify(ctx, New(KindReferralRegistered, 5))

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(context.Background(), New(KindReferralCredited, 1))
	r.Notify(context.Background(), New(KindWithdrawalReady, 1))
	require.Len(t, r.Requests(), 2)
	require.Len(t, r.ByKind(KindWithdrawalReady), 1)
	require.NotEmpty(t, r.Requests()[0].ID)
}
