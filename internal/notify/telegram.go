package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"referral-bot/internal/logging"
	"referral-bot/internal/metrics"
)

// Target is where a rendered message goes.
type Target int

const (
	ToUser Target = iota
	ToChannel
)

type Message struct {
	Text   string
	Markup *telego.InlineKeyboardMarkup
}

// Renderer builds the text for req. ok=false means nothing is sent to that
// target.
type Renderer func(req Request, target Target) (msg Message, ok bool)

// Sender is the part of *telego.Bot the sink uses.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
}

type TelegramConfig struct {
	// ChannelID receives withdrawal review posts. Empty disables them.
	ChannelID  string
	QueueSize  int
	Attempts   uint
	RetryDelay time.Duration
	PostTTL    time.Duration
}

// Telegram queues requests and delivers them from Run.
type Telegram struct {
	bot    Sender
	rdb    *redis.Client
	render Renderer
	cfg    TelegramConfig
	queue  chan Request
}

func NewTelegram(bot Sender, rdb *redis.Client, render Renderer, cfg TelegramConfig) *Telegram {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.PostTTL <= 0 {
		cfg.PostTTL = 30 * 24 * time.Hour
	}
	return &Telegram{
		bot:    bot,
		rdb:    rdb,
		render: render,
		cfg:    cfg,
		queue:  make(chan Request, cfg.QueueSize),
	}
}

// Notify never blocks; a full queue drops the request.
func (t *Telegram) Notify(_ context.Context, req Request) {
	select {
	case t.queue <- req:
	default:
		metrics.NotificationsSent.WithLabelValues(string(req.Kind), "dropped").Inc()
		logging.Warn("Notification queue full, dropping request",
			zap.String("id", req.ID), zap.String("kind", string(req.Kind)), zap.Int64("user_id", req.UserID))
	}
}

// Run delivers queued requests until ctx is done.
func (t *Telegram) Run(ctx context.Context) {
	logging.Info("Notification sender started")
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-t.queue:
			t.deliver(ctx, req)
		}
	}
}

func (t *Telegram) deliver(ctx context.Context, req Request) {
	logger := logging.With(zap.String("id", req.ID), zap.String("kind", string(req.Kind)), zap.Int64("user_id", req.UserID))

	if msg, ok := t.render(req, ToUser); ok && req.UserID != 0 {
		_, err := t.send(ctx, tu.ID(req.UserID), msg)
		t.record(logger, req, "user", err)
	}

	if t.cfg.ChannelID == "" || req.WithdrawalID == 0 {
		return
	}
	msg, ok := t.render(req, ToChannel)
	if !ok {
		return
	}

	if req.Kind == KindWithdrawalCreated {
		sent, err := t.send(ctx, channelChatID(t.cfg.ChannelID), msg)
		t.record(logger, req, "channel", err)
		if err == nil && t.rdb != nil {
			if err := t.rdb.Set(ctx, postKey(req.WithdrawalID), sent.MessageID, t.cfg.PostTTL).Err(); err != nil {
				logger.Warn("Failed to remember withdrawal post", zap.Error(err))
			}
		}
		return
	}

	err := t.editPost(ctx, req.WithdrawalID, msg)
	if errors.Is(err, redis.Nil) {
		_, err = t.send(ctx, channelChatID(t.cfg.ChannelID), msg)
	}
	t.record(logger, req, "channel", err)
}

func (t *Telegram) editPost(ctx context.Context, withdrawalID uint, msg Message) error {
	if t.rdb == nil {
		return redis.Nil
	}
	messageID, err := t.rdb.Get(ctx, postKey(withdrawalID)).Int()
	if err != nil {
		return err
	}
	return t.withRetry(ctx, func() error {
		_, err := t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:      channelChatID(t.cfg.ChannelID),
			MessageID:   messageID,
			Text:        msg.Text,
			ParseMode:   telego.ModeHTML,
			ReplyMarkup: msg.Markup,
		})
		return err
	})
}

func (t *Telegram) send(ctx context.Context, chatID telego.ChatID, msg Message) (*telego.Message, error) {
	var sent *telego.Message
	err := t.withRetry(ctx, func() error {
		params := tu.Message(chatID, msg.Text).WithParseMode(telego.ModeHTML)
		if msg.Markup != nil {
			params = params.WithReplyMarkup(msg.Markup)
		}
		var err error
		sent, err = t.bot.SendMessage(ctx, params)
		return err
	})
	return sent, err
}

func (t *Telegram) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(t.cfg.Attempts),
		retry.Delay(t.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (t *Telegram) record(logger *zap.Logger, req Request, target string, err error) {
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(req.Kind), "failed").Inc()
		logger.Warn("Failed to deliver notification", zap.String("target", target), zap.Error(err))
		return
	}
	metrics.NotificationsSent.WithLabelValues(string(req.Kind), "sent").Inc()
}

func postKey(withdrawalID uint) string {
	return fmt.Sprintf("withdrawal_post_%d", withdrawalID)
}

// channelChatID accepts a numeric id or an @username.
func channelChatID(id string) telego.ChatID {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tu.ID(n)
	}
	return tu.Username(id)
}
