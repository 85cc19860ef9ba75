package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"referral-bot/internal/captcha"
	"referral-bot/internal/config"
	"referral-bot/internal/engine"
	"referral-bot/internal/logging"
	"referral-bot/internal/money"
)

const (
	stateWithdrawAmount  = "WAITING_WITHDRAW_AMOUNT"
	stateWithdrawContact = "WAITING_WITHDRAW_CONTACT"
	stateCheckCode       = "WAITING_CHECK_CODE"
	stateApproveNote     = "WAITING_APPROVE_NOTE"
	stateRejectReason    = "WAITING_REJECT_REASON"
)

const (
	btnProfile     = "⭐ Мой профиль"
	btnInvite      = "🔗 Пригласить друзей"
	btnDaily       = "🎁 Ежедневный бонус"
	btnWithdraw    = "💰 Вывод"
	btnHistory     = "📊 Моя статистика"
	btnTop         = "🏆 Топ рефереров"
	btnCheck       = "🎫 Активировать чек"
	btnWithdrawals = "📋 Мои заявки"
)

type userState struct {
	Name         string
	Amount       money.Amount
	WithdrawalID uint
	// PendingCheck is a code from a /start link, redeemed once the gate passes.
	PendingCheck string
}

type Bot struct {
	Instance *telego.Bot
	Engine   *engine.Engine
	Captcha  *captcha.Store
	Config   *config.Config
	Texts    Texts

	UserStates map[int64]userState
	StatesMu   sync.RWMutex

	username string
}

func NewBot(instance *telego.Bot, e *engine.Engine, captchaStore *captcha.Store, cfg *config.Config) *Bot {
	return &Bot{
		Instance:   instance,
		Engine:     e,
		Captcha:    captchaStore,
		Config:     cfg,
		Texts:      NewTexts(e.Policy()),
		UserStates: make(map[int64]userState),
	}
}

// Start polls for updates and blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if me, err := b.Instance.GetMe(ctx); err == nil {
		b.username = me.Username
	} else {
		logging.Warn("Failed to get bot info", zap.Error(err))
	}

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	handler.Handle(b.handleStart, th.CommandEqual("start"))

	// admin commands
	handler.Handle(b.adminOnly(b.handleAdminHelp), th.CommandEqual("admin"))
	handler.Handle(b.adminOnly(b.handleStats), th.CommandEqual("stats"))
	handler.Handle(b.adminOnly(b.handlePending), th.CommandEqual("pending"))
	handler.Handle(b.adminOnly(b.handleNewCheck), th.CommandEqual("newcheck"))
	handler.Handle(b.adminOnly(b.handleChecks), th.CommandEqual("checks"))
	handler.Handle(b.adminOnly(b.handleCheckInfo), th.CommandEqual("check"))
	handler.Handle(b.adminOnly(b.handleDeactivate), th.CommandEqual("deactivate"))
	handler.Handle(b.adminOnly(b.handleAddStars), th.CommandEqual("addstars"))
	handler.Handle(b.adminOnly(b.handleAddChannel), th.CommandEqual("addchannel"))
	handler.Handle(b.adminOnly(b.handleAddLink), th.CommandEqual("addlink"))
	handler.Handle(b.adminOnly(b.handleChannels), th.CommandEqual("channels"))
	handler.Handle(b.adminOnly(b.handleDelChannel), th.CommandEqual("delchannel"))
	handler.Handle(b.adminOnly(b.handleCheckSubs), th.CommandEqual("checksubs"))

	// callbacks
	handler.Handle(b.handleCaptchaAnswer, th.CallbackDataPrefix("captcha_"))
	handler.Handle(b.handleRecheck, th.CallbackDataEqual("check_subscription_after"))
	handler.Handle(b.handleDecisionCallback, th.CallbackDataPrefix("admin_approve_"))
	handler.Handle(b.handleDecisionCallback, th.CallbackDataPrefix("admin_reject_"))

	// menu
	handler.Handle(b.handleProfile, th.TextEqual(btnProfile))
	handler.Handle(b.handleInvite, th.TextEqual(btnInvite))
	handler.Handle(b.handleDaily, th.TextEqual(btnDaily))
	handler.Handle(b.handleWithdraw, th.TextEqual(btnWithdraw))
	handler.Handle(b.handleHistory, th.TextEqual(btnHistory))
	handler.Handle(b.handleTop, th.TextEqual(btnTop))
	handler.Handle(b.handleCheckPrompt, th.TextEqual(btnCheck))
	handler.Handle(b.handleMyWithdrawals, th.TextEqual(btnWithdrawals))

	// Handle Text Input (state machine), must stay last
	handler.Handle(b.handleText, th.AnyMessageWithText())

	logging.Info("Bot started", zap.String("username", b.username))
	return handler.Start()
}

func mainMenu() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(btnProfile), tu.KeyboardButton(btnInvite)),
		tu.KeyboardRow(tu.KeyboardButton(btnDaily), tu.KeyboardButton(btnWithdraw)),
		tu.KeyboardRow(tu.KeyboardButton(btnHistory), tu.KeyboardButton(btnTop)),
		tu.KeyboardRow(tu.KeyboardButton(btnCheck), tu.KeyboardButton(btnWithdrawals)),
	).WithResizeKeyboard()
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	b.sendWith(ctx, chatID, text, nil)
}

func (b *Bot) sendWith(ctx context.Context, chatID int64, text string, markup telego.ReplyMarkup) {
	params := tu.Message(tu.ID(chatID), text).WithParseMode(telego.ModeHTML)
	if markup != nil {
		params = params.WithReplyMarkup(markup)
	}
	if _, err := b.Instance.SendMessage(ctx, params); err != nil {
		logging.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string, alert bool) {
	params := tu.CallbackQuery(callbackID)
	if text != "" {
		params = params.WithText(text)
	}
	if alert {
		params = params.WithShowAlert()
	}
	_ = b.Instance.AnswerCallbackQuery(ctx, params)
}

func (b *Bot) setState(userID int64, s userState) {
	b.StatesMu.Lock()
	b.UserStates[userID] = s
	b.StatesMu.Unlock()
}

func (b *Bot) getState(userID int64) (userState, bool) {
	b.StatesMu.RLock()
	defer b.StatesMu.RUnlock()
	s, ok := b.UserStates[userID]
	return s, ok
}

// clearState drops the dialog state but keeps a pending check code.
func (b *Bot) clearState(userID int64) {
	b.StatesMu.Lock()
	defer b.StatesMu.Unlock()
	s, ok := b.UserStates[userID]
	if !ok {
		return
	}
	if s.PendingCheck == "" {
		delete(b.UserStates, userID)
		return
	}
	b.UserStates[userID] = userState{PendingCheck: s.PendingCheck}
}

func (b *Bot) takePendingCheck(userID int64) string {
	b.StatesMu.Lock()
	defer b.StatesMu.Unlock()
	s, ok := b.UserStates[userID]
	if !ok || s.PendingCheck == "" {
		return ""
	}
	code := s.PendingCheck
	s.PendingCheck = ""
	if s.Name == "" {
		delete(b.UserStates, userID)
	} else {
		b.UserStates[userID] = s
	}
	return code
}

func (b *Bot) rememberCheck(userID int64, code string) {
	b.StatesMu.Lock()
	defer b.StatesMu.Unlock()
	s := b.UserStates[userID]
	s.PendingCheck = code
	b.UserStates[userID] = s
}

// parseStartPayload reads "ref_<id>" and "check_<code>" deep links.
func parseStartPayload(payload string) (referrerID *int64, check string) {
	switch {
	case strings.HasPrefix(payload, "ref_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(payload, "ref_"), 10, 64)
		if err == nil && id > 0 {
			return &id, ""
		}
	case strings.HasPrefix(payload, "check_"):
		return nil, strings.TrimPrefix(payload, "check_")
	}
	return nil, ""
}

func (b *Bot) botUsername() string {
	if b.username != "" {
		return b.username
	}
	return "bot"
}

func (b *Bot) referralLink(userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%d", b.botUsername(), userID)
}

func (b *Bot) checkLink(code string) string {
	return fmt.Sprintf("https://t.me/%s?start=check_%s", b.botUsername(), code)
}

func fullName(u *telego.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (b *Bot) adminOnly(next th.Handler) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		if update.Message == nil || update.Message.From == nil || !b.Config.IsAdmin(update.Message.From.ID) {
			return nil
		}
		return next(ctx, update)
	}
}
