package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"referral-bot/internal/captcha"
	"referral-bot/internal/errs"
	"referral-bot/internal/gate"
	"referral-bot/internal/ledger"
	"referral-bot/internal/logging"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/rewards"
)

const (
	historyLimit     = 20
	topLimit         = 10
	withdrawalsLimit = 10
)

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	msg := update.Message
	if msg.From == nil {
		return nil
	}
	userID := msg.From.ID

	var payload string
	if _, _, args := tu.ParseCommand(msg.Text); len(args) > 0 {
		payload = args[0]
	}
	referrerID, check := parseStartPayload(payload)
	if check != "" {
		b.rememberCheck(userID, check)
	}

	reg, err := b.Engine.RegisterOrUpdateAccount(ctx.Context(), ledger.RegisterParams{
		UserID:     userID,
		Username:   msg.From.Username,
		FullName:   fullName(msg.From),
		ReferrerID: referrerID,
	})
	if err != nil {
		logging.Error("Failed to register account", zap.Int64("user_id", userID), zap.Error(err))
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	if reg.Created {
		logging.Info("New account", zap.Int64("user_id", userID), zap.Bool("referred", reg.ReferrerLinked))
	}

	b.proceed(ctx.Context(), userID, reg.Decision, false)
	return nil
}

// proceed shows the next gate step, or the main menu once the gate passes.
func (b *Bot) proceed(ctx context.Context, userID int64, d gate.Decision, recheck bool) {
	switch {
	case d.Captcha == gate.Required:
		b.issueCaptcha(ctx, userID)
	case !d.Pass:
		if d.OracleErr != nil {
			logging.Warn("Subscription check incomplete", zap.Int64("user_id", userID), zap.Error(d.OracleErr))
		}
		b.sendWith(ctx, userID, b.Texts.Subscriptions(d.Unsatisfied, recheck), subscriptionsKeyboard(d.Unsatisfied))
	default:
		b.sendWith(ctx, userID, b.Texts.Welcome(), mainMenu())
		if code := b.takePendingCheck(userID); code != "" {
			b.redeem(ctx, userID, code)
		}
	}
}

func subscriptionsKeyboard(channels []models.RequiredChannel) *telego.InlineKeyboardMarkup {
	var rows [][]telego.InlineKeyboardButton
	for _, ch := range channels {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📢 "+ch.Title).WithURL(ch.URL()),
		))
	}
	rows = append(rows, tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("✅ Я подписался").WithCallbackData("check_subscription_after"),
	))
	return tu.InlineKeyboard(rows...)
}

func (b *Bot) issueCaptcha(ctx context.Context, userID int64) {
	c, err := captcha.Generate()
	if err == nil {
		err = b.Captcha.Save(ctx, userID, c)
	}
	if err != nil {
		logging.Error("Failed to issue captcha", zap.Int64("user_id", userID), zap.Error(err))
		b.send(ctx, userID, b.Texts.Error(err))
		return
	}

	var row []telego.InlineKeyboardButton
	for _, opt := range c.Options {
		row = append(row, tu.InlineKeyboardButton(strconv.Itoa(opt)).WithCallbackData(fmt.Sprintf("captcha_%d", opt)))
	}
	b.sendWith(ctx, userID, b.Texts.Captcha(c.Question), tu.InlineKeyboard(row))
}

func (b *Bot) handleCaptchaAnswer(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	userID := callback.From.ID
	answer := strings.TrimPrefix(callback.Data, "captcha_")

	ok, err := b.Captcha.Verify(ctx.Context(), userID, answer)
	switch {
	case errors.Is(err, captcha.ErrExpired):
		b.answer(ctx.Context(), callback.ID, "", false)
		b.send(ctx.Context(), userID, b.Texts.CaptchaExpired())
		return nil
	case err != nil:
		logging.Error("Failed to verify captcha", zap.Int64("user_id", userID), zap.Error(err))
		b.answer(ctx.Context(), callback.ID, b.Texts.Error(err), true)
		return nil
	case !ok:
		b.answer(ctx.Context(), callback.ID, b.Texts.CaptchaWrong(), true)
		b.issueCaptcha(ctx.Context(), userID)
		return nil
	}

	b.answer(ctx.Context(), callback.ID, "✅", false)
	d, outcome, err := b.Engine.SolveCaptcha(ctx.Context(), userID)
	if err != nil {
		logging.Error("Failed to record captcha", zap.Int64("user_id", userID), zap.Error(err))
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	if outcome == rewards.Credited {
		logging.Info("Referral credited after captcha", zap.Int64("user_id", userID))
	}
	b.proceed(ctx.Context(), userID, d, false)
	return nil
}

func (b *Bot) handleRecheck(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	userID := callback.From.ID

	d, _, err := b.Engine.RecheckSubscription(ctx.Context(), userID)
	if err != nil {
		b.answer(ctx.Context(), callback.ID, b.Texts.Error(err), true)
		return nil
	}
	b.answer(ctx.Context(), callback.ID, "", false)
	b.proceed(ctx.Context(), userID, d, true)
	return nil
}

// requireAccess re-runs the gate before a menu action and shows the missing
// step when it fails.
func (b *Bot) requireAccess(ctx context.Context, userID int64) bool {
	d, err := b.Engine.Evaluate(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		b.send(ctx, userID, "👋 Отправьте /start, чтобы начать.")
		return false
	}
	if err != nil {
		logging.Error("Failed to evaluate access", zap.Int64("user_id", userID), zap.Error(err))
		b.send(ctx, userID, b.Texts.Error(err))
		return false
	}
	if !d.Pass {
		b.proceed(ctx, userID, d, false)
		return false
	}
	return true
}

func (b *Bot) handleProfile(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	p, err := b.Engine.Profile(ctx.Context(), userID)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), userID, b.Texts.Profile(p))
	return nil
}

func (b *Bot) handleInvite(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	n, err := b.Engine.Store.CountReferrals(ctx.Context(), userID)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), userID, b.Texts.Invite(b.referralLink(userID), n))
	return nil
}

func (b *Bot) handleDaily(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	res, err := b.Engine.TryCreditDailyBonus(ctx.Context(), userID)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	if res.Outcome == rewards.Credited {
		b.send(ctx.Context(), userID, b.Texts.DailyCredited(res.Amount, res.Balance))
		return nil
	}
	b.send(ctx.Context(), userID, b.Texts.DailyTooEarly(res.NextAt, b.Engine.Store.Now()))
	return nil
}

func (b *Bot) handleWithdraw(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	balance, err := b.Engine.Store.GetBalance(ctx.Context(), userID)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	minimum := b.Engine.Withdrawals.Minimum()
	if balance < minimum {
		b.send(ctx.Context(), userID, b.Texts.Error(errs.ErrBelowMinimum))
		return nil
	}
	b.setState(userID, userState{Name: stateWithdrawAmount})
	b.send(ctx.Context(), userID, b.Texts.WithdrawPrompt(balance, minimum))
	return nil
}

func (b *Bot) handleHistory(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	txs, err := b.Engine.GetTransactionHistory(ctx.Context(), userID, historyLimit)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), userID, b.Texts.History(txs))
	return nil
}

func (b *Bot) handleTop(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	stats, err := b.Engine.TopReferrers(ctx.Context(), topLimit)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), userID, b.Texts.TopReferrers(stats))
	return nil
}

func (b *Bot) handleCheckPrompt(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	b.setState(userID, userState{Name: stateCheckCode})
	b.send(ctx.Context(), userID, b.Texts.CheckPrompt())
	return nil
}

func (b *Bot) handleMyWithdrawals(ctx *th.Context, update telego.Update) error {
	userID := update.Message.From.ID
	if !b.requireAccess(ctx.Context(), userID) {
		return nil
	}
	list, err := b.Engine.Withdrawals.ListForAccount(ctx.Context(), userID, withdrawalsLimit)
	if err != nil {
		b.send(ctx.Context(), userID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), userID, b.Texts.Withdrawals(list))
	return nil
}

func (b *Bot) redeem(ctx context.Context, userID int64, code string) {
	r, err := b.Engine.Redeem(ctx, code, userID)
	if err != nil {
		if !errs.IsExpected(err) {
			logging.Error("Failed to redeem check", zap.Int64("user_id", userID), zap.String("code", code), zap.Error(err))
		}
		b.send(ctx, userID, b.Texts.Error(err))
		return
	}
	b.send(ctx, userID, b.Texts.CheckActivated(r.Reward, r.Balance))
}

func (b *Bot) handleText(ctx *th.Context, update telego.Update) error {
	msg := update.Message
	if msg.From == nil || msg.Chat.Type != telego.ChatTypePrivate {
		return nil
	}
	userID := msg.From.ID
	state, ok := b.getState(userID)
	if !ok || state.Name == "" {
		return nil
	}
	text := strings.TrimSpace(msg.Text)

	switch state.Name {
	case stateWithdrawAmount:
		amount, err := money.Parse(text)
		if err != nil || amount <= 0 {
			b.send(ctx.Context(), userID, b.Texts.Error(errs.ErrInvalidAmount))
			return nil
		}
		if amount < b.Engine.Withdrawals.Minimum() {
			b.clearState(userID)
			b.send(ctx.Context(), userID, b.Texts.Error(errs.ErrBelowMinimum))
			return nil
		}
		state.Name = stateWithdrawContact
		state.Amount = amount
		b.setState(userID, state)
		b.send(ctx.Context(), userID, b.Texts.WithdrawContactPrompt())

	case stateWithdrawContact:
		b.clearState(userID)
		w, err := b.Engine.RequestWithdrawal(ctx.Context(), userID, state.Amount, text)
		if err != nil {
			b.send(ctx.Context(), userID, b.Texts.Error(err))
			return nil
		}
		b.send(ctx.Context(), userID, b.Texts.WithdrawCreated(w))

	case stateCheckCode:
		b.clearState(userID)
		b.redeem(ctx.Context(), userID, text)

	case stateApproveNote, stateRejectReason:
		b.clearState(userID)
		if !b.Config.IsAdmin(userID) {
			return nil
		}
		note := text
		if strings.EqualFold(note, "нет") {
			note = ""
		}
		b.decide(ctx.Context(), userID, state.WithdrawalID, state.Name == stateApproveNote, note)
	}
	return nil
}
