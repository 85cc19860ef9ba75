package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"referral-bot/internal/logging"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
)

const adminHelp = `<b>🛠 Команды администратора</b>

/stats - общая статистика
/pending - заявки на вывод
/newcheck &lt;сумма&gt; &lt;активаций&gt; [описание] - создать чек
/checks - список чеков
/check &lt;код&gt; - информация о чеке
/deactivate &lt;код&gt; - отключить чек
/addstars &lt;user_id&gt; &lt;сумма&gt; - начислить баланс
/addchannel &lt;@канал|id&gt; [название] - обязательный канал
/addlink &lt;ссылка&gt; &lt;название&gt; - ссылка без проверки
/channels - список каналов
/delchannel &lt;id&gt; - удалить канал
/checksubs &lt;user_id&gt; - проверить подписки пользователя`

const pendingLimit = 20

func commandArgs(text string) []string {
	_, _, args := tu.ParseCommand(text)
	return args
}

// parseDecision reads "admin_approve_<id>" and "admin_reject_<id>".
func parseDecision(data string) (id uint, approve bool, ok bool) {
	var raw string
	switch {
	case strings.HasPrefix(data, "admin_approve_"):
		raw, approve = strings.TrimPrefix(data, "admin_approve_"), true
	case strings.HasPrefix(data, "admin_reject_"):
		raw = strings.TrimPrefix(data, "admin_reject_")
	default:
		return 0, false, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, false, false
	}
	return uint(n), approve, true
}

func (b *Bot) handleDecisionCallback(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	adminID := callback.From.ID
	if !b.Config.IsAdmin(adminID) {
		b.answer(ctx.Context(), callback.ID, "⛔ Недостаточно прав.", true)
		return nil
	}
	id, approve, ok := parseDecision(callback.Data)
	if !ok {
		b.answer(ctx.Context(), callback.ID, "", false)
		return nil
	}

	w, err := b.Engine.Withdrawals.Get(ctx.Context(), id)
	if err != nil {
		b.answer(ctx.Context(), callback.ID, b.Texts.Error(err), true)
		return nil
	}
	if !w.IsPending() {
		b.answer(ctx.Context(), callback.ID, "⚠️ Заявка уже обработана.", true)
		return nil
	}

	state := userState{Name: stateRejectReason, WithdrawalID: id}
	prompt := fmt.Sprintf("❌ Укажите причину отказа по заявке #%d (или «нет»):", id)
	if approve {
		state.Name = stateApproveNote
		prompt = fmt.Sprintf("✅ Комментарий к одобрению заявки #%d (или «нет»):", id)
	}
	b.setState(adminID, state)
	b.answer(ctx.Context(), callback.ID, "", false)
	b.send(ctx.Context(), adminID, prompt)
	return nil
}

func (b *Bot) decide(ctx context.Context, adminID int64, id uint, approve bool, note string) {
	var (
		w   *models.Withdrawal
		err error
	)
	if approve {
		w, err = b.Engine.Approve(ctx, id, adminID, note)
	} else {
		w, err = b.Engine.Reject(ctx, id, adminID, note)
	}
	if err != nil {
		b.send(ctx, adminID, b.Texts.Error(err))
		return
	}
	logging.Info("Withdrawal decided",
		zap.Uint("withdrawal_id", w.ID), zap.Int64("admin_id", adminID), zap.String("status", string(w.Status)))
	b.send(ctx, adminID, fmt.Sprintf("%s Заявка #%d: %s", statusIcon(w.Status), w.ID, statusLabel(w.Status)))
}

func (b *Bot) handleAdminHelp(ctx *th.Context, update telego.Update) error {
	b.send(ctx.Context(), update.Message.Chat.ID, adminHelp)
	return nil
}

func (b *Bot) handleStats(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	accounts, err := b.Engine.Store.CountAccounts(ctx.Context())
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	pending, err := b.Engine.ListPending(ctx.Context(), -1)
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	ps, err := b.Engine.Promo.Stats(ctx.Context())
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}

	var pendingSum money.Amount
	for _, w := range pending {
		pendingSum += w.Amount
	}
	b.send(ctx.Context(), chatID, header("📈 <b>СТАТИСТИКА</b> 📈")+
		quote(fmt.Sprintf("👥 Пользователей: %d\n⏳ Заявок на вывод: %d (%s)",
			accounts, len(pending), b.Texts.amount(pendingSum)))+"\n\n"+
		quote(fmt.Sprintf("🎫 Чеков: %d (активных %d)\n✅ Активаций: %d\n💸 Выплачено по чекам: %s",
			ps.Codes, ps.Active, ps.Activations, b.Texts.amount(ps.TotalPaid))))
	return nil
}

func (b *Bot) handlePending(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	list, err := b.Engine.ListPending(ctx.Context(), pendingLimit)
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	if len(list) == 0 {
		b.send(ctx.Context(), chatID, "✅ Нет заявок на рассмотрении.")
		return nil
	}
	for _, w := range list {
		text := fmt.Sprintf("⏳ <b>Заявка #%d</b>\nID: <code>%d</code>\nСумма: %s\nКонтакт: %s\nСоздана: %s",
			w.ID, w.AccountID, b.Texts.amount(w.Amount), esc(w.Contact), formatTime(w.CreatedAt))
		b.sendWith(ctx.Context(), chatID, text, decisionKeyboard(w.ID))
	}
	return nil
}

func (b *Bot) handleNewCheck(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 2 {
		b.send(ctx.Context(), chatID, "Использование: /newcheck &lt;сумма&gt; &lt;активаций&gt; [описание]")
		return nil
	}
	reward, err := money.Parse(args[0])
	if err != nil {
		b.send(ctx.Context(), chatID, "❌ Некорректная сумма.")
		return nil
	}
	activations, err := strconv.Atoi(args[1])
	if err != nil {
		b.send(ctx.Context(), chatID, "❌ Некорректное число активаций.")
		return nil
	}

	code, err := b.Engine.CreateCode(ctx.Context(), reward, activations, update.Message.From.ID, strings.Join(args[2:], " "))
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), chatID, header("🎫 <b>ЧЕК СОЗДАН</b> 🎫")+
		quote(fmt.Sprintf("Код: <code>%s</code>\nНаграда: %s\nАктиваций: %d",
			code.Code, b.Texts.amount(code.RewardAmount), code.MaxActivations))+"\n\n"+
		fmt.Sprintf("🔗 <code>%s</code>", esc(b.checkLink(code.Code))))
	return nil
}

func (b *Bot) codeLine(c models.PromoCode) string {
	icon := "🟢"
	if !c.IsActive {
		icon = "⚪"
	}
	return fmt.Sprintf("%s <code>%s</code> - %s, %d/%d", icon, c.Code, b.Texts.amount(c.RewardAmount), c.CurrentActivations, c.MaxActivations)
}

func (b *Bot) handleChecks(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	codes, err := b.Engine.ListCodes(ctx.Context(), pendingLimit)
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	if len(codes) == 0 {
		b.send(ctx.Context(), chatID, "🎫 Чеков пока нет.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString(header("🎫 <b>ЧЕКИ</b> 🎫"))
	for _, c := range codes {
		sb.WriteString(b.codeLine(c) + "\n")
	}
	b.send(ctx.Context(), chatID, sb.String())
	return nil
}

func (b *Bot) handleCheckInfo(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 1 {
		b.send(ctx.Context(), chatID, "Использование: /check &lt;код&gt;")
		return nil
	}
	c, err := b.Engine.GetCodeInfo(ctx.Context(), args[0])
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	text := b.codeLine(*c) + fmt.Sprintf("\nСоздан: %s", formatTime(c.CreatedAt))
	if c.Description != "" {
		text += "\n" + quote(esc(c.Description))
	}
	b.send(ctx.Context(), chatID, text)
	return nil
}

func (b *Bot) handleDeactivate(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 1 {
		b.send(ctx.Context(), chatID, "Использование: /deactivate &lt;код&gt;")
		return nil
	}
	if err := b.Engine.Deactivate(ctx.Context(), args[0]); err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), chatID, "✅ Чек деактивирован.")
	return nil
}

func (b *Bot) handleAddStars(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 2 {
		b.send(ctx.Context(), chatID, "Использование: /addstars &lt;user_id&gt; &lt;сумма&gt;")
		return nil
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.send(ctx.Context(), chatID, "❌ Некорректный ID пользователя.")
		return nil
	}
	amount, err := money.Parse(args[1])
	if err != nil {
		b.send(ctx.Context(), chatID, "❌ Некорректная сумма.")
		return nil
	}
	balance, err := b.Engine.AdminCredit(ctx.Context(), userID, amount, update.Message.From.ID)
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), chatID, fmt.Sprintf("✅ Начислено %s пользователю <code>%d</code>. Баланс: %s",
		b.Texts.amount(amount), userID, b.Texts.amount(balance)))
	return nil
}

func (b *Bot) handleAddChannel(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 1 {
		b.send(ctx.Context(), chatID, "Использование: /addchannel &lt;@канал|id&gt; [название]")
		return nil
	}
	ch := models.RequiredChannel{
		ChannelID: args[0],
		Title:     strings.Join(args[1:], " "),
		Kind:      models.ChannelRequired,
		AddedBy:   update.Message.From.ID,
	}
	if strings.HasPrefix(args[0], "@") {
		ch.Username = strings.TrimPrefix(args[0], "@")
	}
	b.addChannel(ctx.Context(), chatID, ch)
	return nil
}

func (b *Bot) handleAddLink(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 2 {
		b.send(ctx.Context(), chatID, "Использование: /addlink &lt;ссылка&gt; &lt;название&gt;")
		return nil
	}
	b.addChannel(ctx.Context(), chatID, models.RequiredChannel{
		ChannelID: args[0],
		Link:      args[0],
		Title:     strings.Join(args[1:], " "),
		Kind:      models.ChannelLink,
		AddedBy:   update.Message.From.ID,
	})
	return nil
}

func (b *Bot) addChannel(ctx context.Context, chatID int64, ch models.RequiredChannel) {
	added, err := b.Engine.Channels.Add(ctx, ch)
	if err != nil {
		logging.Warn("Failed to add channel", zap.String("channel_id", ch.ChannelID), zap.Error(err))
		b.send(ctx, chatID, "❌ "+esc(err.Error()))
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("✅ Канал добавлен: #%d %s", added.ID, esc(added.Title)))
}

func (b *Bot) handleChannels(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	list, err := b.Engine.Channels.List(ctx.Context())
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	if len(list) == 0 {
		b.send(ctx.Context(), chatID, "📢 Обязательных каналов нет.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString(header("📢 <b>КАНАЛЫ</b> 📢"))
	for _, ch := range list {
		sb.WriteString(fmt.Sprintf("#%d %s [%s] %s\n", ch.ID, esc(ch.Title), ch.Kind, esc(ch.URL())))
	}
	b.send(ctx.Context(), chatID, sb.String())
	return nil
}

func (b *Bot) handleDelChannel(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 1 {
		b.send(ctx.Context(), chatID, "Использование: /delchannel &lt;id&gt;")
		return nil
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		b.send(ctx.Context(), chatID, "❌ Некорректный ID.")
		return nil
	}
	if err := b.Engine.Channels.Deactivate(ctx.Context(), uint(id)); err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), chatID, "✅ Канал удален.")
	return nil
}

func (b *Bot) handleCheckSubs(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)
	if len(args) < 1 {
		b.send(ctx.Context(), chatID, "Использование: /checksubs &lt;user_id&gt;")
		return nil
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.send(ctx.Context(), chatID, "❌ Некорректный ID пользователя.")
		return nil
	}
	d, err := b.Engine.Evaluate(ctx.Context(), userID)
	if err != nil {
		b.send(ctx.Context(), chatID, b.Texts.Error(err))
		return nil
	}
	b.send(ctx.Context(), chatID, b.Texts.SubscriptionReport(userID, d))
	return nil
}
