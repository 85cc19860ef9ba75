package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"referral-bot/internal/engine"
	"referral-bot/internal/errs"
	"referral-bot/internal/gate"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/notify"
	"referral-bot/internal/rewards"
)

const rule = "═══════════════════════════"

func header(title string) string {
	return rule + "\n" + title + "\n" + rule + "\n\n"
}

func quote(s string) string {
	return "<blockquote>" + s + "</blockquote>"
}

func esc(s string) string {
	return html.EscapeString(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// Texts renders every user facing message for one reward policy.
type Texts struct {
	policy rewards.Policy
}

func NewTexts(policy rewards.Policy) Texts {
	return Texts{policy: policy}
}

func (t Texts) amount(a money.Amount) string {
	return t.policy.Format(a)
}

func (t Texts) Welcome() string {
	return header("✨ <b>ДОБРО ПОЖАЛОВАТЬ</b> ✨") +
		quote("🎉 <b>Добро пожаловать!</b>") + "\n\n" +
		fmt.Sprintf("Приглашайте друзей и получайте %s за каждого.\n\nВыберите действие из меню ниже:", t.amount(t.policy.ReferralReward))
}

func (t Texts) Captcha(question string) string {
	return header("🤖 <b>ПРОВЕРКА</b> 🤖") +
		quote("Подтвердите, что вы не робот.") + "\n\n" +
		fmt.Sprintf("Сколько будет <b>%s</b>?", esc(question))
}

func (t Texts) CaptchaWrong() string {
	return "❌ Неверный ответ. Попробуйте еще раз."
}

func (t Texts) CaptchaExpired() string {
	return "⌛ Время на ответ истекло. Отправьте /start, чтобы получить новый пример."
}

func (t Texts) Subscriptions(unsatisfied []models.RequiredChannel, recheck bool) string {
	var b strings.Builder
	b.WriteString(header("✨ <b>ОБЯЗАТЕЛЬНЫЕ ПОДПИСКИ</b> ✨"))
	if recheck {
		b.WriteString(quote("❌ <b>Вы еще не подписались на все обязательные каналы!</b>"))
		b.WriteString("\n\n")
	}
	b.WriteString("<b>Подпишитесь на каналы:</b>\n\n")
	for _, ch := range unsatisfied {
		b.WriteString("• " + esc(ch.Title) + " 📌\n")
	}
	b.WriteString("\n" + quote("✅ <b>После подписки нажмите кнопку ниже</b>"))
	return b.String()
}

// SubscriptionReport is the admin view of one user's gate decision.
func (t Texts) SubscriptionReport(userID int64, d gate.Decision) string {
	if d.Pass {
		return header("✅ <b>РЕЗУЛЬТАТ ПРОВЕРКИ</b> ✅") +
			quote(fmt.Sprintf("✅ <b>Пользователь %d прошел все проверки.</b>", userID))
	}

	var b strings.Builder
	b.WriteString(header("❌ <b>РЕЗУЛЬТАТ ПРОВЕРКИ</b> ❌"))
	b.WriteString(fmt.Sprintf("Пользователь <code>%d</code>\n", userID))
	b.WriteString(fmt.Sprintf("🤖 Капча: %s\n📢 Подписки: %s\n", d.Captcha, d.Subscription))
	if len(d.Unsatisfied) > 0 {
		b.WriteString("\n<b>Не подписан:</b>\n")
		for _, ch := range d.Unsatisfied {
			b.WriteString(fmt.Sprintf("• %s (%s)\n", esc(ch.Title), esc(ch.URL())))
		}
	}
	if d.OracleErr != nil {
		b.WriteString("\n⚠️ Проверка неполная: " + esc(d.OracleErr.Error()))
	}
	return b.String()
}

func (t Texts) Profile(p *engine.Profile) string {
	acc := p.Account
	return header("⭐ <b>МОЙ ПРОФИЛЬ</b> ⭐") +
		fmt.Sprintf("<b>👤 Пользователь:</b> %s\n<b>🆔 ID:</b> <code>%d</code>\n\n", esc(acc.DisplayName()), acc.UserID) +
		quote(fmt.Sprintf("💰 Баланс: <b>%s</b>\n👥 Приглашено: %d\n🎁 Заработано с рефералов: %s",
			t.amount(acc.Balance), p.Referrals, t.amount(p.ReferralEarnings))) + "\n\n" +
		quote(fmt.Sprintf("📤 Выведено: %s\n⏳ На рассмотрении: %s",
			t.amount(p.Withdrawals.Approved), t.amount(p.Withdrawals.Pending)))
}

func (t Texts) Invite(link string, referrals int64) string {
	return header("🔗 <b>ПРИГЛАСИТЬ ДРУЗЕЙ</b> 🔗") +
		quote(fmt.Sprintf("За каждого друга, который пройдет проверку, вы получите <b>%s</b>.", t.amount(t.policy.ReferralReward))) + "\n\n" +
		fmt.Sprintf("👥 Приглашено: %d\n\n<b>Ваша ссылка:</b>\n<code>%s</code>", referrals, esc(link))
}

func (t Texts) DailyCredited(amount, balance money.Amount) string {
	return fmt.Sprintf("🎁 Ежедневный бонус +%s начислен!\n💰 Баланс: %s", t.amount(amount), t.amount(balance))
}

func (t Texts) DailyTooEarly(next time.Time, now time.Time) string {
	left := next.Sub(now).Round(time.Minute)
	if left < time.Minute {
		left = time.Minute
	}
	h := int(left.Hours())
	m := int(left.Minutes()) % 60
	return fmt.Sprintf("⏳ Бонус уже получен. Следующий через %d ч %d мин.", h, m)
}

func (t Texts) WithdrawPrompt(balance, minimum money.Amount) string {
	return header("💰 <b>ВЫВОД</b> 💰") +
		quote(fmt.Sprintf("Ваш баланс: <b>%s</b>\nМинимальная сумма: <b>%s</b>", t.amount(balance), t.amount(minimum))) + "\n\n" +
		"Введите сумму для вывода:"
}

func (t Texts) WithdrawContactPrompt() string {
	return "✍️ Укажите контакт для связи (например, @username):"
}

func (t Texts) WithdrawCreated(w *models.Withdrawal) string {
	return header("✅ <b>ЗАЯВКА СОЗДАНА</b> ✅") +
		quote(fmt.Sprintf("Номер заявки: #%d\nСумма: %s\nКонтакт: %s", w.ID, t.amount(w.Amount), esc(w.Contact))) + "\n\n" +
		"Заявка будет рассмотрена администратором."
}

func (t Texts) Withdrawals(list []models.Withdrawal) string {
	if len(list) == 0 {
		return "📋 У вас пока нет заявок на вывод."
	}
	var b strings.Builder
	b.WriteString(header("📋 <b>МОИ ЗАЯВКИ</b> 📋"))
	for _, w := range list {
		b.WriteString(fmt.Sprintf("%s #%d - %s (%s)\n", statusIcon(w.Status), w.ID, t.amount(w.Amount), formatTime(w.CreatedAt)))
		if w.AdminNote != "" {
			b.WriteString("   💬 " + esc(w.AdminNote) + "\n")
		}
	}
	return b.String()
}

func statusIcon(s models.WithdrawalStatus) string {
	switch s {
	case models.WithdrawalApproved:
		return "✅"
	case models.WithdrawalRejected:
		return "❌"
	default:
		return "⏳"
	}
}

func statusLabel(s models.WithdrawalStatus) string {
	switch s {
	case models.WithdrawalApproved:
		return "ОДОБРЕНА"
	case models.WithdrawalRejected:
		return "ОТКЛОНЕНА"
	default:
		return "ОЖИДАЕТ"
	}
}

func (t Texts) History(txs []models.Transaction) string {
	if len(txs) == 0 {
		return "📊 История операций пуста."
	}
	var b strings.Builder
	b.WriteString(header("📊 <b>МОЯ СТАТИСТИКА</b> 📊"))
	for _, tx := range txs {
		sign := ""
		if tx.Delta > 0 {
			sign = "+"
		}
		b.WriteString(fmt.Sprintf("%s %s%s - %s\n", formatTime(tx.CreatedAt), sign, t.amount(tx.Delta), esc(tx.Description)))
	}
	return b.String()
}

func (t Texts) TopReferrers(stats []models.ReferrerStat) string {
	if len(stats) == 0 {
		return "🏆 Пока никто никого не пригласил."
	}
	var b strings.Builder
	b.WriteString(header("🏆 <b>ТОП РЕФЕРЕРОВ</b> 🏆"))
	for i, s := range stats {
		acc := models.Account{UserID: s.UserID, Username: s.Username, FullName: s.FullName}
		b.WriteString(fmt.Sprintf("%d. %s - %d 👥\n", i+1, esc(acc.DisplayName()), s.Referrals))
	}
	return b.String()
}

func (t Texts) CheckPrompt() string {
	return "🎫 Введите код чека:"
}

func (t Texts) CheckActivated(reward, balance money.Amount) string {
	return header("🎫 <b>ЧЕК АКТИВИРОВАН</b> 🎫") +
		quote(fmt.Sprintf("🎉 Получено: <b>%s</b>\n💰 Баланс: %s", t.amount(reward), t.amount(balance)))
}

// Notification renders engine notifications for the Telegram sink.
func (t Texts) Notification(req notify.Request, target notify.Target) (notify.Message, bool) {
	if target == notify.ToChannel {
		return t.channelPost(req)
	}

	switch req.Kind {
	case notify.KindReferralRegistered:
		return notify.Message{Text: header("👥 <b>НОВЫЙ РЕФЕРАЛ</b> 👥") +
			fmt.Sprintf("По вашей ссылке зарегистрировался %s.\n\n", esc(req.RelatedName)) +
			quote(fmt.Sprintf("Вы получите %s, когда он пройдет проверку.", t.amount(req.Amount)))}, true
	case notify.KindReferralCredited:
		return notify.Message{Text: header("✨ <b>НОВЫЙ РЕФЕРАЛ</b> ✨") +
			quote("🎉 <b>Поздравляем!</b>") + "\n\n" +
			fmt.Sprintf("Приглашенный вами пользователь %s прошел проверку!\n\n", esc(req.RelatedName)) +
			quote(fmt.Sprintf("Вам начислено: +%s\nБаланс: %s", t.amount(req.Amount), t.amount(req.Balance)))}, true
	case notify.KindWelcomeCredited:
		return notify.Message{Text: fmt.Sprintf("🎁 Приветственный бонус +%s начислен!", t.amount(req.Amount))}, true
	case notify.KindWithdrawalApproved:
		return notify.Message{Text: header("✅ <b>ЗАЯВКА ОДОБРЕНА</b> ✅") +
			quote(fmt.Sprintf("Сумма: %s\nНомер заявки: #%d", t.amount(req.Amount), req.WithdrawalID)) +
			noteBlock(req.Note)}, true
	case notify.KindWithdrawalRejected:
		return notify.Message{Text: header("❌ <b>ЗАЯВКА ОТКЛОНЕНА</b> ❌") +
			quote(fmt.Sprintf("Сумма: %s\nНомер заявки: #%d", t.amount(req.Amount), req.WithdrawalID)) +
			noteBlock(req.Note)}, true
	case notify.KindWithdrawalReady:
		return notify.Message{Text: header("💰 <b>МОЖНО ВЫВОДИТЬ</b> 💰") +
			quote(fmt.Sprintf("На вашем балансе %s. Это больше минимальной суммы вывода (%s).",
				t.amount(req.Balance), t.amount(req.Amount)))}, true
	default:
		return notify.Message{}, false
	}
}

func noteBlock(note string) string {
	if note == "" {
		return ""
	}
	return "\n\n<b>💬 СООБЩЕНИЕ:</b>\n" + quote(esc(note))
}

func (t Texts) channelPost(req notify.Request) (notify.Message, bool) {
	var status models.WithdrawalStatus
	switch req.Kind {
	case notify.KindWithdrawalCreated:
		status = models.WithdrawalPending
	case notify.KindWithdrawalApproved:
		status = models.WithdrawalApproved
	case notify.KindWithdrawalRejected:
		status = models.WithdrawalRejected
	default:
		return notify.Message{}, false
	}

	user := req.RelatedName
	if req.Username != "" {
		user += " (@" + req.Username + ")"
	}
	text := header(fmt.Sprintf("%s <b>ЗАЯВКА #%d: %s</b>", statusIcon(status), req.WithdrawalID, statusLabel(status))) +
		quote(fmt.Sprintf("Пользователь: %s\nID: <code>%d</code>\nСумма: %s\nКонтакт: %s",
			esc(user), req.UserID, t.amount(req.Amount), esc(req.Contact)))
	if status != models.WithdrawalPending {
		text += noteBlock(req.Note)
		return notify.Message{Text: text}, true
	}
	return notify.Message{Text: text, Markup: decisionKeyboard(req.WithdrawalID)}, true
}

func decisionKeyboard(withdrawalID uint) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Одобрить").WithCallbackData(fmt.Sprintf("admin_approve_%d", withdrawalID)),
			tu.InlineKeyboardButton("❌ Отклонить").WithCallbackData(fmt.Sprintf("admin_reject_%d", withdrawalID)),
		),
	)
}

func (t Texts) Error(err error) string {
	switch {
	case errors.Is(err, errs.ErrInsufficientFunds):
		return "❌ Недостаточно средств на балансе."
	case errors.Is(err, errs.ErrBelowMinimum):
		return fmt.Sprintf("❌ Минимальная сумма вывода: %s", t.amount(t.policy.MinWithdrawal))
	case errors.Is(err, errs.ErrInvalidAmount):
		return "❌ Некорректная сумма."
	case errors.Is(err, errs.ErrAlreadyProcessed):
		return "⚠️ Заявка уже обработана."
	case errors.Is(err, errs.ErrAlreadyRedeemed):
		return "⚠️ Вы уже активировали этот чек."
	case errors.Is(err, errs.ErrLimitReached):
		return "😔 Чек уже активирован максимальное количество раз."
	case errors.Is(err, errs.ErrInactive):
		return "❌ Чек деактивирован."
	case errors.Is(err, errs.ErrNotFound):
		return "❌ Не найдено."
	default:
		return "❌ Произошла ошибка. Попробуйте позже."
	}
}
