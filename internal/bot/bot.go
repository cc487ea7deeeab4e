// Package bot — маршрутизация входящих событий чата: команды, меню,
// сценарии анкеты и рассылки, callback-кнопки. Все ответы пользователю
// живут здесь; сервисы возвращают только данные и ошибки.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/maryam-mebel/support-bot/internal/config"
	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/service"
	"github.com/maryam-mebel/support-bot/internal/telegram"
	"github.com/maryam-mebel/support-bot/internal/wizard"
)

const (
	btnNewTicket = "✍️ Murojaat yuborish"
	btnVacancies = "📄 Vakansiyalar"
	btnMyChats   = "💬 Mening chatlarim"
	btnContest   = "🏆 Konkurs"
)

type Bot struct {
	transport telegram.Transport
	users     *service.UserService
	tickets   *service.TicketService
	referrals *service.ReferralService
	wizards   *wizard.Engine
	resumes   *service.ResumeSink
	cfg       *config.Config
	username  string

	// Выбранная тема до первого сообщения тикета. Процесс-локально, как и
	// сессии анкет: выбор темы живёт секунды.
	mu      sync.Mutex
	pending map[int64]string
}

func New(transport telegram.Transport, users *service.UserService, tickets *service.TicketService,
	referrals *service.ReferralService, wizards *wizard.Engine, resumes *service.ResumeSink,
	cfg *config.Config, username string) *Bot {
	return &Bot{
		transport: transport,
		users:     users,
		tickets:   tickets,
		referrals: referrals,
		wizards:   wizards,
		resumes:   resumes,
		cfg:       cfg,
		username:  username,
		pending:   make(map[int64]string),
	}
}

// HandleEvent — точка входа воркера пула. Паника одного события не должна
// ронять воркер: все ошибки здесь терминальные, логируем и живём дальше.
func (b *Bot) HandleEvent(ctx context.Context, ev telegram.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bot: panic in handler: %v", r)
		}
	}()
	switch {
	case ev.Callback != nil:
		b.handleCallback(ctx, ev.Callback)
	case ev.Contact != nil:
		b.handleContact(ctx, ev.Contact)
	case ev.Text != nil:
		b.handleText(ctx, ev.Text)
	}
}

func (b *Bot) handleText(ctx context.Context, msg *telegram.TextMessage) {
	user, blocked := b.ensureUser(ctx, msg.From, msg.Text)
	if blocked {
		return
	}

	switch {
	case strings.HasPrefix(msg.Text, "/start"):
		b.clearPendingTopic(user.ID)
		_, _ = b.wizards.Cancel(ctx, user.ID)
		b.sendMenu(ctx, user.ID, fmt.Sprintf("Assalomu alaykum, %s! 👋\nMARYAM MEBEL yordam botiga xush kelibsiz.", msg.From.FirstName))
		return
	case msg.Text == "/cancel":
		b.cancel(ctx, user.ID)
		return
	case b.cfg.IsAdmin(user.ID) && b.handleAdminText(ctx, msg):
		return
	}

	switch msg.Text {
	case btnNewTicket:
		b.sendTopicChoice(ctx, user.ID)
		return
	case btnVacancies:
		b.startWizard(ctx, msg.From, wizard.FlowRecruitment)
		return
	case btnMyChats:
		b.sendMyChats(ctx, user.ID)
		return
	case btnContest:
		b.sendContest(ctx, user.ID)
		return
	}

	if topic := b.takePendingTopic(user.ID); topic != "" {
		if _, err := b.tickets.OpenTicket(ctx, msg.From, topic, msg.Text); err != nil {
			log.Printf("bot: open ticket from %d: %v", user.ID, err)
			b.reply(ctx, user.ID, "❌ Xatolik yuz berdi, qayta urinib ko'ring.")
		}
		return
	}

	if b.submitWizard(ctx, msg.From, wizard.Input{Text: msg.Text}) {
		return
	}

	b.sendMenu(ctx, user.ID, "Quyidagi menyudan kerakli bo'limni tanlang:")
}

func (b *Bot) handleContact(ctx context.Context, c *telegram.Contact) {
	if _, blocked := b.ensureUser(ctx, c.From, ""); blocked {
		return
	}
	if !b.submitWizard(ctx, c.From, wizard.Input{Text: c.Phone, Contact: true}) {
		b.sendMenu(ctx, c.From.ID, "Quyidagi menyudan kerakli bo'limni tanlang:")
	}
}

func (b *Bot) handleCallback(ctx context.Context, tap *telegram.CallbackTap) {
	user, blocked := b.ensureUser(ctx, tap.From, "")
	if blocked {
		_ = b.transport.AnswerCallback(ctx, tap.CallbackID, "", false)
		return
	}

	switch {
	case strings.HasPrefix(tap.Data, "claim_"):
		b.onClaim(ctx, tap)
	case strings.HasPrefix(tap.Data, "rate_"):
		b.onRate(ctx, tap)
	case strings.HasPrefix(tap.Data, "topic_"):
		b.onTopic(ctx, tap)
	case strings.HasPrefix(tap.Data, "wiz_"):
		b.onWizardChoice(ctx, tap)
	case strings.HasPrefix(tap.Data, "view_ticket_"):
		b.ack(ctx, tap, "")
		b.sendTranscript(ctx, user.ID, strings.TrimPrefix(tap.Data, "view_ticket_"))
	case tap.Data == "back_to_menu":
		b.ack(ctx, tap, "")
		b.sendMenu(ctx, user.ID, "Asosiy menyu:")
	case strings.HasPrefix(tap.Data, "panel_"):
		b.onPanel(ctx, tap)
	default:
		b.ack(ctx, tap, "")
	}
}

// ensureUser регистрирует пользователя при первом касании и засчитывает
// реферала из payload команды /start. Заблокированным бот не отвечает.
func (b *Bot) ensureUser(ctx context.Context, from telegram.User, text string) (*model.User, bool) {
	var referrerID *int64
	if strings.HasPrefix(text, "/start ") {
		if id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(text, "/start ")), 10, 64); err == nil && id > 0 {
			referrerID = &id
		}
	}
	created, err := b.users.Upsert(ctx, from, referrerID)
	if err != nil {
		log.Printf("bot: upsert user %d: %v", from.ID, err)
	}
	if referrerID != nil {
		if err := b.referrals.RecordReferral(ctx, from, *referrerID, created); err != nil {
			log.Printf("bot: record referral %d->%d: %v", *referrerID, from.ID, err)
		}
	}
	user, err := b.users.ByID(ctx, from.ID)
	if err != nil {
		log.Printf("bot: load user %d: %v", from.ID, err)
		return &model.User{ID: from.ID, Status: model.UserStatusActive}, false
	}
	return user, user.Status == model.UserStatusBlocked
}

func (b *Bot) sendMenu(ctx context.Context, chatID int64, text string) {
	markup := telegram.ReplyMarkup(
		[]telegram.ReplyButton{{Text: btnNewTicket}, {Text: btnMyChats}},
		[]telegram.ReplyButton{{Text: btnVacancies}, {Text: btnContest}},
	)
	b.send(ctx, chatID, text, markup)
}

// sendTopicChoice — темы в фиксированном порядке ключей, чтобы клавиатура
// не прыгала между вызовами.
func (b *Bot) sendTopicChoice(ctx context.Context, chatID int64) {
	keys := make([]string, 0, len(b.cfg.Topics))
	for k := range b.cfg.Topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]telegram.InlineButton, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []telegram.InlineButton{{Text: b.cfg.Topics[k], Data: "topic_" + k}})
	}
	b.send(ctx, chatID, "Murojaat mavzusini tanlang:", telegram.InlineMarkup(rows...))
}

func (b *Bot) onTopic(ctx context.Context, tap *telegram.CallbackTap) {
	key := strings.TrimPrefix(tap.Data, "topic_")
	if _, ok := b.cfg.Topics[key]; !ok {
		b.ack(ctx, tap, "")
		return
	}
	b.mu.Lock()
	b.pending[tap.From.ID] = key
	b.mu.Unlock()
	b.ack(ctx, tap, "")
	if err := b.transport.EditText(ctx, tap.ChatID, tap.MessageID,
		fmt.Sprintf("<b>Mavzu:</b> %s\n\nEndi murojaatingizni bitta xabarda yozib yuboring.", b.cfg.Topics[key]), nil); err != nil {
		log.Printf("bot: edit topic prompt: %v", err)
	}
}

func (b *Bot) takePendingTopic(userID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic := b.pending[userID]
	delete(b.pending, userID)
	return topic
}

func (b *Bot) clearPendingTopic(userID int64) {
	b.mu.Lock()
	delete(b.pending, userID)
	b.mu.Unlock()
}

func (b *Bot) onClaim(ctx context.Context, tap *telegram.CallbackTap) {
	if !b.cfg.IsAdmin(tap.From.ID) {
		b.ack(ctx, tap, "")
		return
	}
	ticketID, err := strconv.ParseUint(strings.TrimPrefix(tap.Data, "claim_"), 10, 64)
	if err != nil {
		b.ack(ctx, tap, "")
		return
	}
	won, err := b.tickets.Claim(ctx, ticketID, tap.From)
	if err != nil {
		log.Printf("bot: claim #%d by %d: %v", ticketID, tap.From.ID, err)
		b.ack(ctx, tap, "Xatolik yuz berdi")
		return
	}
	if !won {
		_ = b.transport.AnswerCallback(ctx, tap.CallbackID, "Bu murojaatni boshqa admin allaqachon qabul qilgan.", true)
		return
	}
	b.ack(ctx, tap, "Murojaat sizga biriktirildi")
}

func (b *Bot) onRate(ctx context.Context, tap *telegram.CallbackTap) {
	parts := strings.Split(strings.TrimPrefix(tap.Data, "rate_"), "_")
	if len(parts) != 2 {
		b.ack(ctx, tap, "")
		return
	}
	ticketID, err1 := strconv.ParseUint(parts[0], 10, 64)
	stars, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		b.ack(ctx, tap, "")
		return
	}
	switch err := b.tickets.Rate(ctx, ticketID, stars); {
	case err == nil:
		b.ack(ctx, tap, "Rahmat!")
		if err := b.transport.EditText(ctx, tap.ChatID, tap.MessageID,
			fmt.Sprintf("✅ Bahoyingiz uchun rahmat! (%d/5)\nMurojaat #%d yopildi.", stars, ticketID), nil); err != nil {
			log.Printf("bot: edit rating message: %v", err)
		}
	case errors.Is(err, errs.ErrTicketClosed):
		_ = b.transport.AnswerCallback(ctx, tap.CallbackID, "Bu murojaat allaqachon baholangan.", true)
	default:
		log.Printf("bot: rate #%d: %v", ticketID, err)
		b.ack(ctx, tap, "Xatolik yuz berdi")
	}
}

// --- анкета и рассылка ---

func (b *Bot) startWizard(ctx context.Context, from telegram.User, kind string) {
	b.clearPendingTopic(from.ID)
	step, err := b.wizards.Start(ctx, from.ID, kind)
	if err != nil {
		log.Printf("bot: start wizard %s for %d: %v", kind, from.ID, err)
		b.reply(ctx, from.ID, "❌ Xatolik yuz berdi, qayta urinib ko'ring.")
		return
	}
	if kind == wizard.FlowRecruitment {
		b.send(ctx, from.ID, "🧑‍💼 MARYAM MEBEL jamoasiga qo'shilish uchun anketani to'ldiring.\nBekor qilish: /cancel", telegram.RemoveReplyMarkup())
	}
	b.sendStep(ctx, from.ID, step)
}

// submitWizard прогоняет ввод через активную сессию. false — сессии нет,
// ввод интерпретируется дальше по цепочке.
func (b *Bot) submitWizard(ctx context.Context, from telegram.User, in wizard.Input) bool {
	res, err := b.wizards.Submit(ctx, from.ID, in)
	if err != nil {
		if errors.Is(err, wizard.ErrNoSession) {
			return false
		}
		log.Printf("bot: wizard submit for %d: %v", from.ID, err)
		b.reply(ctx, from.ID, "❌ Xatolik yuz berdi, qayta urinib ko'ring.")
		return true
	}
	if res.Invalid != "" {
		b.reply(ctx, from.ID, res.Invalid)
		return true
	}
	if res.Completed {
		b.finishWizard(ctx, from, res.Session)
		return true
	}
	b.sendStep(ctx, from.ID, res.Next)
	return true
}

func (b *Bot) finishWizard(ctx context.Context, from telegram.User, sess *wizard.Session) {
	switch sess.FlowKind {
	case wizard.FlowRecruitment:
		b.resumes.SubmitAsync(from, sess.Fields)
		b.sendMenu(ctx, from.ID, "✅ Anketangiz qabul qilindi! Mos vakansiya topilsa, siz bilan bog'lanamiz. Rahmat!")
	case wizard.FlowBroadcast:
		b.runBroadcast(ctx, from, sess.Fields[wizard.FieldMessage])
	}
}

func (b *Bot) sendStep(ctx context.Context, chatID int64, step *wizard.Step) {
	if step == nil {
		return
	}
	switch {
	case len(step.Choices) > 0:
		rows := make([][]telegram.InlineButton, 0, (len(step.Choices)+1)/2)
		for i := 0; i < len(step.Choices); i += 2 {
			row := []telegram.InlineButton{{Text: step.Choices[i], Data: fmt.Sprintf("wiz_%d", i)}}
			if i+1 < len(step.Choices) {
				row = append(row, telegram.InlineButton{Text: step.Choices[i+1], Data: fmt.Sprintf("wiz_%d", i+1)})
			}
			rows = append(rows, row)
		}
		b.send(ctx, chatID, step.Prompt, telegram.InlineMarkup(rows...))
	case step.AcceptContact:
		markup := telegram.ReplyMarkup([]telegram.ReplyButton{{Text: "📞 Raqamni yuborish", RequestContact: true}})
		b.send(ctx, chatID, step.Prompt, markup)
	default:
		b.send(ctx, chatID, step.Prompt, telegram.RemoveReplyMarkup())
	}
}

func (b *Bot) onWizardChoice(ctx context.Context, tap *telegram.CallbackTap) {
	sess, err := b.wizards.Active(ctx, tap.From.ID)
	if err != nil || sess == nil {
		b.ack(ctx, tap, "")
		return
	}
	step := b.wizards.StepAt(sess)
	idx, err := strconv.Atoi(strings.TrimPrefix(tap.Data, "wiz_"))
	if err != nil || step == nil || idx < 0 || idx >= len(step.Choices) {
		b.ack(ctx, tap, "")
		return
	}
	b.ack(ctx, tap, "")
	if err := b.transport.EditText(ctx, tap.ChatID, tap.MessageID,
		fmt.Sprintf("%s\n\n☑️ %s", step.Prompt, step.Choices[idx]), nil); err != nil {
		log.Printf("bot: edit choice message: %v", err)
	}
	b.submitWizard(ctx, tap.From, wizard.Input{Text: step.Choices[idx], Choice: true})
}

func (b *Bot) cancel(ctx context.Context, userID int64) {
	b.clearPendingTopic(userID)
	cancelled, err := b.wizards.Cancel(ctx, userID)
	if err != nil {
		log.Printf("bot: cancel wizard for %d: %v", userID, err)
	}
	if cancelled {
		b.sendMenu(ctx, userID, "Anketa bekor qilindi.")
	} else {
		b.sendMenu(ctx, userID, "Asosiy menyu:")
	}
}

// NotifyExpired — уведомление о сессиях, снятых по таймауту простоя.
func (b *Bot) NotifyExpired(ctx context.Context, userIDs []int64) {
	for _, id := range userIDs {
		b.send(ctx, id, "⌛ Anketa uzoq vaqt to'ldirilmagani uchun bekor qilindi. Qaytadan boshlashingiz mumkin.", nil)
	}
}

// --- мои обращения и конкурс ---

func (b *Bot) sendMyChats(ctx context.Context, userID int64) {
	tickets, err := b.tickets.UserTickets(ctx, userID, 10)
	if err != nil {
		log.Printf("bot: user tickets for %d: %v", userID, err)
		b.reply(ctx, userID, "❌ Xatolik yuz berdi, qayta urinib ko'ring.")
		return
	}
	if len(tickets) == 0 {
		b.reply(ctx, userID, "Sizda hali murojaatlar yo'q.")
		return
	}
	rows := make([][]telegram.InlineButton, 0, len(tickets))
	for _, t := range tickets {
		label := fmt.Sprintf("#%d · %s · %s", t.ID, b.cfg.Topics[t.Topic], statusLabel(t.Status))
		rows = append(rows, []telegram.InlineButton{{Text: label, Data: fmt.Sprintf("view_ticket_%d", t.ID)}})
	}
	b.send(ctx, userID, "💬 Sizning murojaatlaringiz:", telegram.InlineMarkup(rows...))
}

func (b *Bot) sendTranscript(ctx context.Context, userID int64, rawID string) {
	ticketID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return
	}
	ticket, err := b.tickets.ByID(ctx, ticketID)
	if err != nil || ticket.UserID != userID && !b.cfg.IsAdmin(userID) {
		b.reply(ctx, userID, "Murojaat topilmadi.")
		return
	}
	msgs, err := b.tickets.Transcript(ctx, ticketID)
	if err != nil {
		log.Printf("bot: transcript #%d: %v", ticketID, err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>Murojaat #%d</b> — %s\n\n", ticket.ID, statusLabel(ticket.Status))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "<b>%s</b> (%s):\n%s\n\n", m.SenderName, m.SentAt.Format("02.01 15:04"), m.Text)
	}
	markup := telegram.InlineMarkup([]telegram.InlineButton{{Text: "⬅️ Orqaga", Data: "back_to_menu"}})
	b.send(ctx, userID, sb.String(), markup)
}

func (b *Bot) sendContest(ctx context.Context, userID int64) {
	rank, count, err := b.referrals.Standing(ctx, userID)
	if err != nil {
		log.Printf("bot: standing for %d: %v", userID, err)
		b.reply(ctx, userID, "❌ Xatolik yuz berdi, qayta urinib ko'ring.")
		return
	}
	leaders, err := b.referrals.Leaderboard(ctx, 10)
	if err != nil {
		log.Printf("bot: leaderboard: %v", err)
	}
	var sb strings.Builder
	sb.WriteString("🏆 <b>Konkurs!</b>\nDo'stlaringizni taklif qiling va sovrinlarni yutib oling.\n\n")
	fmt.Fprintf(&sb, "Sizning ballaringiz: <b>%d</b>\nO'rningiz: <b>%d</b>\n\n", count, rank)
	fmt.Fprintf(&sb, "Sizning havolangiz:\nhttps://t.me/%s?start=%d\n", b.username, userID)
	if len(leaders) > 0 {
		sb.WriteString("\n<b>Yetakchilar:</b>\n")
		for i, u := range leaders {
			fmt.Fprintf(&sb, "%d. %s — %d ball\n", i+1, u.FirstName, u.ReferralCount)
		}
	}
	b.reply(ctx, userID, sb.String())
}

func statusLabel(s model.TicketStatus) string {
	switch s {
	case model.TicketStatusOpen:
		return "🆕 Yangi"
	case model.TicketStatusClaimed:
		return "⏳ Ko'rib chiqilmoqda"
	case model.TicketStatusReplied:
		return "💬 Javob berildi"
	case model.TicketStatusClosed:
		return "✅ Yopilgan"
	}
	return string(s)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup *telegram.Markup) {
	if _, err := b.transport.SendText(ctx, chatID, text, markup); err != nil {
		log.Printf("bot: send to %d: %v", chatID, err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, chatID, text, nil)
}

func (b *Bot) ack(ctx context.Context, tap *telegram.CallbackTap, text string) {
	if err := b.transport.AnswerCallback(ctx, tap.CallbackID, text, false); err != nil {
		log.Printf("bot: answer callback: %v", err)
	}
}
