package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
	"github.com/maryam-mebel/support-bot/internal/wizard"
)

const panelPageSize = 5

// handleAdminText — админские команды и reply-ответы. false — сообщение не
// админское по смыслу, пусть обрабатывается как обычное.
func (b *Bot) handleAdminText(ctx context.Context, msg *telegram.TextMessage) bool {
	// Reply на разосланную копию тикета — это ответ пользователю.
	if msg.ReplyToMessageID > 0 {
		return b.relayAdminReply(ctx, msg)
	}

	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/panel":
		b.sendPanelPage(ctx, msg.From.ID, 0)
	case "/broadcast":
		b.startWizard(ctx, msg.From, wizard.FlowBroadcast)
	case "/stats":
		b.sendStats(ctx, msg.From.ID)
	case "/note":
		b.setNote(ctx, msg.From.ID, args)
	case "/vip":
		b.setVIP(ctx, msg.From.ID, args, true)
	case "/unvip":
		b.setVIP(ctx, msg.From.ID, args, false)
	case "/block":
		b.setUserStatus(ctx, msg.From.ID, args, model.UserStatusBlocked)
	case "/unblock":
		b.setUserStatus(ctx, msg.From.ID, args, model.UserStatusActive)
	default:
		return false
	}
	return true
}

func (b *Bot) relayAdminReply(ctx context.Context, msg *telegram.TextMessage) bool {
	ticket, err := b.tickets.TicketByForwardedReply(ctx, msg.From.ID, msg.ReplyToMessageID)
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			return false
		}
		log.Printf("bot: resolve reply from %d: %v", msg.From.ID, err)
		return false
	}
	switch err := b.tickets.RelayReply(ctx, msg.From, ticket.ID, msg.Text); {
	case err == nil:
		b.reply(ctx, msg.From.ID, fmt.Sprintf("✅ Javob #%d foydalanuvchiga yuborildi.", ticket.ID))
	case errors.Is(err, errs.ErrNotAssigned):
		b.reply(ctx, msg.From.ID, fmt.Sprintf("⚠️ Murojaat #%d boshqa adminga biriktirilgan.", ticket.ID))
	case errors.Is(err, errs.ErrTicketClosed):
		b.reply(ctx, msg.From.ID, fmt.Sprintf("⚠️ Murojaat #%d allaqachon yopilgan.", ticket.ID))
	default:
		log.Printf("bot: relay reply #%d: %v", ticket.ID, err)
		b.reply(ctx, msg.From.ID, "❌ Javobni yuborib bo'lmadi.")
	}
	return true
}

// --- панель очереди ---

func (b *Bot) onPanel(ctx context.Context, tap *telegram.CallbackTap) {
	if !b.cfg.IsAdmin(tap.From.ID) {
		b.ack(ctx, tap, "")
		return
	}
	b.ack(ctx, tap, "")
	switch {
	case strings.HasPrefix(tap.Data, "panel_page_"):
		if page, err := strconv.Atoi(strings.TrimPrefix(tap.Data, "panel_page_")); err == nil && page >= 0 {
			b.sendPanelPage(ctx, tap.From.ID, page)
		}
	case strings.HasPrefix(tap.Data, "panel_view_"):
		if id, err := strconv.ParseUint(strings.TrimPrefix(tap.Data, "panel_view_"), 10, 64); err == nil {
			b.sendPanelTicket(ctx, tap.From.ID, id)
		}
	}
}

func (b *Bot) sendPanelPage(ctx context.Context, adminID int64, page int) {
	tickets, total, err := b.tickets.PanelTickets(ctx, page, panelPageSize)
	if err != nil {
		log.Printf("bot: panel page %d: %v", page, err)
		b.reply(ctx, adminID, "❌ Panelni yuklab bo'lmadi.")
		return
	}
	if total == 0 {
		b.reply(ctx, adminID, "🗂 Ochiq murojaatlar yo'q.")
		return
	}
	var rows [][]telegram.InlineButton
	for _, t := range tickets {
		label := fmt.Sprintf("#%d · %s · %s", t.ID, b.cfg.Topics[t.Topic], statusLabel(t.Status))
		rows = append(rows, []telegram.InlineButton{{Text: label, Data: fmt.Sprintf("panel_view_%d", t.ID)}})
	}
	var nav []telegram.InlineButton
	if page > 0 {
		nav = append(nav, telegram.InlineButton{Text: "⬅️", Data: fmt.Sprintf("panel_page_%d", page-1)})
	}
	if int64((page+1)*panelPageSize) < total {
		nav = append(nav, telegram.InlineButton{Text: "➡️", Data: fmt.Sprintf("panel_page_%d", page+1)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	text := fmt.Sprintf("🗂 <b>Ochiq murojaatlar:</b> %d\nSahifa %d", total, page+1)
	b.send(ctx, adminID, text, telegram.InlineMarkup(rows...))
}

func (b *Bot) sendPanelTicket(ctx context.Context, adminID int64, ticketID uint64) {
	ticket, err := b.tickets.ByID(ctx, ticketID)
	if err != nil {
		b.reply(ctx, adminID, "Murojaat topilmadi.")
		return
	}
	first, err := b.tickets.FirstMessage(ctx, ticketID)
	if err != nil {
		log.Printf("bot: first message #%d: %v", ticketID, err)
		return
	}
	profile, err := b.users.ProfileText(ctx, ticket.UserID)
	if err != nil {
		log.Printf("bot: profile for %d: %v", ticket.UserID, err)
	}
	text := fmt.Sprintf("🔹 <b>Murojaat #%d</b> — %s\n<b>Mavzu:</b> %s\n\n%s\n---\n<b>Xabar:</b>\n\"%s\"",
		ticket.ID, statusLabel(ticket.Status), b.cfg.Topics[ticket.Topic], profile, first.Text)
	var rows [][]telegram.InlineButton
	if ticket.Status == model.TicketStatusOpen {
		rows = append(rows, []telegram.InlineButton{{Text: "✅ Javob berishni boshlash", Data: fmt.Sprintf("claim_%d", ticket.ID)}})
	}
	rows = append(rows, []telegram.InlineButton{{Text: "⬅️ Panelga", Data: "panel_page_0"}})
	b.send(ctx, adminID, text, telegram.InlineMarkup(rows...))
}

func (b *Bot) sendStats(ctx context.Context, adminID int64) {
	avg, ok, err := b.tickets.AverageRating(ctx)
	if err != nil {
		log.Printf("bot: average rating: %v", err)
		return
	}
	if !ok {
		b.reply(ctx, adminID, "📊 Hali baholangan murojaatlar yo'q.")
		return
	}
	b.reply(ctx, adminID, fmt.Sprintf("📊 Xizmat sifatining o'rtacha bahosi: <b>%.2f</b> / 5", avg))
}

// --- рассылка ---

// runBroadcast — фан-аут составленного сообщения по всем активным
// пользователям. Заблокировавшие бота пропускаются, итог — отчёт админу.
func (b *Bot) runBroadcast(ctx context.Context, admin telegram.User, text string) {
	ids, err := b.users.ActiveUserIDs(ctx)
	if err != nil {
		log.Printf("bot: broadcast recipients: %v", err)
		b.reply(ctx, admin.ID, "❌ Qabul qiluvchilarni yuklab bo'lmadi.")
		return
	}
	sent := 0
	for _, id := range ids {
		if id == admin.ID {
			continue
		}
		if _, err := b.transport.SendText(ctx, id, text, nil); err != nil {
			log.Printf("bot: broadcast to %d: %v", id, err)
			continue
		}
		sent++
	}
	b.sendMenu(ctx, admin.ID, fmt.Sprintf("📣 Rassilka yakunlandi: %d/%d yetkazildi.", sent, len(ids)))
}

// --- карточка пользователя ---

func (b *Bot) setNote(ctx context.Context, adminID int64, args string) {
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		b.reply(ctx, adminID, "Foydalanish: /note <user_id> <matn>")
		return
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		b.reply(ctx, adminID, "Foydalanish: /note <user_id> <matn>")
		return
	}
	if err := b.users.SetNote(ctx, userID, parts[1]); err != nil {
		b.userUpdateError(ctx, adminID, userID, err)
		return
	}
	b.reply(ctx, adminID, fmt.Sprintf("✅ %d uchun izoh saqlandi.", userID))
}

func (b *Bot) setVIP(ctx context.Context, adminID int64, args string, vip bool) {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		b.reply(ctx, adminID, "Foydalanish: /vip <user_id>")
		return
	}
	if err := b.users.SetVIP(ctx, userID, vip); err != nil {
		b.userUpdateError(ctx, adminID, userID, err)
		return
	}
	if vip {
		b.reply(ctx, adminID, fmt.Sprintf("⭐ %d endi VIP mijoz.", userID))
	} else {
		b.reply(ctx, adminID, fmt.Sprintf("✅ %d dan VIP maqomi olindi.", userID))
	}
}

func (b *Bot) setUserStatus(ctx context.Context, adminID int64, args string, status model.UserStatus) {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		b.reply(ctx, adminID, "Foydalanish: /block <user_id>")
		return
	}
	if err := b.users.SetStatus(ctx, userID, status); err != nil {
		b.userUpdateError(ctx, adminID, userID, err)
		return
	}
	if status == model.UserStatusBlocked {
		b.reply(ctx, adminID, fmt.Sprintf("🚫 %d bloklandi.", userID))
	} else {
		b.reply(ctx, adminID, fmt.Sprintf("✅ %d blokdan chiqarildi.", userID))
	}
}

func (b *Bot) userUpdateError(ctx context.Context, adminID, userID int64, err error) {
	if errors.Is(err, errs.ErrUserNotFound) {
		b.reply(ctx, adminID, fmt.Sprintf("Foydalanuvchi %d topilmadi.", userID))
		return
	}
	log.Printf("bot: update user %d: %v", userID, err)
	b.reply(ctx, adminID, "❌ Xatolik yuz berdi.")
}

func splitCommand(text string) (cmd, args string) {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	cmd = parts[0]
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return cmd, args
}
