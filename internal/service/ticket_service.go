package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/maryam-mebel/support-bot/internal/config"
	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/kafka"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

// TicketService — маршрутизация обращений, арбитраж claim'ов и доставка
// ответов. Все переходы статуса — условные UPDATE'ы: статус движется только
// вперёд, никаких read-then-write.
type TicketService struct {
	db        *gorm.DB
	transport telegram.Transport
	producer  kafka.EventProducer
	users     *UserService
	cfg       *config.Config
}

func NewTicketService(db *gorm.DB, transport telegram.Transport, producer kafka.EventProducer, users *UserService, cfg *config.Config) *TicketService {
	return &TicketService{db: db, transport: transport, producer: producer, users: users, cfg: cfg}
}

// OpenTicket создаёт тикет с первым сообщением и рассылает карточку админам
// темы (fallback на общий allowlist). Каждая успешная отправка фиксируется
// квитанцией ForwardedMessage; отказ одного адресата не прерывает рассылку.
func (s *TicketService) OpenTicket(ctx context.Context, from telegram.User, topic, text string) (*model.Ticket, error) {
	ticket := &model.Ticket{
		UserID: from.ID,
		Topic:  topic,
		Status: model.TicketStatusOpen,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ticket).Error; err != nil {
			return err
		}
		msg := &model.Message{
			TicketID:   ticket.ID,
			SenderID:   from.ID,
			SenderName: "Siz",
			Text:       text,
			SentAt:     time.Now(),
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}

	profile, err := s.users.ProfileText(ctx, from.ID)
	if err != nil {
		log.Printf("ticket: profile for %d: %v", from.ID, err)
	}
	card := fmt.Sprintf(
		"🔹 <b>Yangi Murojaat!</b> #%d\n<b>Mavzu:</b> %s\n\n%s\n---\n<b>Xabar:</b>\n\"%s\"",
		ticket.ID, s.cfg.Topics[topic], profile, text,
	)
	markup := telegram.InlineMarkup([]telegram.InlineButton{
		{Text: "✅ Javob berishni boshlash", Data: fmt.Sprintf("claim_%d", ticket.ID)},
	})

	delivered := 0
	for _, adminID := range s.cfg.AdminsForTopic(topic) {
		msgID, err := s.transport.SendText(ctx, adminID, card, markup)
		if err != nil {
			log.Printf("ticket: fan-out #%d to %d: %v", ticket.ID, adminID, err)
			continue
		}
		rec := &model.ForwardedMessage{TicketID: ticket.ID, AdminID: adminID, TransportMessageID: msgID}
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			log.Printf("ticket: forwarded record #%d admin %d: %v", ticket.ID, adminID, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		_, _ = s.transport.SendText(ctx, from.ID,
			"❌ Kechirasiz, hozirda murojaatingizni yetkazib bo'lmadi. Birozdan so'ng qayta urinib ko'ring.", nil)
	} else {
		_, _ = s.transport.SendText(ctx, from.ID,
			fmt.Sprintf("✅ Murojaatingiz qabul qilindi. Tez orada mutaxassisimiz javob beradi.\nMurojaat raqamingiz: #%d", ticket.ID), nil)
	}

	s.producer.Produce(ctx, kafka.EventTicketOpened, map[string]interface{}{
		"ticket_id": ticket.ID, "user_id": from.ID, "topic": topic, "fanout": delivered,
	})
	return ticket, nil
}

// Claim — атомарный арбитраж владения: условный UPDATE по статусу open решает
// победителя, RowsAffected=0 означает проигрыш (нормальный исход, не ошибка).
// Победителю переписывается его копия карточки, пользователь узнаёт имя
// исполнителя, копии остальных админов отзываются.
func (s *TicketService) Claim(ctx context.Context, ticketID uint64, admin telegram.User) (won bool, err error) {
	res := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id = ? AND status = ? AND assigned_admin_id IS NULL", ticketID, model.TicketStatusOpen).
		Updates(map[string]interface{}{
			"status":            model.TicketStatusClaimed,
			"assigned_admin_id": admin.ID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Гонку выиграл другой админ либо тикет уже дальше по жизненному циклу.
		return false, nil
	}

	ticket, err := s.ByID(ctx, ticketID)
	if err != nil {
		return true, err
	}

	// Копия победителя превращается в подтверждение владения.
	var own model.ForwardedMessage
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ? AND admin_id = ? AND relayed_message_id IS NULL", ticketID, admin.ID).
		First(&own).Error; err == nil {
		confirm := fmt.Sprintf("✅ Murojaat #%d siz tomondan qabul qilindi.\n\nFoydalanuvchiga javob berish uchun ushbu xabarga 'Reply' qiling.", ticketID)
		if err := s.transport.EditText(ctx, admin.ID, own.TransportMessageID, confirm, nil); err != nil {
			log.Printf("ticket: edit claim confirmation #%d: %v", ticketID, err)
		}
	}

	_, _ = s.transport.SendText(ctx, ticket.UserID,
		fmt.Sprintf("⏳ Sizning #%d-raqamli murojaatingiz mutaxassis %s tomonidan ko'rib chiqilmoqda.", ticketID, admin.FirstName), nil)

	s.retractOthers(ctx, ticketID, admin.ID)

	s.producer.Produce(ctx, kafka.EventTicketClaimed, map[string]interface{}{
		"ticket_id": ticketID, "admin_id": admin.ID, "user_id": ticket.UserID,
	})
	return true, nil
}

// retractOthers отзывает fan-out копии проигравших админов. Ошибки удаления
// (сообщение уже прочитано/удалено) глотаются без повторов.
func (s *TicketService) retractOthers(ctx context.Context, ticketID uint64, winnerID int64) {
	var others []model.ForwardedMessage
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ? AND admin_id <> ? AND relayed_message_id IS NULL", ticketID, winnerID).
		Find(&others).Error; err != nil {
		log.Printf("ticket: load stale copies #%d: %v", ticketID, err)
		return
	}
	for _, rec := range others {
		if err := s.transport.DeleteMessage(ctx, rec.AdminID, rec.TransportMessageID); err != nil {
			log.Printf("ticket: retract copy #%d admin %d: %v", ticketID, rec.AdminID, err)
		}
		if err := s.db.WithContext(ctx).Delete(&model.ForwardedMessage{}, rec.ID).Error; err != nil {
			log.Printf("ticket: delete record %d: %v", rec.ID, err)
		}
	}
}

// RelayReply доставляет ответ админа пользователю: проверка владения
// (закреплённый админ, либо любой — если тикет никем не взят), запись в журнал,
// переход в replied и запрос оценки. Сбой отправки не откатывает запись.
func (s *TicketService) RelayReply(ctx context.Context, admin telegram.User, ticketID uint64, text string) error {
	ticket, err := s.ByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == model.TicketStatusClosed {
		return errs.ErrTicketClosed
	}
	if ticket.AssignedAdminID != nil && *ticket.AssignedAdminID != admin.ID {
		return errs.ErrNotAssigned
	}

	msg := &model.Message{
		TicketID:   ticketID,
		SenderID:   admin.ID,
		SenderName: fmt.Sprintf("Admin (%s)", admin.FirstName),
		Text:       text,
		SentAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id = ? AND status IN ?", ticketID, []model.TicketStatus{model.TicketStatusOpen, model.TicketStatusClaimed}).
		Update("status", model.TicketStatusReplied)
	if res.Error != nil {
		return res.Error
	}

	sentID, sendErr := s.transport.SendText(ctx, ticket.UserID, text, nil)
	if sendErr != nil {
		log.Printf("ticket: relay reply #%d to %d: %v", ticketID, ticket.UserID, sendErr)
	}
	// Отметка обработки: фоновый relay-проход это сообщение больше не трогает.
	mark := &model.ForwardedMessage{
		TicketID:           ticketID,
		AdminID:            admin.ID,
		TransportMessageID: sentID,
		RelayedMessageID:   &msg.ID,
	}
	if err := s.db.WithContext(ctx).Create(mark).Error; err != nil {
		log.Printf("ticket: relay mark #%d msg %d: %v", ticketID, msg.ID, err)
	}

	if sendErr == nil {
		_, _ = s.transport.SendText(ctx, ticket.UserID,
			"Bizning yordamimizdan qoniqdingizmi? Iltimos, xizmat sifatini baholang.",
			ratingMarkup(ticketID))
	}

	s.producer.Produce(ctx, kafka.EventTicketReplied, map[string]interface{}{
		"ticket_id": ticketID, "admin_id": admin.ID, "user_id": ticket.UserID,
	})
	return nil
}

func ratingMarkup(ticketID uint64) *telegram.Markup {
	row := func(stars ...int) []telegram.InlineButton {
		var out []telegram.InlineButton
		for _, n := range stars {
			label := ""
			for i := 0; i < n; i++ {
				label += "⭐"
			}
			out = append(out, telegram.InlineButton{Text: label, Data: fmt.Sprintf("rate_%d_%d", ticketID, n)})
		}
		return out
	}
	return telegram.InlineMarkup(row(5, 4, 3), row(2, 1))
}

// Rate — терминальный переход: оценка 1..5 закрывает тикет, повторная оценка
// и любые дальнейшие изменения статуса отклоняются.
func (s *TicketService) Rate(ctx context.Context, ticketID uint64, stars int) error {
	if stars < 1 || stars > 5 {
		return errs.ErrBadRating
	}
	res := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id = ? AND status <> ?", ticketID, model.TicketStatusClosed).
		Updates(map[string]interface{}{"status": model.TicketStatusClosed, "rating": stars})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.Ticket{}).Where("id = ?", ticketID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errs.ErrTicketNotFound
		}
		return errs.ErrTicketClosed
	}
	s.producer.Produce(ctx, kafka.EventTicketRated, map[string]interface{}{
		"ticket_id": ticketID, "rating": stars,
	})
	return nil
}

// RelayPending — фоновый проход доставки: админские сообщения журнала без
// отметки обработки (например, добавленные через REST сайтом) отправляются
// пользователю; отметка пишется независимо от исхода отправки, чтобы вечно
// недоступный получатель не ретраился бесконечно. Пачка ограничена batch.
// Возвращает число доставленных и число обработанных строк журнала.
func (s *TicketService) RelayPending(ctx context.Context, batch int) (sent, processed int, err error) {
	if batch <= 0 {
		batch = 10
	}
	type pending struct {
		model.Message
		UserID int64
	}
	var items []pending
	err = s.db.WithContext(ctx).Model(&model.Message{}).
		Select("messages.*, tickets.user_id AS user_id").
		Joins("JOIN tickets ON tickets.id = messages.ticket_id").
		Where("tickets.user_id > 0 AND messages.sender_id <> tickets.user_id").
		Where("NOT EXISTS (SELECT 1 FROM forwarded_messages f WHERE f.relayed_message_id = messages.id)").
		Order("messages.sent_at ASC").
		Limit(batch).
		Find(&items).Error
	if err != nil {
		return 0, 0, err
	}
	for _, it := range items {
		msgID, sendErr := s.transport.SendText(ctx, it.UserID, it.Text, nil)
		if sendErr != nil {
			log.Printf("relay: message %d to %d: %v", it.Message.ID, it.UserID, sendErr)
		} else {
			sent++
		}
		id := it.Message.ID
		mark := &model.ForwardedMessage{
			TicketID:           it.TicketID,
			AdminID:            it.SenderID,
			TransportMessageID: msgID,
			RelayedMessageID:   &id,
		}
		if err := s.db.WithContext(ctx).Create(mark).Error; err != nil {
			log.Printf("relay: mark message %d: %v", it.Message.ID, err)
			continue
		}
		processed++
	}
	return sent, processed, nil
}

// AppendAdminMessage пишет сообщение админа в журнал без немедленной
// доставки — его подхватит RelayPending (так сайт подключён к боту).
func (s *TicketService) AppendAdminMessage(ctx context.Context, ticketID uint64, adminID int64, adminName, text string) (*model.Message, error) {
	if _, err := s.ByID(ctx, ticketID); err != nil {
		return nil, err
	}
	msg := &model.Message{
		TicketID:   ticketID,
		SenderID:   adminID,
		SenderName: fmt.Sprintf("Admin (%s)", adminName),
		Text:       text,
		SentAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *TicketService) ByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TicketByForwardedReply находит тикет по reply админа на его копию карточки.
func (s *TicketService) TicketByForwardedReply(ctx context.Context, adminID int64, transportMessageID int) (*model.Ticket, error) {
	var rec model.ForwardedMessage
	err := s.db.WithContext(ctx).
		Where("admin_id = ? AND transport_message_id = ?", adminID, transportMessageID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return s.ByID(ctx, rec.TicketID)
}

// PanelTickets — страница очереди для админ-панели: open/claimed, старые сначала.
func (s *TicketService) PanelTickets(ctx context.Context, page, pageSize int) ([]model.Ticket, int64, error) {
	if pageSize <= 0 {
		pageSize = 5
	}
	open := []model.TicketStatus{model.TicketStatusOpen, model.TicketStatusClaimed}
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Ticket{}).Where("status IN ?", open).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []model.Ticket
	err := s.db.WithContext(ctx).
		Where("status IN ?", open).
		Order("created_at ASC").
		Limit(pageSize).Offset(page * pageSize).
		Find(&items).Error
	return items, total, err
}

// UserTickets — последние обращения пользователя ("Mening chatlarim").
func (s *TicketService) UserTickets(ctx context.Context, userID int64, limit int) ([]model.Ticket, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []model.Ticket
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Transcript — журнал тикета в порядке добавления.
func (s *TicketService) Transcript(ctx context.Context, ticketID uint64) ([]model.Message, error) {
	var items []model.Message
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("sent_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

// FirstMessage — открывающее сообщение тикета (всегда от пользователя).
func (s *TicketService) FirstMessage(ctx context.Context, ticketID uint64) (*model.Message, error) {
	var m model.Message
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("sent_at ASC, id ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &m, nil
}

// List — выборка для REST-панели сайта с фильтрами и пагинацией.
func (s *TicketService) List(ctx context.Context, filter map[string]interface{}, limit, offset int) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	for k, v := range filter {
		tx = tx.Where(k, v)
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// AverageRating — средняя оценка по закрытым тикетам. ok=false, когда оценок
// ещё нет: осмысленного среднего не существует, суррогатный ноль не возвращаем.
func (s *TicketService) AverageRating(ctx context.Context) (avg float64, ok bool, err error) {
	var result struct {
		Avg   *float64
		Count int64
	}
	err = s.db.WithContext(ctx).Model(&model.Ticket{}).
		Select("AVG(rating) AS avg, COUNT(rating) AS count").
		Where("rating IS NOT NULL").
		Scan(&result).Error
	if err != nil {
		return 0, false, err
	}
	if result.Count == 0 || result.Avg == nil {
		return 0, false, nil
	}
	return *result.Avg, true, nil
}
