package telegram

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot — реализация Transport поверх Bot API.
type Bot struct {
	api *tgbotapi.BotAPI
}

func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Bot{api: api}, nil
}

// Username — имя бота для реферальных ссылок t.me/<bot>?start=<id>.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string, markup *Markup) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if rm := toReplyMarkup(markup); rm != nil {
		msg.ReplyMarkup = rm
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (b *Bot) SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	_, err := b.api.Send(doc)
	return err
}

func (b *Bot) EditText(ctx context.Context, chatID int64, messageID int, text string, markup *Markup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if markup != nil && len(markup.Inline) > 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, inlineKeyboard(markup.Inline))
		edit.ParseMode = tgbotapi.ModeHTML
		_, err = b.api.Send(edit)
	} else {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ParseMode = tgbotapi.ModeHTML
		_, err = b.api.Send(edit)
	}
	return err
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.CallbackConfig{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	return err
}

// Poll читает обновления long-polling'ом и отдаёт их в handle до отмены ctx.
func (b *Bot) Poll(ctx context.Context, handle func(Event)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if ev, ok := eventFromUpdate(upd); ok {
				handle(ev)
			}
		}
	}
}

// ParseUpdate разбирает webhook-payload (POST /inbound) в событие ядра.
func ParseUpdate(raw []byte) (Event, bool, error) {
	var upd tgbotapi.Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return Event{}, false, fmt.Errorf("telegram: parse update: %w", err)
	}
	ev, ok := eventFromUpdate(upd)
	return ev, ok, nil
}

func eventFromUpdate(upd tgbotapi.Update) (Event, bool) {
	if cb := upd.CallbackQuery; cb != nil && cb.From != nil {
		tap := &CallbackTap{
			From:       userFrom(cb.From),
			ChatID:     cb.From.ID,
			CallbackID: cb.ID,
			Data:       cb.Data,
		}
		if cb.Message != nil {
			tap.ChatID = cb.Message.Chat.ID
			tap.MessageID = cb.Message.MessageID
		}
		return Event{Callback: tap}, true
	}
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return Event{}, false
	}
	if msg.Contact != nil {
		return Event{Contact: &Contact{
			From:   userFrom(msg.From),
			ChatID: msg.Chat.ID,
			Phone:  msg.Contact.PhoneNumber,
		}}, true
	}
	if msg.Text == "" {
		return Event{}, false
	}
	text := &TextMessage{
		From:      userFrom(msg.From),
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.ReplyToMessage != nil {
		text.ReplyToMessageID = msg.ReplyToMessage.MessageID
	}
	return Event{Text: text}, true
}

func userFrom(u *tgbotapi.User) User {
	return User{ID: u.ID, FirstName: u.FirstName, Username: u.UserName}
}

func toReplyMarkup(m *Markup) interface{} {
	if m == nil {
		return nil
	}
	switch {
	case len(m.Inline) > 0:
		return inlineKeyboard(m.Inline)
	case len(m.Reply) > 0:
		var rows [][]tgbotapi.KeyboardButton
		for _, r := range m.Reply {
			var row []tgbotapi.KeyboardButton
			for _, btn := range r {
				if btn.RequestContact {
					row = append(row, tgbotapi.NewKeyboardButtonContact(btn.Text))
				} else {
					row = append(row, tgbotapi.NewKeyboardButton(btn.Text))
				}
			}
			rows = append(rows, row)
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		return kb
	case m.RemoveReply:
		return tgbotapi.NewRemoveKeyboard(false)
	}
	return nil
}

func inlineKeyboard(rows [][]InlineButton) tgbotapi.InlineKeyboardMarkup {
	var out [][]tgbotapi.InlineKeyboardButton
	for _, r := range rows {
		var row []tgbotapi.InlineKeyboardButton
		for _, btn := range r {
			if btn.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
			}
		}
		out = append(out, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
