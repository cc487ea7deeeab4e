package telegram

import "context"

// User — отправитель входящего события.
type User struct {
	ID        int64
	FirstName string
	Username  string
}

// TextMessage — входящий текст. ReplyToMessageID > 0, если это reply на
// сообщение бота (так админ отвечает на разосланную копию тикета).
type TextMessage struct {
	From             User
	ChatID           int64
	MessageID        int
	Text             string
	ReplyToMessageID int
}

// Contact — пользователь поделился номером телефона.
type Contact struct {
	From   User
	ChatID int64
	Phone  string
}

// CallbackTap — нажатие inline-кнопки.
type CallbackTap struct {
	From       User
	ChatID     int64
	CallbackID string
	Data       string
	MessageID  int
}

// Event — ровно одно из полей не nil.
type Event struct {
	Text     *TextMessage
	Contact  *Contact
	Callback *CallbackTap
}

// ChatKey — ключ партиционирования: события одного чата обрабатываются по порядку.
func (e Event) ChatKey() int64 {
	switch {
	case e.Text != nil:
		return e.Text.ChatID
	case e.Contact != nil:
		return e.Contact.ChatID
	case e.Callback != nil:
		return e.Callback.ChatID
	}
	return 0
}

// InlineButton — кнопка с callback data либо внешней ссылкой.
type InlineButton struct {
	Text string
	Data string
	URL  string
}

// ReplyButton — кнопка обычной клавиатуры; RequestContact запрашивает номер.
type ReplyButton struct {
	Text           string
	RequestContact bool
}

// Markup — клавиатура к исходящему сообщению. Заполняется максимум одно из полей.
type Markup struct {
	Inline      [][]InlineButton
	Reply       [][]ReplyButton
	RemoveReply bool
}

func InlineMarkup(rows ...[]InlineButton) *Markup {
	return &Markup{Inline: rows}
}

func ReplyMarkup(rows ...[]ReplyButton) *Markup {
	return &Markup{Reply: rows}
}

func RemoveReplyMarkup() *Markup {
	return &Markup{RemoveReply: true}
}

// Transport — узкий адаптер чат-провайдера. Единственные блокирующие I/O
// операции ядра; ошибки отправки логируются на месте вызова и не откатывают
// уже закоммиченные переходы состояния.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, markup *Markup) (messageID int, err error)
	SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) error
	EditText(ctx context.Context, chatID int64, messageID int, text string, markup *Markup) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
