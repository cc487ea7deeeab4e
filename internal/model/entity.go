package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusClaimed TicketStatus = "claimed"
	TicketStatusReplied TicketStatus = "replied"
	TicketStatusClosed  TicketStatus = "closed"
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
)

// User — внешняя chat-идентичность. ID равен telegram chat id, записи никогда не удаляются.
type User struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	FirstName string     `gorm:"type:varchar(255)" json:"first_name"`
	Username  string     `gorm:"type:varchar(255)" json:"username,omitempty"`
	Status    UserStatus `gorm:"type:varchar(32);not null;default:active" json:"status"`
	VIP       bool       `gorm:"column:vip;not null;default:false" json:"vip"`
	Note      string     `gorm:"type:text" json:"note,omitempty"`

	// Реферальный счёт. Milestones — достигнутые пороги через запятую ("5,10"),
	// множество только растёт.
	ReferralCount int    `gorm:"not null;default:0" json:"referral_count"`
	ReferrerID    *int64 `gorm:"index" json:"referrer_id,omitempty"`
	Milestones    string `gorm:"type:text;not null;default:''" json:"milestones"`

	CreatedAt time.Time `json:"created_at"`
}

// Ticket — обращение пользователя. Статус движется только вперёд
// (open -> claimed -> replied -> closed), assigned_admin_id выставляется
// ровно один раз при claim.
type Ticket struct {
	ID              uint64       `gorm:"primaryKey" json:"id"`
	UserID          int64        `gorm:"index;not null" json:"user_id"`
	Topic           string       `gorm:"type:varchar(64);index" json:"topic"`
	Status          TicketStatus `gorm:"type:varchar(32);index;not null;default:open" json:"status"`
	AssignedAdminID *int64       `gorm:"index" json:"assigned_admin_id,omitempty"`
	Rating          *int         `json:"rating,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Message — append-only журнал переписки тикета, порядок по sent_at.
type Message struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	TicketID   uint64    `gorm:"index;not null" json:"ticket_id"`
	SenderID   int64     `gorm:"not null" json:"sender_id"`
	SenderName string    `gorm:"type:varchar(255)" json:"sender_name"`
	Text       string    `gorm:"type:text" json:"text"`
	SentAt     time.Time `gorm:"index;not null" json:"sent_at"`
}

// ForwardedMessage — квитанция доставки. Две роли:
//   - fan-out: копия уведомления о новом тикете в чате конкретного админа
//     (TransportMessageID — id сообщения в этом чате);
//   - relay: отметка «строка журнала обработана фоновой доставкой»
//     (RelayedMessageID ссылается на messages.id).
type ForwardedMessage struct {
	ID                 uint64  `gorm:"primaryKey" json:"id"`
	TicketID           uint64  `gorm:"index;not null" json:"ticket_id"`
	AdminID            int64   `gorm:"index;not null" json:"admin_id"`
	TransportMessageID int     `gorm:"column:transport_message_id" json:"transport_message_id"`
	RelayedMessageID   *uint64 `gorm:"index" json:"relayed_message_id,omitempty"`
}
