package errs

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrUserNotFound   = errors.New("user not found")
	// ErrTicketClosed — тикет уже закрыт оценкой, дальнейшие переходы статуса запрещены.
	ErrTicketClosed = errors.New("ticket already closed")
	// ErrNotAssigned — админ пытается ответить на тикет, закреплённый за другим админом.
	ErrNotAssigned = errors.New("ticket assigned to another admin")
	ErrBadRating   = errors.New("rating must be between 1 and 5")
)
