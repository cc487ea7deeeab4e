package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

func newTicketService(t *testing.T) (*TicketService, *fakeTransport, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	transport := newFakeTransport()
	users := NewUserService(db)
	svc := NewTicketService(db, transport, noopProducer(), users, testConfig())
	return svc, transport, db
}

func TestOpenTicketFansOutToAdmins(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")

	ticket, err := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Divan buzilib qoldi")
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}
	if ticket.Status != model.TicketStatusOpen {
		t.Fatalf("status = %s, want open", ticket.Status)
	}

	for _, adminID := range []int64{100, 101, 102} {
		if got := transport.sentTo(adminID); len(got) != 1 {
			t.Fatalf("admin %d received %d messages, want 1", adminID, len(got))
		}
	}
	var records int64
	if err := db.Model(&model.ForwardedMessage{}).Where("ticket_id = ?", ticket.ID).Count(&records).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if records != 3 {
		t.Fatalf("forwarded records = %d, want 3", records)
	}
	userMsgs := transport.sentTo(1)
	if len(userMsgs) != 1 || !strings.Contains(userMsgs[0].Text, fmt.Sprintf("#%d", ticket.ID)) {
		t.Fatalf("user confirmation missing: %+v", userMsgs)
	}
}

func TestOpenTicketSurvivesPartialFanOutFailure(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	transport.fail[101] = true

	ticket, err := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "buyurtma", "Buyurtmam qayerda?")
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}
	var records int64
	db.Model(&model.ForwardedMessage{}).Where("ticket_id = ?", ticket.ID).Count(&records)
	if records != 2 {
		t.Fatalf("forwarded records = %d, want 2", records)
	}
}

func TestOpenTicketAllDeliveriesFailed(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	for _, id := range []int64{100, 101, 102} {
		transport.fail[id] = true
	}

	ticket, err := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "taklif", "Taklifim bor")
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}
	// Тикет остаётся в базе, пользователь узнаёт о сбое доставки.
	if _, err := svc.ByID(ctx, ticket.ID); err != nil {
		t.Fatalf("ticket lost: %v", err)
	}
	msgs := transport.sentTo(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "qayta urinib") {
		t.Fatalf("user failure notice missing: %+v", msgs)
	}
}

func TestClaimExactlyOneWinner(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, err := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Yordam kerak")
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}

	admins := []int64{100, 101, 102}
	wins := make([]bool, len(admins))
	var wg sync.WaitGroup
	for i, adminID := range admins {
		wg.Add(1)
		go func(i int, adminID int64) {
			defer wg.Done()
			won, err := svc.Claim(ctx, ticket.ID, telegram.User{ID: adminID, FirstName: fmt.Sprintf("Admin%d", i)})
			if err != nil {
				t.Errorf("claim by %d: %v", adminID, err)
			}
			wins[i] = won
		}(i, adminID)
	}
	wg.Wait()

	winners := 0
	var winnerID int64
	for i, won := range wins {
		if won {
			winners++
			winnerID = admins[i]
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	got, err := svc.ByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if got.Status != model.TicketStatusClaimed || got.AssignedAdminID == nil || *got.AssignedAdminID != winnerID {
		t.Fatalf("ticket = %+v, want claimed by %d", got, winnerID)
	}

	// У проигравших копии отозваны: остаётся только квитанция победителя.
	var records []model.ForwardedMessage
	db.Where("ticket_id = ? AND relayed_message_id IS NULL", ticket.ID).Find(&records)
	if len(records) != 1 || records[0].AdminID != winnerID {
		t.Fatalf("remaining copies = %+v, want only winner's", records)
	}
	if len(transport.deleted) != 2 {
		t.Fatalf("deleted = %d, want 2", len(transport.deleted))
	}
}

func TestClaimAfterWinnerLoses(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")

	won, err := svc.Claim(ctx, ticket.ID, telegram.User{ID: 100, FirstName: "Birinchi"})
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = svc.Claim(ctx, ticket.ID, telegram.User{ID: 101, FirstName: "Ikkinchi"})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatal("second claim won, want loss")
	}
}

func TestRelayReplyOwnership(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")

	// Никем не взятый тикет: отвечать может любой админ.
	if err := svc.RelayReply(ctx, telegram.User{ID: 100, FirstName: "Olim"}, ticket.ID, "Javob 1"); err != nil {
		t.Fatalf("reply to unclaimed: %v", err)
	}

	got, _ := svc.ByID(ctx, ticket.ID)
	if got.Status != model.TicketStatusReplied {
		t.Fatalf("status = %s, want replied", got.Status)
	}

	// Закрепляем за 100 и проверяем, что 101 получает отказ.
	db.Model(&model.Ticket{}).Where("id = ?", ticket.ID).Update("assigned_admin_id", 100)
	err := svc.RelayReply(ctx, telegram.User{ID: 101, FirstName: "Begona"}, ticket.ID, "Chetdan javob")
	if !errors.Is(err, errs.ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}

	userMsgs := transport.sentTo(1)
	// Подтверждение открытия, сам ответ и запрос оценки.
	if len(userMsgs) != 3 {
		t.Fatalf("user received %d messages, want 3: %+v", len(userMsgs), userMsgs)
	}
	if userMsgs[2].Markup == nil || len(userMsgs[2].Markup.Inline) == 0 {
		t.Fatal("rating keyboard missing")
	}
}

func TestRelayReplyClosedTicket(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")
	db.Model(&model.Ticket{}).Where("id = ?", ticket.ID).Update("status", model.TicketStatusClosed)

	err := svc.RelayReply(ctx, telegram.User{ID: 100, FirstName: "Olim"}, ticket.ID, "Kech qolgan javob")
	if !errors.Is(err, errs.ErrTicketClosed) {
		t.Fatalf("err = %v, want ErrTicketClosed", err)
	}
}

func TestRelayPendingDeliversWebsiteReplies(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")

	if _, err := svc.AppendAdminMessage(ctx, ticket.ID, 200, "Sayt operatori", "Saytdan javob"); err != nil {
		t.Fatalf("append: %v", err)
	}

	sent, processed, err := svc.RelayPending(ctx, 10)
	if err != nil {
		t.Fatalf("relay pending: %v", err)
	}
	if sent != 1 || processed != 1 {
		t.Fatalf("sent=%d processed=%d, want 1/1", sent, processed)
	}
	userMsgs := transport.sentTo(1)
	if last := userMsgs[len(userMsgs)-1]; last.Text != "Saytdan javob" {
		t.Fatalf("delivered %q", last.Text)
	}

	// Повторный проход ничего не шлёт: сообщение уже помечено.
	sent, processed, err = svc.RelayPending(ctx, 10)
	if err != nil || sent != 0 || processed != 0 {
		t.Fatalf("second sweep: sent=%d processed=%d err=%v, want 0/0", sent, processed, err)
	}
}

func TestRelayPendingMarksUndeliverable(t *testing.T) {
	svc, transport, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")
	svc.AppendAdminMessage(ctx, ticket.ID, 200, "Sayt operatori", "Yetmaydigan javob")
	transport.fail[1] = true

	sent, processed, err := svc.RelayPending(ctx, 10)
	if err != nil || sent != 0 || processed != 1 {
		t.Fatalf("sweep: sent=%d processed=%d err=%v, want 0/1", sent, processed, err)
	}
	// Недоставленное сообщение не ретраится вечно.
	sent, processed, err = svc.RelayPending(ctx, 10)
	if err != nil || sent != 0 || processed != 0 {
		t.Fatalf("retry sweep: sent=%d processed=%d err=%v, want 0/0", sent, processed, err)
	}
	var marks int64
	db.Model(&model.ForwardedMessage{}).Where("ticket_id = ? AND relayed_message_id IS NOT NULL", ticket.ID).Count(&marks)
	if marks != 1 {
		t.Fatalf("marks = %d, want 1", marks)
	}
}

func TestRelayPendingSkipsUserMessages(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")

	// Единственное сообщение журнала — от самого пользователя.
	sent, processed, err := svc.RelayPending(ctx, 10)
	if err != nil || sent != 0 || processed != 0 {
		t.Fatalf("sweep: sent=%d processed=%d err=%v, want 0/0", sent, processed, err)
	}
}

func TestRateClosesOnce(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")

	if err := svc.Rate(ctx, ticket.ID, 0); !errors.Is(err, errs.ErrBadRating) {
		t.Fatalf("rate 0: %v, want ErrBadRating", err)
	}
	if err := svc.Rate(ctx, ticket.ID, 6); !errors.Is(err, errs.ErrBadRating) {
		t.Fatalf("rate 6: %v, want ErrBadRating", err)
	}
	if err := svc.Rate(ctx, ticket.ID, 5); err != nil {
		t.Fatalf("rate 5: %v", err)
	}
	got, _ := svc.ByID(ctx, ticket.ID)
	if got.Status != model.TicketStatusClosed || got.Rating == nil || *got.Rating != 5 {
		t.Fatalf("ticket after rate = %+v", got)
	}
	if err := svc.Rate(ctx, ticket.ID, 3); !errors.Is(err, errs.ErrTicketClosed) {
		t.Fatalf("re-rate: %v, want ErrTicketClosed", err)
	}
	if err := svc.Rate(ctx, 9999, 4); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Fatalf("rate missing: %v, want ErrTicketNotFound", err)
	}
}

func TestAverageRating(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")

	if _, ok, err := svc.AverageRating(ctx); err != nil || ok {
		t.Fatalf("empty: ok=%v err=%v, want ok=false", ok, err)
	}

	for _, stars := range []int{5, 3} {
		ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")
		if err := svc.Rate(ctx, ticket.ID, stars); err != nil {
			t.Fatalf("rate: %v", err)
		}
	}
	avg, ok, err := svc.AverageRating(ctx)
	if err != nil || !ok {
		t.Fatalf("avg: ok=%v err=%v", ok, err)
	}
	if avg != 4 {
		t.Fatalf("avg = %v, want 4", avg)
	}
}

func TestTicketByForwardedReply(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	ticket, _ := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", "Savol")

	var rec model.ForwardedMessage
	if err := db.Where("ticket_id = ? AND admin_id = ?", ticket.ID, 100).First(&rec).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	got, err := svc.TicketByForwardedReply(ctx, 100, rec.TransportMessageID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != ticket.ID {
		t.Fatalf("ticket = %d, want %d", got.ID, ticket.ID)
	}
	if _, err := svc.TicketByForwardedReply(ctx, 100, 99999); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Fatalf("missing: %v, want ErrTicketNotFound", err)
	}
}

func TestPanelTicketsPagination(t *testing.T) {
	svc, _, db := newTicketService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")
	for i := 0; i < 7; i++ {
		if _, err := svc.OpenTicket(ctx, telegram.User{ID: 1, FirstName: "Aziz"}, "texnik", fmt.Sprintf("Savol %d", i)); err != nil {
			t.Fatalf("open: %v", err)
		}
	}

	first, total, err := svc.PanelTickets(ctx, 0, 5)
	if err != nil {
		t.Fatalf("page 0: %v", err)
	}
	if total != 7 || len(first) != 5 {
		t.Fatalf("total=%d len=%d, want 7/5", total, len(first))
	}
	second, _, err := svc.PanelTickets(ctx, 1, 5)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("page 1 len = %d, want 2", len(second))
	}
	// Старые обращения первыми.
	if first[0].ID > first[1].ID {
		t.Fatalf("page not ordered oldest first: %+v", first)
	}
}
