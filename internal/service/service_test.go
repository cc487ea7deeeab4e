package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/maryam-mebel/support-bot/internal/config"
	"github.com/maryam-mebel/support-bot/internal/kafka"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Одно соединение: in-memory база живёт ровно в нём, и конкурентные
	// тесты сериализуются на уровне пула.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.User{}, &model.Ticket{}, &model.Message{}, &model.ForwardedMessage{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{
		AdminIDs:   []int64{100, 101, 102},
		Topics:     config.DefaultTopics,
		Milestones: []config.Milestone{{Threshold: 5, Bonus: 2}, {Threshold: 10, Bonus: 3}},
		RelayBatch: 10,
	}
	return cfg
}

type sentText struct {
	ChatID int64
	Text   string
	Markup *telegram.Markup
}

// fakeTransport пишет исходящие в память; чаты из fail получают ошибку отправки.
type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentText
	edited  []sentText
	deleted []int
	fail    map[int64]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[int64]bool)}
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, markup *telegram.Markup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return 0, errors.New("chat unavailable")
	}
	f.nextID++
	f.sent = append(f.sent, sentText{ChatID: chatID, Text: text, Markup: markup})
	return f.nextID, nil
}

func (f *fakeTransport) SendDocument(_ context.Context, chatID int64, _ []byte, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return errors.New("chat unavailable")
	}
	return nil
}

func (f *fakeTransport) EditText(_ context.Context, chatID int64, _ int, text string, markup *telegram.Markup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, sentText{ChatID: chatID, Text: text, Markup: markup})
	return nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, _, _ string, _ bool) error {
	return nil
}

func (f *fakeTransport) sentTo(chatID int64) []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentText
	for _, s := range f.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func seedUser(t *testing.T, db *gorm.DB, id int64, name string) *model.User {
	t.Helper()
	u := &model.User{ID: id, FirstName: name, Username: fmt.Sprintf("user%d", id), Status: model.UserStatusActive}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
	return u
}

func noopProducer() kafka.EventProducer {
	return kafka.NewProducer(nil, "")
}
