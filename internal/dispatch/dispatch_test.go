package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maryam-mebel/support-bot/internal/telegram"
)

func textEvent(chatID int64, text string) telegram.Event {
	return telegram.Event{Text: &telegram.TextMessage{ChatID: chatID, Text: text}}
}

func TestPerChatOrderPreserved(t *testing.T) {
	var mu sync.Mutex
	got := make(map[int64][]string)

	pool := NewPool(4, 16, func(_ context.Context, ev telegram.Event) {
		mu.Lock()
		got[ev.ChatKey()] = append(got[ev.ChatKey()], ev.Text.Text)
		mu.Unlock()
	})
	pool.Start(context.Background())

	chats := []int64{1, 2, 3, 42, 1000}
	words := []string{"a", "b", "c", "d", "e"}
	for _, w := range words {
		for _, chat := range chats {
			if !pool.Submit(textEvent(chat, w)) {
				t.Fatalf("submit rejected for chat %d", chat)
			}
		}
	}
	pool.Close()

	for _, chat := range chats {
		seq := got[chat]
		if len(seq) != len(words) {
			t.Fatalf("chat %d got %d events, want %d", chat, len(seq), len(words))
		}
		for i, w := range words {
			if seq[i] != w {
				t.Fatalf("chat %d order = %v, want %v", chat, seq, words)
			}
		}
	}
}

func TestSubmitAfterClose(t *testing.T) {
	pool := NewPool(2, 4, func(context.Context, telegram.Event) {})
	pool.Start(context.Background())
	pool.Close()
	if pool.Submit(textEvent(1, "late")) {
		t.Fatal("submit accepted after close")
	}
}

func TestSameKeySameWorker(t *testing.T) {
	pool := NewPool(8, 1, func(context.Context, telegram.Event) {})
	for i := 0; i < 100; i++ {
		a := pool.keyIndex(77)
		if b := pool.keyIndex(77); a != b {
			t.Fatalf("key index unstable: %d vs %d", a, b)
		}
	}
}

func TestSaturatedKeyDoesNotBlockOthers(t *testing.T) {
	// Воркеры нарочно не запущены: очередь slow переполняется и её Submit
	// висит. Чужой ключ при этом обязан проходить.
	pool := NewPool(4, 1, func(context.Context, telegram.Event) {})

	slow := int64(1)
	other := int64(-1)
	for k := int64(2); k < 100; k++ {
		if pool.keyIndex(k) != pool.keyIndex(slow) {
			other = k
			break
		}
	}
	if other < 0 {
		t.Fatal("no key in a different partition")
	}

	if !pool.Submit(textEvent(slow, "fills the buffer")) {
		t.Fatal("first submit rejected")
	}
	stuck := make(chan struct{})
	go func() {
		pool.Submit(textEvent(slow, "blocks on full queue"))
		close(stuck)
	}()

	done := make(chan bool, 1)
	go func() { done <- pool.Submit(textEvent(other, "unrelated chat")) }()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("submit rejected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submit to an idle partition blocked behind a saturated one")
	}

	// Освобождаем застрявшего отправителя, чтобы не уронить его на Close.
	<-pool.queues[pool.keyIndex(slow)]
	<-stuck
	pool.Close()
}
