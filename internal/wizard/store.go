package wizard

import (
	"context"
	"sync"
	"time"
)

// SessionStore — внедряемое хранилище сессий (никаких пакетных глобалов).
type SessionStore interface {
	// Get возвращает nil, nil если сессии нет.
	Get(ctx context.Context, userID int64) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
	// Stale возвращает сессии, не обновлявшиеся с cutoff.
	Stale(ctx context.Context, cutoff time.Time) ([]*Session, error)
}

// MemoryStore — процесс-локальное хранилище по умолчанию.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]*Session)}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Fields = copyFields(s.Fields)
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Fields = copyFields(s.Fields)
	m.sessions[s.UserID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) Stale(_ context.Context, cutoff time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			cp := *s
			cp.Fields = copyFields(s.Fields)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
