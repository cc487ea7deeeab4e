package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore хранит сессии в Redis с TTL равным таймауту простоя: протухшие
// сессии вычищает сам Redis, поэтому Stale здесь всегда пуст.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		ttl:    ttl,
	}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("wizard:session:%d", userID)
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wizard: redis get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("wizard: decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("wizard: encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("wizard: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("wizard: redis del: %w", err)
	}
	return nil
}

func (r *RedisStore) Stale(_ context.Context, _ time.Time) ([]*Session, error) {
	return nil, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
