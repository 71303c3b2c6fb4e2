package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/model"
)

// LiveStore holds the sessions that can currently admit students. Every implementation
// stores copies, and Delete of an absent id is not an error.
type LiveStore interface {
	Get(ctx context.Context, id string) (*model.Session, bool, error)
	Put(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, id string) error
	// Sweep removes entries whose expiry is before now and returns how many it removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// MemoryStore is a process-local LiveStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Put(_ context.Context, s *model.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// DefaultRetention keeps an expired session in Redis long enough for late scans to be told
// the session expired instead of that it never existed.
const DefaultRetention = 10 * time.Minute

// RedisStore is a LiveStore shared by every API instance. Each session is one JSON value
// whose TTL ends Retention after the session expires.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a store under prefix (default "attendance:live:").
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "attendance:live:"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention, now: time.Now}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Get(ctx context.Context, id string) (*model.Session, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("live get %s: %w", id, err)
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("live decode %s: %w", id, err)
	}
	return &s, true, nil
}

func (r *RedisStore) Put(ctx context.Context, s *model.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("live encode %s: %w", s.ID, err)
	}
	ttl := s.ExpiresAt.Sub(r.now()) + r.retention
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, r.key(s.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("live put %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("live delete %s: %w", id, err)
	}
	return nil
}

// compareAndDelete removes key only while it still holds raw, so an entry rewritten by a
// concurrent Put between the sweep's read and its delete survives.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *RedisStore) deleteIfUnchanged(ctx context.Context, key string, raw []byte) (int, error) {
	n, err := compareAndDelete.Run(ctx, r.client, []string{key}, raw).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := r.scan(ctx, func(key string) error {
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var s model.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			// Unreadable entries can never admit anyone.
			_, err := r.deleteIfUnchanged(ctx, key, raw)
			return err
		}
		if s.ExpiresAt.Before(now) {
			n, err := r.deleteIfUnchanged(ctx, key, raw)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("live sweep: %w", err)
	}
	return removed, nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.scan(ctx, func(string) error { n++; return nil })
	if err != nil {
		return 0, fmt.Errorf("live count: %w", err)
	}
	return n, nil
}

func (r *RedisStore) scan(ctx context.Context, fn func(key string) error) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

var (
	_ LiveStore = (*MemoryStore)(nil)
	_ LiveStore = (*RedisStore)(nil)
)
