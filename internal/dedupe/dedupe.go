// Package dedupe remembers provider webhook event ids that were already
// reconciled so replayed deliveries can be skipped before touching the log
// store.
package dedupe

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
)

// Store records processed event ids for a bounded time.
type Store interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

const keyPrefix = "mailer:webhook:event:"

// RedisStore keeps event ids in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisStore(client, ttl), nil
}

func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, keyPrefix+eventID, 1, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is a process-local Store bounded by TTL and entry count.
// Marks are kept in arrival order so expiry and eviction pop from the front.
type MemoryStore struct {
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock

	mu      sync.Mutex
	entries map[string]time.Time
	order   []mark
}

type mark struct {
	id string
	at time.Time
}

func NewMemoryStore(ttl time.Duration, maxEntries int, c clock.Clock) *MemoryStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	return &MemoryStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      c,
		entries:    map[string]time.Time{},
	}
}

func (s *MemoryStore) Seen(_ context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, nil
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	markedAt, ok := s.entries[eventID]
	if !ok {
		return false, nil
	}
	if now.Sub(markedAt) >= s.ttl {
		delete(s.entries, eventID)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[eventID] = now
	s.order = append(s.order, mark{id: eventID, at: now})
	s.evict(now)
	return nil
}

// evict pops expired marks and, while over the cap, the oldest live ones.
// A queued mark whose time no longer matches the map was superseded by a
// later Mark or already removed by Seen.
func (s *MemoryStore) evict(now time.Time) {
	head := 0
	for head < len(s.order) {
		m := s.order[head]
		markedAt, ok := s.entries[m.id]
		if !ok || !markedAt.Equal(m.at) {
			head++
			continue
		}
		if now.Sub(m.at) < s.ttl && len(s.entries) <= s.maxEntries {
			break
		}
		delete(s.entries, m.id)
		head++
	}
	s.order = s.order[head:]

	if len(s.order) > 2*s.maxEntries {
		live := make([]mark, 0, len(s.entries))
		for _, m := range s.order {
			if markedAt, ok := s.entries[m.id]; ok && markedAt.Equal(m.at) {
				live = append(live, m)
			}
		}
		s.order = live
	}
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
