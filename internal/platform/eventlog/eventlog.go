// Package eventlog remembers processed webhook event ids for a bounded time so duplicate
// deliveries can be acknowledged without reprocessing.
package eventlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webhook:event:"

// Store records event ids. Remember reports true the first time key is seen within ttl.
type Store interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisStore keeps event ids in Redis using SET NX with expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("eventlog: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

// Remember implements Store.
func (s *RedisStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("eventlog: key is required")
	}
	return s.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// MemoryStore is a process-local Store for tests. It does not coordinate across instances.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	expires map[string]time.Time
}

// NewMemoryStore constructs an empty MemoryStore. clock may be nil.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{now: clock, expires: make(map[string]time.Time)}
}

// Remember implements Store. Expired entries are swept on each call.
func (s *MemoryStore) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("eventlog: key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
		}
	}
	if _, seen := s.expires[key]; seen {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}
