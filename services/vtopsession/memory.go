package vtopsession

import (
	"context"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in an expiring in-process LRU. The
// portal invalidates idle sessions server-side anyway, so evicting
// after a TTL just keeps the map honest.
type MemoryStore struct {
	cache *expirable.LRU[string, *vtop.Session]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, *vtop.Session](size, nil, ttl),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*vtop.Session, error) {
	session, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, session *vtop.Session) error {
	s.cache.Add(key, session)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}
