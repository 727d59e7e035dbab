package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemStore struct {
	mu   sync.Mutex
	held *expirable.LRU[string, struct{}]
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int, ttl time.Duration) *MemStore {
	return &MemStore{held: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (s *MemStore) Acquire(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held.Get(key); ok {
		return false, nil
	}
	s.held.Add(key, struct{}{})
	return true, nil
}

func (s *MemStore) Release(_ context.Context, key string) error {
	s.held.Remove(key)
	return nil
}
