package dedupe

import (
	"context"
	"sync"
	"time"
)

type MemStore struct {
	mu        sync.Mutex
	claims    map[string]time.Time
	Retention time.Duration
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		claims:    make(map[string]time.Time),
		Retention: DefaultRetention,
	}
}

func (s *MemStore) Claim(ctx context.Context, namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := namespace + "/" + key
	exp, ok := s.claims[k]
	if ok && time.Now().Before(exp) {
		return false
	}
	s.claims[k] = time.Now().Add(s.Retention)
	return true
}

func (s *MemStore) Release(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, namespace+"/"+key)
	return nil
}
