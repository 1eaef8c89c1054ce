package session

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	data      *Data
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[key]
	if !ok || !entry.expiresAt.After(s.now()) {
		return nil, ErrNoSession
	}
	return cloneData(entry.data), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, data *Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = &memoryEntry{
		data:      cloneData(data),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.sessions {
		if !entry.expiresAt.After(now) || !entry.data.ExpiresAt.After(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
