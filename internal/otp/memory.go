package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and dev mode.
type MemoryStore struct {
	mu    sync.Mutex
	codes []Code
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, c Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, c)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, email, code string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.codes {
		if c.Email == email && c.Code == code && now.Before(c.ExpiresAt) {
			s.codes = append(s.codes[:i], s.codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0]
	removed := 0
	for _, c := range s.codes {
		if now.Before(c.ExpiresAt) {
			kept = append(kept, c)
			continue
		}
		removed++
	}
	s.codes = kept
	return removed, nil
}

// Len reports how many codes are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
