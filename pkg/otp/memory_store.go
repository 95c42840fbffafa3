package otp

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	code     string
	issuedAt time.Time
	misses   int
}

// MemoryStore is the in-process fallback used when no Redis is configured.
// Only one instance sees a code, so it is unsuitable for multi-replica deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Backend names the store for metrics
func (s *MemoryStore) Backend() string { return "memory" }

// Issue generates a code and replaces any previous one for identifier
func (s *MemoryStore) Issue(_ context.Context, identifier string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[Key(identifier)] = entry{code: code, issuedAt: s.now()}
	return code, nil
}

// Verify checks code and deletes it on a match or after MaxAttempts misses
func (s *MemoryStore) Verify(_ context.Context, identifier, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	key := Key(identifier)
	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !codesEqual(e.code, code) {
		e.misses++
		if e.misses >= MaxAttempts {
			delete(s.entries, key)
		} else {
			s.entries[key] = e
		}
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Sweep drops expired codes and returns how many were removed
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Len returns the number of codes held, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked() int {
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if now.Sub(e.issuedAt) >= s.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
