package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store for tests and single-node deployments
// without Redis. Expiry is evaluated lazily against the caller's clock.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

func (s *MemStore) get(key string, now time.Time) (memEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.After(now) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemStore) Reserve(_ context.Context, res Reservation, now time.Time) (Kind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range res.Counters {
		if e, ok := s.get(c.Key, now); ok && e.count >= c.Max {
			return c.Kind, nil
		}
	}
	for _, cd := range res.Cooldowns {
		if !cd.Enforce {
			continue
		}
		if _, ok := s.get(cd.Key, now); ok {
			return cd.Kind, nil
		}
	}

	for _, c := range res.Counters {
		e, ok := s.get(c.Key, now)
		if !ok {
			e = memEntry{expiresAt: now.Add(c.TTL)}
		}
		e.count++
		s.entries[c.Key] = e
	}
	for _, cd := range res.Cooldowns {
		s.entries[cd.Key] = memEntry{count: 1, expiresAt: now.Add(cd.Window)}
	}
	return "", nil
}
