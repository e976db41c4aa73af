package rategate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps admission windows in process memory. Each key holds at
// most Limit timestamps at any instant after pruning.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Admit(_ context.Context, key string, policy Policy, now time.Time) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-policy.Window)
	window := s.windows[key]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= policy.Limit {
		s.windows[key] = kept
		retryAfter := kept[0].Sub(cutoff)
		return retryAfter, false, nil
	}

	s.windows[key] = append(kept, now)
	return 0, true, nil
}
