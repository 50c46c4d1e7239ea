package dedupe

import (
	"sync"
	"time"
)

// RecentSet is a small in-memory set whose entries expire after a
// fixed interval. It guards against two near-simultaneous separate
// batches carrying the same item: the first batch's successful persist
// lands here immediately, before the second batch reaches its dedup
// check.
type RecentSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRecentSet creates a RecentSet whose entries expire after ttl.
func NewRecentSet(ttl time.Duration) *RecentSet {
	return &RecentSet{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add inserts a fingerprint and sweeps expired entries.
func (s *RecentSet) Add(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.entries[fingerprint] = now
	for fp, inserted := range s.entries {
		if now.Sub(inserted) > s.ttl {
			delete(s.entries, fp)
		}
	}
}

// Contains reports whether a fingerprint is present and not expired.
// Expired entries are removed lazily on read.
func (s *RecentSet) Contains(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted, ok := s.entries[fingerprint]
	if !ok {
		return false
	}
	if s.now().Sub(inserted) > s.ttl {
		delete(s.entries, fingerprint)
		return false
	}
	return true
}

// Len returns the number of live entries, sweeping expired ones.
func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for fp, inserted := range s.entries {
		if now.Sub(inserted) > s.ttl {
			delete(s.entries, fp)
		}
	}
	return len(s.entries)
}
