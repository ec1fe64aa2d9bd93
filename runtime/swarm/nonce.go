package swarm

import (
	"sync"
	"time"
)

// NonceStore rejects a nonce it has already seen within the configured
// window, and garbage-collects entries older than the window on every
// check so the store does not grow unbounded.
type NonceStore struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// NewNonceStore constructs a store that forgets a nonce window after it was
// first observed.
func NewNonceStore(window time.Duration) *NonceStore {
	return &NonceStore{window: window, seen: make(map[string]time.Time)}
}

// CheckAndRecord returns true if nonce has not been seen within the window
// (and records it), false if it is a replay.
func (s *NonceStore) CheckAndRecord(nonce string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n, t := range s.seen {
		if now.Sub(t) > s.window {
			delete(s.seen, n)
		}
	}

	if firstSeen, ok := s.seen[nonce]; ok && now.Sub(firstSeen) <= s.window {
		return false
	}
	s.seen[nonce] = now
	return true
}
