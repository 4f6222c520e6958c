package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-auth/refresh"
)

var _ refresh.Store = (*Store)(nil)

type sessionEntry struct {
	record    refresh.Record
	expiresAt time.Time
}

// Store is a process local refresh.Store. Expiry is checked lazily on read; Sweep and Run
// reclaim memory for entries nobody reads again. Revocations do not survive a restart and
// are not shared between processes.
type Store struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	revoked  map[string]time.Time
	now      func() time.Time
}

// New returns an empty store using the wall clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty store reading time from now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		sessions: make(map[string]sessionEntry),
		revoked:  make(map[string]time.Time),
		now:      now,
	}
}

func (s *Store) Persist(_ context.Context, hash string, record refresh.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[hash] = sessionEntry{record: record, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Revoke(_ context.Context, hash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[hash] = s.now().Add(ttl)
	return nil
}

func (s *Store) Get(_ context.Context, hash string) (*refresh.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[hash]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.sessions, hash)
		return nil, nil
	}
	record := entry.record
	return &record, nil
}

func (s *Store) IsRevoked(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.revoked[hash]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.revoked, hash)
		return false, nil
	}
	return true, nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for hash, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, hash)
			removed++
		}
	}
	for hash, exp := range s.revoked {
		if !now.Before(exp) {
			delete(s.revoked, hash)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions and blacklist entries, expired or not.
func (s *Store) Len() (sessions, revoked int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), len(s.revoked)
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
