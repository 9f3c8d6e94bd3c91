package store

import (
	"bytes"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"ringdht/internal/metrics"
)

// Store is a concurrency-safe in-memory multi-value store.
//
// Design principles:
//   - Each key maps to its entries in insertion order; the order is what
//     paginated reads walk.
//   - Expiry is lazy and scoped to the key being touched (DeleteExpired).
//     RemoveExpired is the only full scan and is reserved for admin sweeps.
//   - Every method is atomic on its own. Callers composing several calls
//     (check, then add) hold their own lock around the sequence.
type Store struct {
	mu      sync.RWMutex
	data    map[string][]Entry
	count   int
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. TTLs are whole seconds, so tests drive a fake
// clock instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore initializes and returns a new Store.
func NewStore(metricsRegistry *metrics.Registry, opts ...Option) *Store {
	s := &Store{
		data:    make(map[string][]Entry),
		metrics: metricsRegistry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// AddEntry appends e to the sequence of its key.
func (s *Store) AddEntry(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(e.Key)
	s.data[k] = append(s.data[k], e)
	s.count++
	s.metrics.Inc(metrics.TableEntriesTotal)
}

// UpdateEntry pushes the expiry of (key, value) forward to newExpiry. An
// earlier newExpiry leaves the entry untouched. Returns false if no such
// entry exists.
func (s *Store) UpdateEntry(key, value []byte, newExpiry time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.data[string(key)]
	for i := range entries {
		if entries[i].Matches(value) {
			if newExpiry.After(entries[i].ExpiresAt) {
				entries[i].ExpiresAt = newExpiry
			}
			return true
		}
	}
	return false
}

// GetEntries returns a copy of the entries stored for key, or ok=false if
// the key holds nothing. Expired entries are not filtered here; callers run
// DeleteExpired first.
func (s *Store) GetEntries(key []byte) ([]Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.data[string(key)]
	if !ok || len(entries) == 0 {
		return nil, false
	}
	return slices.Clone(entries), true
}

// LiveEntries is the read-only variant used by replication: expired entries
// are skipped but not removed.
func (s *Store) LiveEntries(key []byte) ([]Entry, bool) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.data[string(key)] {
		if !e.IsExpired(now) {
			out = append(out, e)
		}
	}
	return out, len(out) > 0
}

// DeleteExpired drops the dead entries of a single key and returns how many
// were removed.
func (s *Store) DeleteExpired(key []byte) int {
	now := s.now()
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.data[k]
	if !ok {
		return 0
	}
	live := entries[:0]
	for _, e := range entries {
		if !e.IsExpired(now) {
			live = append(live, e)
		}
	}
	removed := len(entries) - len(live)
	// clear the tail so dropped values can be collected
	for i := len(live); i < len(entries); i++ {
		entries[i] = Entry{}
	}
	s.setLocked(k, live)

	if removed > 0 {
		s.count -= removed
		s.metrics.Add(metrics.TableExpiredTotal, int64(removed))
		s.metrics.Add(metrics.TableEntriesTotal, -int64(removed))
	}
	return removed
}

// RemoveEntry deletes the (key, value) entry if present.
func (s *Store) RemoveEntry(key, value []byte) bool {
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.data[k]
	idx := slices.IndexFunc(entries, func(e Entry) bool { return e.Matches(value) })
	if idx < 0 {
		return false
	}
	s.setLocked(k, slices.Delete(slices.Clone(entries), idx, idx+1))
	s.count--
	s.metrics.Add(metrics.TableEntriesTotal, -1)
	return true
}

// RemoveEntries deletes every entry under key and returns how many there were.
func (s *Store) RemoveEntries(key []byte) int {
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.data[k])
	delete(s.data, k)
	if removed > 0 {
		s.count -= removed
		s.metrics.Add(metrics.TableEntriesTotal, -int64(removed))
	}
	return removed
}

// Keys returns a byte-ordered snapshot of the keys currently holding entries.
func (s *Store) Keys() [][]byte {
	s.mu.RLock()
	keys := make([][]byte, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, []byte(k))
	}
	s.mu.RUnlock()

	slices.SortFunc(keys, bytes.Compare)
	return keys
}

// Count returns the number of stored entries, dead or alive.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// RemoveExpired removes every expired entry of every key.
//
// This is the administrative sweep; regular traffic relies on DeleteExpired.
func (s *Store) RemoveExpired() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, entries := range s.data {
		live := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if !e.IsExpired(now) {
				live = append(live, e)
			}
		}
		removed += len(entries) - len(live)
		s.setLocked(k, live)
	}

	if removed > 0 {
		s.count -= removed
		s.metrics.Add(metrics.TableExpiredTotal, int64(removed))
		s.metrics.Add(metrics.TableEntriesTotal, -int64(removed))
	}

	return removed
}

func (s *Store) setLocked(k string, entries []Entry) {
	if len(entries) == 0 {
		delete(s.data, k)
		return
	}
	s.data[k] = entries
}
