// Package ttl runs the administrative expiry sweep. Regular traffic expires
// entries lazily, one key at a time; the sweep reclaims keys nobody touches.
package ttl

import (
	"context"
	"sync"
	"time"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
)

// Store defines the minimal contract required by the sweeper.
// *table.Server satisfies it.
type Store interface {
	RemoveExpired() int
}

// Sweeper removes expired entries on demand, and periodically if an
// interval is configured.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *logs.Logger
	metrics  *metrics.Registry

	mu       sync.Mutex
	lastRun  time.Time
	lastSize int
}

// NewSweeper creates a sweeper. An interval of zero disables the periodic
// loop; Sweep still works.
func NewSweeper(
	store Store,
	interval time.Duration,
	logger *logs.Logger,
	reg *metrics.Registry,
) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  reg,
	}
}

// Start runs the sweep loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Debug("periodic sweep disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			s.logger.Debug("sweeper stopped")
			return
		}
	}
}

// Sweep performs a single pass and returns how many entries it removed.
func (s *Sweeper) Sweep() int {
	removed := s.store.RemoveExpired()

	s.metrics.Inc(metrics.SweepRunsTotal)
	s.metrics.Add(metrics.SweepEntriesRemovedTotal, int64(removed))
	if removed > 0 {
		s.logger.Infof("sweep removed %d expired entries", removed)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastSize = removed
	s.mu.Unlock()
	return removed
}

// LastRun reports when the last sweep ran and what it removed.
func (s *Sweeper) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastSize
}
