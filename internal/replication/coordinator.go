// Package replication keeps the structured neighbors of a node supplied with
// the entries that belong on their side of it. A transfer session is started
// toward every new neighbor and interrupted as soon as that neighbor changes.
package replication

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
	"ringdht/internal/ring"
	"ringdht/internal/store"
)

// Source is the read-only view of the entry store a session scans.
// *store.Store satisfies it.
type Source interface {
	Keys() [][]byte
	LiveEntries(key []byte) ([]store.Entry, bool)
	Now() time.Time
}

// Config tunes transfer sessions.
type Config struct {
	// MaxParallelTransfers bounds the transfers in flight per session.
	MaxParallelTransfers int
	// TransfersPerSecond paces outbound transfers. Zero means unlimited.
	TransfersPerSecond float64
}

// DefaultConfig sends one value at a time, as fast as the neighbor answers.
func DefaultConfig() Config {
	return Config{MaxParallelTransfers: 1}
}

func (c Config) limit() rate.Limit {
	if c.TransfersPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.TransfersPerSecond)
}

// Coordinator owns the two transfer sessions of a node.
type Coordinator struct {
	// mu is the membership mutex. It guards the recorded neighbors, the
	// sessions and every session's bookkeeping.
	mu        sync.Mutex
	neighbors [len(overlay.Sides)]*overlay.Peer
	sessions  [len(overlay.Sides)]*Session

	ctx       context.Context
	self      ring.Address
	source    Source
	addresser ring.Addresser
	sender    overlay.Sender
	cfg       Config
	logger    *logs.Logger
	metrics   *metrics.Registry
}

// NewCoordinator creates a coordinator. Transfers already dispatched keep
// running until ctx is cancelled, even when their session is interrupted.
func NewCoordinator(
	ctx context.Context,
	self ring.Address,
	source Source,
	addresser ring.Addresser,
	sender overlay.Sender,
	logger *logs.Logger,
	metricsRegistry *metrics.Registry,
	cfg Config,
) *Coordinator {
	if cfg.MaxParallelTransfers <= 0 {
		cfg.MaxParallelTransfers = 1
	}
	if addresser == nil {
		addresser = ring.NewHashAddresser(0)
	}
	return &Coordinator{
		ctx:       ctx,
		self:      self,
		source:    source,
		addresser: addresser,
		sender:    sender,
		cfg:       cfg,
		logger:    logger,
		metrics:   metricsRegistry,
	}
}

// OnNeighborChanged restarts the session of side when its neighbor changes.
// Repeated notifications for the same neighbor are ignored.
func (c *Coordinator) OnNeighborChanged(side overlay.Side, peer overlay.Peer, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.neighbors[side]
	if !ok && prev == nil {
		return
	}
	if ok && prev != nil && prev.Equal(peer) {
		return
	}

	if s := c.sessions[side]; s != nil {
		s.interruptLocked()
		c.sessions[side] = nil
	}
	if !ok {
		c.neighbors[side] = nil
		c.logger.Infof("%s neighbor %s gone", side, prev)
		return
	}

	c.neighbors[side] = &peer
	s := newSession(c, side, peer)
	c.sessions[side] = s
	c.metrics.Inc(metrics.TransferSessionsStartedTotal)
	c.logger.Infof("starting transfer to %s neighbor %s", side, peer)
	go s.run()
}

// Session returns the latest session of side, or nil if there is none.
func (c *Coordinator) Session(side overlay.Side) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[side]
}

// Status snapshots every live session.
func (c *Coordinator) Status() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s != nil {
			out = append(out, s.statusLocked())
		}
	}
	return out
}

// Close interrupts both sessions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.sessions {
		if s != nil {
			s.interruptLocked()
			c.sessions[i] = nil
		}
		c.neighbors[i] = nil
	}
}
