// Package table implements the per-node table server: local puts and gets
// against the entry store, and the single forwarded copy each put sends to a
// ring neighbor.
package table

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
	"ringdht/internal/ring"
	"ringdht/internal/store"
)

// Remote method names. PutHandler is the local-only variant used by
// forwards and replication pushes.
const (
	MethodPut        = "dht.Put"
	MethodPutHandler = "dht.PutHandler"
	MethodGet        = "dht.Get"
	MethodCount      = "dht.Count"
	MethodDelete     = "dht.Delete"
)

// Config holds the optional knobs of a Server.
type Config struct {
	// Addresser maps keys onto the ring. Defaults to an uncached SHA-1 mapping.
	Addresser ring.Addresser
	// ForwardTimeout bounds the forwarded put. Zero waits forever.
	ForwardTimeout time.Duration
}

// MaxTTL is the longest lifetime a put may ask for, in seconds. It keeps
// now+ttl well inside time.Duration.
const MaxTTL = math.MaxInt32

// Server owns the entry store of one node.
type Server struct {
	// mu is the store mutex: every check-then-modify sequence on the store
	// runs under it. It is never held across network calls.
	mu sync.Mutex

	store     *store.Store
	topology  overlay.Topology
	sender    overlay.Sender
	addresser ring.Addresser
	timeout   time.Duration
	logger    *logs.Logger
	metrics   *metrics.Registry
	activated atomic.Bool
}

// NewServer creates a table server over st.
func NewServer(
	st *store.Store,
	topology overlay.Topology,
	sender overlay.Sender,
	logger *logs.Logger,
	metricsRegistry *metrics.Registry,
	cfg Config,
) *Server {
	addresser := cfg.Addresser
	if addresser == nil {
		addresser = ring.NewHashAddresser(0)
	}
	return &Server{
		store:     st,
		topology:  topology,
		sender:    sender,
		addresser: addresser,
		timeout:   cfg.ForwardTimeout,
		logger:    logger,
		metrics:   metricsRegistry,
	}
}

// PutResult is delivered once a Put is settled.
type PutResult struct {
	OK  bool
	Err error
}

// Put stores value under key and forwards the same put to one neighbor: the
// right one when the key lies to the right of this node, the left one
// otherwise. The returned channel yields a single result once the forward
// has settled. If the forward fails, an entry this call added is removed
// again before the failure is reported.
func (s *Server) Put(ctx context.Context, key, value []byte, ttl int, unique bool) <-chan PutResult {
	out := make(chan PutResult, 1)
	s.metrics.Inc(metrics.TablePutsTotal)

	added, err := s.putLocal(key, value, ttl, unique)
	if err != nil {
		out <- PutResult{Err: err}
		return out
	}

	side := overlay.Left
	if s.topology.Self().IsLeftOf(s.addresser.Address(key)) {
		side = overlay.Right
	}
	peer, ok := s.topology.Neighbor(side)
	if !ok {
		s.metrics.Inc(metrics.TableNeighborlessTotal)
		s.rollback(key, value, added)
		out <- PutResult{Err: fmt.Errorf("%w on the %s", ErrNoNeighbor, side)}
		return out
	}

	s.metrics.Inc(metrics.ForwardAttemptsTotal)
	cancel := context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	reply := s.sender.Invoke(ctx, peer, MethodPutHandler, key, value, ttl, unique)

	go func() {
		defer cancel()
		if err := checkForwardReply(<-reply); err != nil {
			s.metrics.Inc(metrics.ForwardFailuresTotal)
			s.logger.Warnf("forward of put to %s neighbor %s failed: %v", side, peer, err)
			s.rollback(key, value, added)
			out <- PutResult{Err: err}
			return
		}
		out <- PutResult{OK: true}
	}()
	return out
}

// PutSync is Put for callers that are happy to block.
func (s *Server) PutSync(ctx context.Context, key, value []byte, ttl int, unique bool) (bool, error) {
	select {
	case res := <-s.Put(ctx, key, value, ttl, unique):
		return res.OK, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// PutHandler stores the entry locally without forwarding it.
func (s *Server) PutHandler(key, value []byte, ttl int, unique bool) (bool, error) {
	if _, err := s.putLocal(key, value, ttl, unique); err != nil {
		return false, err
	}
	return true, nil
}

// putLocal applies put semantics to the local store. added reports whether a
// new entry was appended rather than an existing one extended.
func (s *Server) putLocal(key, value []byte, ttl int, unique bool) (added bool, err error) {
	if len(key) == 0 {
		return false, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if ttl <= 0 || ttl > MaxTTL {
		return false, fmt.Errorf("%w: ttl must be in 1..%d seconds, got %d", ErrInvalidArgument, MaxTTL, ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.store.Now()
	lifetime := time.Duration(ttl) * time.Second

	s.store.DeleteExpired(key)
	if entries, ok := s.store.GetEntries(key); ok {
		for _, e := range entries {
			if !e.Matches(value) {
				continue
			}
			if unique {
				s.metrics.Inc(metrics.TablePutConflictsTotal)
				return false, fmt.Errorf("%w: key %x", ErrAlreadyExists, key)
			}
			s.store.UpdateEntry(key, value, now.Add(lifetime))
			s.metrics.Inc(metrics.TableExtensionsTotal)
			return false, nil
		}
	}

	s.store.AddEntry(store.NewEntry(bytes.Clone(key), bytes.Clone(value), now, lifetime))
	return true, nil
}

// rollback undoes a speculative local add after the forward failed.
//
// TODO: match on the CreatedAt of the entry this call added. Matching on
// (key, value) also removes an identical put that landed in between.
func (s *Server) rollback(key, value []byte, added bool) {
	if !added {
		return
	}
	s.mu.Lock()
	removed := s.store.RemoveEntry(key, value)
	s.mu.Unlock()
	if removed {
		s.metrics.Inc(metrics.ForwardRollbacksTotal)
		s.logger.Debugf("rolled back local put of key %x", key)
	}
}

func checkForwardReply(res overlay.Result) error {
	if res.Err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteFailure, res.Err)
	}
	ok, isBool := res.Value.(bool)
	if !isBool {
		return fmt.Errorf("%w: got %T", ErrInvalidForward, res.Value)
	}
	if !ok {
		return fmt.Errorf("%w: neighbor declined the put", ErrRemoteFailure)
	}
	return nil
}

// Item is one value returned by Get.
type Item struct {
	Value []byte `json:"value"`
	Age   int    `json:"age"`
	TTL   int    `json:"ttl"`
}

// Page is a Get response.
type Page struct {
	Items     []Item `json:"values"`
	Remaining int    `json:"remaining"`
	Token     []byte `json:"token"`
}

// Get returns the values under key starting after the position recorded in
// token, stopping before the value-byte total would exceed maxBytes. A nil
// token starts at the first entry. Missing keys yield an empty page.
func (s *Server) Get(key []byte, maxBytes int, token []byte) (Page, error) {
	s.metrics.Inc(metrics.TableGetsTotal)

	if len(key) == 0 {
		return Page{}, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if maxBytes < 0 {
		return Page{}, fmt.Errorf("%w: negative byte budget", ErrInvalidArgument)
	}
	lastSeen, err := decodeToken(token)
	if err != nil {
		return Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.DeleteExpired(key)
	entries, _ := s.store.GetEntries(key)
	now := s.store.Now()

	page := Page{Items: []Item{}}
	consumed := 0
	for i := lastSeen + 1; i < len(entries); i++ {
		e := entries[i]
		if consumed+len(e.Value) > maxBytes {
			break
		}
		consumed += len(e.Value)
		page.Items = append(page.Items, Item{
			Value: e.Value,
			Age:   int(e.Age(now) / time.Second),
			TTL:   int(e.Lifetime() / time.Second),
		})
		lastSeen = i
	}
	page.Remaining = max(0, len(entries)-(lastSeen+1))
	page.Token = encodeToken(lastSeen)
	return page, nil
}

// Delete removes every value under key. Administrative only; it is not
// forwarded.
func (s *Server) Delete(key []byte) (int, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.store.RemoveEntries(key)
	s.metrics.Add(metrics.TableDeletesTotal, int64(removed))
	return removed, nil
}

// RemoveExpired drops every expired entry of every key under the store
// mutex. Administrative only; regular traffic expires entries per key.
func (s *Server) RemoveExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RemoveExpired()
}

// Count returns the number of entries held by this node, including expired
// ones no access or sweep has reclaimed yet.
func (s *Server) Count() int {
	return s.store.Count()
}

// Store exposes the underlying store for replication and admin sweeps.
func (s *Server) Store() *store.Store {
	return s.store
}

// Addresser returns the key-to-ring mapping in use.
func (s *Server) Addresser() ring.Addresser {
	return s.addresser
}

// Activated reports whether this node has seen a structured neighbor yet.
func (s *Server) Activated() bool {
	return s.activated.Load()
}

// OnNeighborChanged latches activation on the first neighbor.
func (s *Server) OnNeighborChanged(side overlay.Side, peer overlay.Peer, ok bool) {
	if ok && !s.activated.Swap(true) {
		s.logger.Infof("table activated by %s neighbor %s", side, peer)
	}
}
