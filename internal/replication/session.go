package replication

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
	"ringdht/internal/ring"
	"ringdht/internal/store"
	"ringdht/internal/table"
)

// State is the phase of a transfer session.
type State int32

const (
	Scanning State = iota
	Transferring
	Complete
	Interrupted
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Transferring:
		return "transferring"
	case Complete:
		return "complete"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// completion is the message an outbound transfer sends back to its session.
type completion struct {
	key   []byte
	value []byte
	err   error
}

// Session pushes every entry that belongs on one side of this node to the
// current neighbor on that side. It never removes anything locally.
//
// Progress is driven by completion messages: the run loop dispatches up to
// the parallelism limit, then waits for a completion before scanning on.
// Bookkeeping fields are guarded by the coordinator's membership mutex.
type Session struct {
	c       *Coordinator
	side    overlay.Side
	target  overlay.Peer
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	pacer  *rate.Limiter
	done   chan struct{}
	// buffered to the parallelism limit so a late reply never blocks
	completions chan completion

	// guarded by c.mu
	state         State
	keys          [][]byte
	cursor        int
	current       []byte
	pending       []store.Entry
	completedKeys mapset.Set
	attempted     mapset.Set
	outstanding   int
	sent          int
	failed        int
}

func newSession(c *Coordinator, side overlay.Side, target overlay.Peer) *Session {
	ctx, cancel := context.WithCancel(c.ctx)
	return &Session{
		c:             c,
		side:          side,
		target:        target,
		started:       c.source.Now(),
		ctx:           ctx,
		cancel:        cancel,
		sem:           semaphore.NewWeighted(int64(c.cfg.MaxParallelTransfers)),
		pacer:         rate.NewLimiter(c.cfg.limit(), c.cfg.MaxParallelTransfers),
		done:          make(chan struct{}),
		completions:   make(chan completion, c.cfg.MaxParallelTransfers),
		state:         Scanning,
		completedKeys: mapset.NewThreadUnsafeSet(),
		attempted:     mapset.NewThreadUnsafeSet(),
	}
}

// Side returns the side this session serves.
func (s *Session) Side() overlay.Side { return s.side }

// Target returns the neighbor receiving the entries.
func (s *Session) Target() overlay.Peer { return s.target }

// Done is closed once the session has stopped, either complete or interrupted.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current phase.
func (s *Session) State() State {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.state
}

func (s *Session) run() {
	defer close(s.done)

	keys := s.orderedKeys()
	s.c.mu.Lock()
	s.keys = keys
	s.c.mu.Unlock()

	for s.dispatch() {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.completions:
			s.settle(msg)
		}
	}
}

// dispatch issues transfers until the parallelism limit is reached or the
// scan runs dry. It returns false once the session has nothing left to wait
// for.
func (s *Session) dispatch() bool {
	for s.sem.TryAcquire(1) {
		if err := s.pacer.Wait(s.ctx); err != nil {
			s.sem.Release(1)
			return false
		}

		s.c.mu.Lock()
		if s.state == Interrupted {
			s.c.mu.Unlock()
			s.sem.Release(1)
			return false
		}
		entry, ttl, ok := s.nextLocked()
		if !ok {
			finished := s.outstanding == 0
			if finished {
				s.completeLocked()
			}
			s.c.mu.Unlock()
			s.sem.Release(1)
			return !finished
		}
		s.attempted.Add(string(entry.Value))
		s.outstanding++
		// Sends use the coordinator context: interrupting a session stops
		// new transfers but leaves dispatched ones alone.
		reply := s.c.sender.Invoke(s.c.ctx, s.target, table.MethodPutHandler, entry.Key, entry.Value, ttl, false)
		s.c.mu.Unlock()

		go s.await(entry, reply)
	}
	return true
}

func (s *Session) await(e store.Entry, reply <-chan overlay.Result) {
	res := <-reply
	err := res.Err
	if err == nil {
		if ok, isBool := res.Value.(bool); !isBool || !ok {
			err = table.ErrInvalidForward
		}
	}
	s.completions <- completion{key: e.Key, value: e.Value, err: err}
}

// settle runs the continuation of one transfer. After an interrupt it only
// returns the parallelism slot.
func (s *Session) settle(msg completion) {
	defer s.sem.Release(1)

	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.state == Interrupted {
		return
	}
	s.outstanding--
	if msg.err != nil {
		s.failed++
		s.c.metrics.Inc(metrics.TransferValuesFailedTotal)
		s.c.logger.Warnf("transfer of key %x to %s neighbor %s failed: %v", msg.key, s.side, s.target, msg.err)
		return
	}
	s.sent++
	s.c.metrics.Inc(metrics.TransferValuesSentTotal)
}

// nextLocked returns the next value to send along with its remaining ttl in
// whole seconds, scanning forward to the next eligible key when the current
// one is exhausted.
func (s *Session) nextLocked() (store.Entry, int, bool) {
	now := s.c.source.Now()
	for {
		for len(s.pending) > 0 {
			e := s.pending[0]
			s.pending = s.pending[1:]
			if s.attempted.Contains(string(e.Value)) {
				continue
			}
			ttl := int(e.Remaining(now) / time.Second)
			if ttl < 1 {
				continue
			}
			s.state = Transferring
			return e, ttl, true
		}

		if s.current != nil {
			// wait for the key's last transfers before moving on
			if s.outstanding > 0 {
				return store.Entry{}, 0, false
			}
			s.completedKeys.Add(string(s.current))
			s.current = nil
			s.attempted.Clear()
		}

		s.state = Scanning
		if s.cursor >= len(s.keys) {
			return store.Entry{}, 0, false
		}
		key := s.keys[s.cursor]
		s.cursor++
		if s.completedKeys.Contains(string(key)) {
			continue
		}
		entries, ok := s.c.source.LiveEntries(key)
		if !ok {
			s.completedKeys.Add(string(key))
			continue
		}
		s.current = key
		s.pending = entries
	}
}

func (s *Session) completeLocked() {
	s.state = Complete
	s.c.metrics.Inc(metrics.TransferSessionsCompletedTotal)
	s.c.logger.Infof("transfer to %s neighbor %s complete: %d sent, %d failed, %d keys",
		s.side, s.target, s.sent, s.failed, s.completedKeys.Cardinality())
}

// interruptLocked stops the session. Continuations still in flight become
// no-ops once this returns.
func (s *Session) interruptLocked() {
	if s.state == Interrupted {
		return
	}
	if s.state != Complete {
		s.c.metrics.Inc(metrics.TransferSessionsInterruptedTotal)
		s.c.logger.Infof("transfer to %s neighbor %s interrupted with %d in flight",
			s.side, s.target, s.outstanding)
	}
	s.state = Interrupted
	s.completedKeys.Clear()
	s.attempted.Clear()
	s.pending = nil
	s.current = nil
	s.outstanding = 0
	s.cancel()
}

// orderedKeys selects the keys that belong on this session's side, nearest
// to this node first.
func (s *Session) orderedKeys() [][]byte {
	self := s.c.self
	type positioned struct {
		key      []byte
		distance ring.Address
	}
	var picked []positioned
	for _, key := range s.c.source.Keys() {
		addr := s.c.addresser.Address(key)
		if sideOf(self, addr) != s.side {
			continue
		}
		d := self.DistanceTo(addr)
		if s.side == overlay.Left {
			d = addr.DistanceTo(self)
		}
		picked = append(picked, positioned{key: key, distance: d})
	}
	slices.SortStableFunc(picked, func(a, b positioned) int {
		return a.distance.Cmp(b.distance)
	})

	keys := make([][]byte, len(picked))
	for i, p := range picked {
		keys[i] = p.key
	}
	return keys
}

// sideOf matches the direction a put is forwarded in.
func sideOf(self, key ring.Address) overlay.Side {
	if self.IsLeftOf(key) {
		return overlay.Right
	}
	return overlay.Left
}

// Status is a point-in-time view of a session.
type Status struct {
	Side          string    `json:"side"`
	Target        string    `json:"target"`
	State         string    `json:"state"`
	Started       time.Time `json:"started"`
	Sent          int       `json:"sent"`
	Failed        int       `json:"failed"`
	InFlight      int       `json:"in_flight"`
	CompletedKeys int       `json:"completed_keys"`
	Candidates    int       `json:"candidate_keys"`
}

// Status snapshots the session.
func (s *Session) Status() Status {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		Side:          s.side.String(),
		Target:        s.target.String(),
		State:         s.state.String(),
		Started:       s.started,
		Sent:          s.sent,
		Failed:        s.failed,
		InFlight:      s.outstanding,
		CompletedKeys: s.completedKeys.Cardinality(),
		Candidates:    len(s.keys),
	}
}
