package peers

import (
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
	"ringdht/internal/ring"
)

// State represents the health state of a member.
type State int

const (
	Healthy State = iota
	Unhealthy
)

func (s State) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// Member tracks the health-related state of a single ring member
type Member struct {
	Peer         overlay.Peer
	State        State
	FailureCount int
	SuccessCount int
}

// Manager keeps the static ring membership of a node and derives its
// structured neighbors: the closest healthy member walking right, and the
// closest walking left. It implements overlay.Topology.
type Manager struct {
	mu        sync.RWMutex
	self      ring.Address
	members   map[string]*Member // by endpoint
	neighbors [len(overlay.Sides)]*overlay.Peer
	listeners []overlay.MembershipListener
	config    Config
	metrics   *metrics.Registry
	logger    *logs.Logger

	// serializes neighbor notifications so listeners see changes in order
	notifyMu sync.Mutex
}

// NewManager creates a membership for the node at self.
func NewManager(self ring.Address, cfg Config, reg *metrics.Registry, logger *logs.Logger) *Manager {
	return &Manager{
		self:    self,
		members: make(map[string]*Member),
		config:  cfg,
		metrics: reg,
		logger:  logger,
	}
}

type change struct {
	side overlay.Side
	peer overlay.Peer
	ok   bool
}

// Subscribe registers l and replays the current neighbors to it.
func (pm *Manager) Subscribe(l overlay.MembershipListener) {
	pm.notifyMu.Lock()
	defer pm.notifyMu.Unlock()

	pm.mu.Lock()
	pm.listeners = append(pm.listeners, l)
	var current []change
	for _, side := range overlay.Sides {
		if p := pm.neighbors[side]; p != nil {
			current = append(current, change{side: side, peer: *p, ok: true})
		}
	}
	pm.mu.Unlock()

	for _, c := range current {
		l.OnNeighborChanged(c.side, c.peer, c.ok)
	}
}

// AddPeer registers a new member as healthy
func (pm *Manager) AddPeer(p overlay.Peer) {
	pm.update(func() {
		if _, exists := pm.members[p.Endpoint]; !exists && !p.Address.Equal(pm.self) {
			pm.members[p.Endpoint] = &Member{Peer: p, State: Healthy}
		}
	})
}

// RemovePeer forgets a member
func (pm *Manager) RemovePeer(endpoint string) {
	pm.update(func() {
		delete(pm.members, endpoint)
	})
}

// MarkFailure records a failed probe
func (pm *Manager) MarkFailure(endpoint string) {
	pm.update(func() {
		m, ok := pm.members[endpoint]
		if !ok {
			return
		}
		pm.metrics.Inc(metrics.PeerFailuresTotal)
		m.FailureCount++
		m.SuccessCount = 0
		if m.State == Healthy && m.FailureCount >= pm.config.Health.FailureThreshold {
			m.State = Unhealthy
			pm.logger.Warnf("peer %s marked unhealthy", m.Peer)
		}
	})
}

// MarkSuccess records a successful probe
func (pm *Manager) MarkSuccess(endpoint string) {
	pm.update(func() {
		m, ok := pm.members[endpoint]
		if !ok {
			return
		}
		m.SuccessCount++
		m.FailureCount = 0
		if m.State == Unhealthy && m.SuccessCount >= pm.config.Health.SuccessThreshold {
			m.State = Healthy
			pm.logger.Infof("peer %s recovered", m.Peer)
		}
	})
}

func (pm *Manager) IsHealthy(endpoint string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	m, ok := pm.members[endpoint]
	return ok && m.State == Healthy
}

// GetPeers returns every member, healthy or not, in ring order.
func (pm *Manager) GetPeers() []overlay.Peer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]overlay.Peer, 0, len(pm.members))
	for _, m := range pm.members {
		out = append(out, m.Peer)
	}
	slices.SortFunc(out, func(a, b overlay.Peer) int { return a.Address.Cmp(b.Address) })
	return out
}

// Self returns this node's ring address.
func (pm *Manager) Self() ring.Address {
	return pm.self
}

// Neighbor returns the structured neighbor on side.
func (pm *Manager) Neighbor(side overlay.Side) (overlay.Peer, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if p := pm.neighbors[side]; p != nil {
		return *p, true
	}
	return overlay.Peer{}, false
}

// update applies fn, recomputes the neighbors and tells listeners what
// changed. Listeners run outside the lock.
func (pm *Manager) update(fn func()) {
	pm.notifyMu.Lock()
	defer pm.notifyMu.Unlock()

	pm.mu.Lock()
	fn()
	changes := pm.recomputeLocked()
	listeners := slices.Clone(pm.listeners)
	pm.mu.Unlock()

	for _, c := range changes {
		if c.ok {
			pm.logger.Infof("%s neighbor is now %s", c.side, c.peer)
		} else {
			pm.logger.Warnf("no %s neighbor", c.side)
		}
		for _, l := range listeners {
			l.OnNeighborChanged(c.side, c.peer, c.ok)
		}
	}
}

func (pm *Manager) recomputeLocked() []change {
	var (
		best     [len(overlay.Sides)]*overlay.Peer
		distance [len(overlay.Sides)]ring.Address
		healthy  int64
	)
	for _, m := range pm.members {
		if m.State != Healthy {
			continue
		}
		healthy++
		p := m.Peer
		right := pm.self.DistanceTo(p.Address)
		left := p.Address.DistanceTo(pm.self)
		if best[overlay.Right] == nil || right.Cmp(distance[overlay.Right]) < 0 {
			best[overlay.Right], distance[overlay.Right] = &p, right
		}
		if best[overlay.Left] == nil || left.Cmp(distance[overlay.Left]) < 0 {
			best[overlay.Left], distance[overlay.Left] = &p, left
		}
	}
	pm.metrics.Set(metrics.PeersHealthy, healthy)
	pm.metrics.Set(metrics.PeersUnhealthy, int64(len(pm.members))-healthy)

	var changes []change
	for _, side := range overlay.Sides {
		prev, next := pm.neighbors[side], best[side]
		switch {
		case prev == nil && next == nil:
			continue
		case prev != nil && next != nil && prev.Equal(*next):
			continue
		}
		pm.neighbors[side] = next
		pm.metrics.Inc(metrics.NeighborChangesTotal)
		if next == nil {
			changes = append(changes, change{side: side})
		} else {
			changes = append(changes, change{side: side, peer: *next, ok: true})
		}
	}
	return changes
}

// MemberStatus is the admin view of a member.
type MemberStatus struct {
	Address  string `json:"address"`
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Neighbor string `json:"neighbor,omitempty"`
}

// Snapshot lists the members in ring order, marking the structured neighbors.
func (pm *Manager) Snapshot() []MemberStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]MemberStatus, 0, len(pm.members))
	for _, m := range pm.members {
		st := MemberStatus{
			Address:  m.Peer.Address.String(),
			Endpoint: m.Peer.Endpoint,
			State:    m.State.String(),
			Failures: m.FailureCount,
		}
		for _, side := range overlay.Sides {
			if n := pm.neighbors[side]; n != nil && n.Equal(m.Peer) {
				if st.Neighbor != "" {
					st.Neighbor += ","
				}
				st.Neighbor += side.String()
			}
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b MemberStatus) int { return strings.Compare(a.Address, b.Address) })
	return out
}
