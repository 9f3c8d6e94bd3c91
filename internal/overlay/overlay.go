// Package overlay describes what the table server needs from the ring
// overlay: its own position, its structured neighbors, a way to invoke methods
// on other nodes, and notifications when a neighbor changes.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ringdht/internal/ring"
)

// ErrNoConnection is returned by senders that cannot reach a peer at all.
var ErrNoConnection = errors.New("overlay: peer unreachable")

// Side selects one of the two structured neighbors.
type Side int

const (
	Left Side = iota
	Right
)

// Sides lists both sides in a fixed order.
var Sides = [...]Side{Left, Right}

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Peer identifies a node on the ring and how to reach it.
type Peer struct {
	Address  ring.Address `json:"address"`
	Endpoint string       `json:"endpoint"`
}

func (p Peer) Equal(o Peer) bool {
	return p.Address.Equal(o.Address) && p.Endpoint == o.Endpoint
}

func (p Peer) String() string {
	return p.Address.String() + "@" + p.Endpoint
}

// URL joins the peer's endpoint and path. Bare host:port endpoints are
// reached over plain HTTP.
func (p Peer) URL(path string) string {
	base := p.Endpoint
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimSuffix(base, "/") + path
}

// ParsePeer reads the address@endpoint form produced by String.
func ParsePeer(s string) (Peer, error) {
	addr, endpoint, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || endpoint == "" {
		return Peer{}, fmt.Errorf("peer %q: want address@endpoint", s)
	}
	a, err := ring.ParseAddress(addr)
	if err != nil {
		return Peer{}, fmt.Errorf("peer %q: %w", s, err)
	}
	return Peer{Address: a, Endpoint: endpoint}, nil
}

// Topology answers neighbor lookups. A missing neighbor is reported with
// ok=false rather than an error.
type Topology interface {
	Self() ring.Address
	Neighbor(side Side) (peer Peer, ok bool)
}

// Result is the outcome of a remote invocation. Err is set for transport
// failures and remote faults alike.
type Result struct {
	Value any
	Err   error
}

// Sender invokes a method on a remote node. The returned channel receives
// exactly one Result and is never closed without one.
type Sender interface {
	Invoke(ctx context.Context, to Peer, method string, args ...any) <-chan Result
}

// MembershipListener is told about every change of a structured neighbor.
// Implementations must tolerate redundant notifications.
type MembershipListener interface {
	OnNeighborChanged(side Side, peer Peer, ok bool)
}
