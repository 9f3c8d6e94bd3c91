package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
	"ringdht/internal/ring"
	"ringdht/internal/store"
	"ringdht/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* ---------------- Helpers ---------------- */

type invocation struct {
	to     overlay.Peer
	method string
	key    string
	value  string
	ttl    int
	unique bool
	reply  chan overlay.Result
}

// heldSender hands every invocation to the test, which answers it.
type heldSender struct {
	calls chan *invocation
}

func newHeldSender() *heldSender {
	return &heldSender{calls: make(chan *invocation, 64)}
}

func (h *heldSender) Invoke(_ context.Context, to overlay.Peer, method string, args ...any) <-chan overlay.Result {
	inv := &invocation{
		to:     to,
		method: method,
		key:    string(args[0].([]byte)),
		value:  string(args[1].([]byte)),
		ttl:    args[2].(int),
		unique: args[3].(bool),
		reply:  make(chan overlay.Result, 1),
	}
	h.calls <- inv
	return inv.reply
}

func (h *heldSender) next(t *testing.T) *invocation {
	t.Helper()
	select {
	case inv := <-h.calls:
		return inv
	case <-time.After(time.Second):
		t.Fatal("no transfer was dispatched")
		return nil
	}
}

// autoSender answers immediately and records what it saw.
type autoSender struct {
	mu    sync.Mutex
	seen  []*invocation
	reply func(*invocation) overlay.Result
}

func (a *autoSender) Invoke(ctx context.Context, to overlay.Peer, method string, args ...any) <-chan overlay.Result {
	held := newHeldSender()
	ch := held.Invoke(ctx, to, method, args...)
	inv := <-held.calls

	a.mu.Lock()
	a.seen = append(a.seen, inv)
	a.mu.Unlock()

	res := overlay.Result{Value: true}
	if a.reply != nil {
		res = a.reply(inv)
	}
	inv.reply <- res
	return ch
}

func (a *autoSender) values() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.seen))
	for _, inv := range a.seen {
		out = append(out, inv.key+"="+inv.value)
	}
	return out
}

var (
	self   = ring.FromUint64(500)
	peerA  = overlay.Peer{Address: ring.FromUint64(900), Endpoint: "a"}
	peerB  = overlay.Peer{Address: ring.FromUint64(950), Endpoint: "b"}
	leftNb = overlay.Peer{Address: ring.FromUint64(100), Endpoint: "l"}
)

// positions places keys on the ring; anything unlisted sits on the node.
var positions = map[string]uint64{
	"r-near": 600,
	"r-far":  800,
	"l-near": 450,
	"l-far":  200,
}

type fixture struct {
	store *store.Store
	now   time.Time
	reg   *metrics.Registry
}

func newFixture() *fixture {
	f := &fixture{
		now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		reg: metrics.NewRegistry(),
	}
	f.store = store.NewStore(f.reg, store.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) add(key, value string, ttl time.Duration) {
	f.store.AddEntry(store.NewEntry([]byte(key), []byte(value), f.now, ttl))
}

func (f *fixture) coordinator(sender overlay.Sender, cfg Config) *Coordinator {
	addresser := ring.AddresserFunc(func(key []byte) ring.Address {
		pos, ok := positions[string(key)]
		if !ok {
			pos = 500
		}
		return ring.FromUint64(pos)
	})
	return NewCoordinator(context.Background(), self, f.store, addresser, sender,
		logs.NewLogger(100, logs.DEBUG), f.reg, cfg)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	require.NotNil(t, s)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("session to %s did not stop, state %s", s.Target(), s.State())
	}
}

/* ---------------- Tests ---------------- */

func TestCoordinator_TransfersEachSideInRingOrder(t *testing.T) {
	f := newFixture()
	f.add("r-far", "1", time.Minute)
	f.add("r-near", "2", time.Minute)
	f.add("l-far", "3", time.Minute)
	f.add("l-near", "4", time.Minute)
	f.add("on-node", "5", time.Minute)

	right := &autoSender{}
	c := f.coordinator(right, DefaultConfig())
	c.OnNeighborChanged(overlay.Right, peerA, true)
	waitDone(t, c.Session(overlay.Right))

	assert.Equal(t, []string{"r-near=2", "r-far=1"}, right.values())
	assert.Equal(t, Complete, c.Session(overlay.Right).State())
	for _, inv := range right.seen {
		assert.Equal(t, table.MethodPutHandler, inv.method)
		assert.True(t, inv.to.Equal(peerA))
		assert.Equal(t, 60, inv.ttl)
		assert.False(t, inv.unique, "transfers never use create-only puts")
	}

	left := &autoSender{}
	c = f.coordinator(left, DefaultConfig())
	c.OnNeighborChanged(overlay.Left, leftNb, true)
	waitDone(t, c.Session(overlay.Left))

	// keys on the node itself go left, like forwarded puts
	assert.Equal(t, []string{"on-node=5", "l-near=4", "l-far=3"}, left.values())
	assert.Equal(t, int64(2), f.reg.Get(metrics.TransferSessionsCompletedTotal))
}

func TestCoordinator_SendsEveryValueOfAKey(t *testing.T) {
	f := newFixture()
	f.add("r-near", "v1", time.Minute)
	f.add("r-near", "v2", 2*time.Minute)

	sender := &autoSender{}
	c := f.coordinator(sender, DefaultConfig())
	c.OnNeighborChanged(overlay.Right, peerA, true)
	s := c.Session(overlay.Right)
	waitDone(t, s)

	assert.Equal(t, []string{"r-near=v1", "r-near=v2"}, sender.values())
	assert.Equal(t, 120, sender.seen[1].ttl)

	st := s.Status()
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 1, st.CompletedKeys)
	assert.Equal(t, "complete", st.State)
}

func TestCoordinator_SkipsEntriesAboutToExpire(t *testing.T) {
	f := newFixture()
	f.add("r-near", "dying", 1500*time.Millisecond)
	f.add("r-near", "dead", time.Second)
	f.add("r-near", "alive", time.Minute)
	f.now = f.now.Add(time.Second)

	sender := &autoSender{}
	c := f.coordinator(sender, DefaultConfig())
	c.OnNeighborChanged(overlay.Right, peerA, true)
	waitDone(t, c.Session(overlay.Right))

	assert.Equal(t, []string{"r-near=alive"}, sender.values())
	assert.Equal(t, 59, sender.seen[0].ttl)
	assert.Equal(t, 3, f.store.Count(), "replication never removes entries")
}

func TestCoordinator_FailedTransferIsNotRetried(t *testing.T) {
	f := newFixture()
	f.add("r-near", "bad", time.Minute)
	f.add("r-near", "good", time.Minute)
	f.add("r-far", "weird", time.Minute)

	sender := &autoSender{reply: func(inv *invocation) overlay.Result {
		switch inv.value {
		case "bad":
			return overlay.Result{Err: errors.New("connection reset")}
		case "weird":
			return overlay.Result{Value: "ok"}
		}
		return overlay.Result{Value: true}
	}}
	c := f.coordinator(sender, DefaultConfig())
	c.OnNeighborChanged(overlay.Right, peerA, true)
	s := c.Session(overlay.Right)
	waitDone(t, s)

	assert.Equal(t, []string{"r-near=bad", "r-near=good", "r-far=weird"}, sender.values())
	st := s.Status()
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, Complete, s.State())
	assert.Equal(t, int64(2), f.reg.Get(metrics.TransferValuesFailedTotal))
}

func TestCoordinator_IgnoresRedundantNotifications(t *testing.T) {
	f := newFixture()
	c := f.coordinator(&autoSender{}, DefaultConfig())

	c.OnNeighborChanged(overlay.Right, overlay.Peer{}, false)
	assert.Nil(t, c.Session(overlay.Right))

	c.OnNeighborChanged(overlay.Right, peerA, true)
	first := c.Session(overlay.Right)
	waitDone(t, first)

	c.OnNeighborChanged(overlay.Right, peerA, true)
	assert.Same(t, first, c.Session(overlay.Right))
	assert.Equal(t, Complete, first.State())
	assert.Equal(t, int64(1), f.reg.Get(metrics.TransferSessionsStartedTotal))
}

func TestCoordinator_InterruptAndRestart(t *testing.T) {
	f := newFixture()
	f.add("r-near", "v1", time.Minute)
	f.add("r-near", "v2", time.Minute)
	f.add("r-far", "v3", time.Minute)

	sender := newHeldSender()
	c := f.coordinator(sender, DefaultConfig())

	c.OnNeighborChanged(overlay.Right, peerA, true)
	old := c.Session(overlay.Right)
	stray := sender.next(t)
	assert.True(t, stray.to.Equal(peerA))
	assert.Equal(t, Transferring, old.State())

	c.OnNeighborChanged(overlay.Right, peerB, true)
	assert.Equal(t, Interrupted, old.State())
	waitDone(t, old)

	fresh := c.Session(overlay.Right)
	require.NotSame(t, old, fresh)

	// the old transfer lands late; its continuation must do nothing
	stray.reply <- overlay.Result{Value: true}

	var got []string
	for i := 0; i < 3; i++ {
		inv := sender.next(t)
		assert.True(t, inv.to.Equal(peerB), "new session only talks to the new neighbor")
		got = append(got, inv.key+"="+inv.value)
		inv.reply <- overlay.Result{Value: true}
	}
	waitDone(t, fresh)

	assert.Equal(t, []string{"r-near=v1", "r-near=v2", "r-far=v3"}, got, "new session starts over")
	assert.Equal(t, 3, fresh.Status().Sent)
	assert.Equal(t, 2, fresh.Status().CompletedKeys)

	oldStatus := old.Status()
	assert.Equal(t, "interrupted", oldStatus.State)
	assert.Zero(t, oldStatus.Sent)
	assert.Zero(t, oldStatus.CompletedKeys)
	assert.Zero(t, oldStatus.InFlight)

	assert.Never(t, func() bool { return len(sender.calls) > 0 }, 50*time.Millisecond, 10*time.Millisecond,
		"interrupted session issues nothing further")
	assert.Equal(t, int64(1), f.reg.Get(metrics.TransferSessionsInterruptedTotal))
}

func TestCoordinator_NeighborGone(t *testing.T) {
	f := newFixture()
	f.add("l-near", "v", time.Minute)

	sender := newHeldSender()
	c := f.coordinator(sender, DefaultConfig())
	c.OnNeighborChanged(overlay.Left, leftNb, true)
	s := c.Session(overlay.Left)
	inv := sender.next(t)

	c.OnNeighborChanged(overlay.Left, overlay.Peer{}, false)
	assert.Nil(t, c.Session(overlay.Left))
	waitDone(t, s)
	inv.reply <- overlay.Result{Err: errors.New("late")}

	assert.Equal(t, Interrupted, s.State())
	assert.Empty(t, c.Status())
}

func TestCoordinator_BoundsParallelTransfers(t *testing.T) {
	f := newFixture()
	for _, v := range []string{"a", "b", "c", "d"} {
		f.add("r-near", v, time.Minute)
	}

	sender := newHeldSender()
	c := f.coordinator(sender, Config{MaxParallelTransfers: 2})
	c.OnNeighborChanged(overlay.Right, peerA, true)
	s := c.Session(overlay.Right)

	first, second := sender.next(t), sender.next(t)
	assert.Never(t, func() bool { return len(sender.calls) > 0 }, 50*time.Millisecond, 10*time.Millisecond,
		"no more than two transfers in flight")
	assert.Equal(t, 2, s.Status().InFlight)

	first.reply <- overlay.Result{Value: true}
	third := sender.next(t)
	second.reply <- overlay.Result{Value: true}
	fourth := sender.next(t)
	third.reply <- overlay.Result{Value: true}
	fourth.reply <- overlay.Result{Value: true}
	waitDone(t, s)

	assert.Equal(t, 4, s.Status().Sent)
	assert.Equal(t, Complete, s.State())
}

func TestCoordinator_Close(t *testing.T) {
	f := newFixture()
	f.add("r-near", "v", time.Minute)
	f.add("l-near", "v", time.Minute)

	sender := newHeldSender()
	c := f.coordinator(sender, DefaultConfig())
	c.OnNeighborChanged(overlay.Right, peerA, true)
	c.OnNeighborChanged(overlay.Left, leftNb, true)
	assert.Len(t, c.Status(), 2)

	right, left := c.Session(overlay.Right), c.Session(overlay.Left)
	c.Close()
	waitDone(t, right)
	waitDone(t, left)
	assert.Empty(t, c.Status())
}
