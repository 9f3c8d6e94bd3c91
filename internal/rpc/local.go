package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ringdht/internal/overlay"
)

// Local connects dispatchers living in the same process. Calls take the same
// JSON round trip as over HTTP, so handlers see identical arguments.
type Local struct {
	mu    sync.RWMutex
	nodes map[string]*Dispatcher
}

// NewLocal returns an empty in-process network.
func NewLocal() *Local {
	return &Local{nodes: make(map[string]*Dispatcher)}
}

// Attach makes d reachable at endpoint.
func (l *Local) Attach(endpoint string, d *Dispatcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[endpoint] = d
}

// Detach makes endpoint unreachable.
func (l *Local) Detach(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.nodes, endpoint)
}

// Invoke dispatches the call on the target in the background.
func (l *Local) Invoke(ctx context.Context, to overlay.Peer, method string, args ...any) <-chan overlay.Result {
	out := make(chan overlay.Result, 1)

	l.mu.RLock()
	d, ok := l.nodes[to.Endpoint]
	l.mu.RUnlock()
	if !ok {
		out <- overlay.Result{Err: fmt.Errorf("%w: %s", overlay.ErrNoConnection, to)}
		return out
	}

	params, err := NewArgs(args...)
	if err != nil {
		out <- overlay.Result{Err: err}
		return out
	}

	go func() {
		var outcome Outcome
		select {
		case outcome = <-d.Dispatch(ctx, method, params):
		case <-ctx.Done():
			out <- overlay.Result{Err: ctx.Err()}
			return
		}
		if outcome.Fault != nil {
			out <- overlay.Result{Err: outcome.Fault}
			return
		}
		raw, err := json.Marshal(outcome.Result)
		if err != nil {
			out <- overlay.Result{Err: err}
			return
		}
		value, err := decodeOutcome(raw, nil)
		out <- overlay.Result{Value: value, Err: err}
	}()
	return out
}
