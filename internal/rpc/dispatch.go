// Package rpc routes method calls between nodes: an explicit registry of
// handlers, a JSON-over-HTTP transport and an in-process sender for tests.
package rpc

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"

	"ringdht/internal/logs"
	"ringdht/internal/metrics"
)

// Outcome is the settled result of a dispatched call. Exactly one of Result
// and Fault is meaningful.
type Outcome struct {
	Result any
	Fault  *Fault
}

// Reply settles a call. Only the first call has any effect.
type Reply func(result any, err error)

// Handler serves one method. It may reply before returning or later from
// another goroutine.
type Handler func(ctx context.Context, args Args, reply Reply)

// SyncHandler is a handler whose answer is its return value.
type SyncHandler func(ctx context.Context, args Args) (any, error)

// Dispatcher maps method names to handlers. Registration happens at startup,
// before the first Dispatch.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *logs.Logger
	metrics  *metrics.Registry
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(logger *logs.Logger, metricsRegistry *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  metricsRegistry,
	}
}

// Register binds method to h, replacing any previous binding.
func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers[method] = h
}

// RegisterSync binds method to a synchronous handler.
func (d *Dispatcher) RegisterSync(method string, fn SyncHandler) {
	d.Register(method, func(ctx context.Context, args Args, reply Reply) {
		reply(fn(ctx, args))
	})
}

// Methods lists the registered method names.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Dispatch invokes method with args. The returned channel yields one Outcome.
// Unknown methods and bad arguments come back as faults.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, args Args) <-chan Outcome {
	out := make(chan Outcome, 1)
	d.metrics.Inc(metrics.RPCRequestsTotal)

	var once sync.Once
	reply := func(result any, err error) {
		once.Do(func() {
			if err != nil {
				f := FaultFromError(err)
				d.metrics.Inc(metrics.RPCFaultsTotal)
				d.logger.Debugf("%s faulted: %v", method, f)
				out <- Outcome{Fault: f}
				return
			}
			out <- Outcome{Result: result}
		})
	}

	h, ok := d.handlers[method]
	if !ok {
		reply(nil, Faultf(CodeMethodNotFound, "unknown method %q", method))
		return out
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorf("panic in %s: %v", method, r)
				reply(nil, Faultf(CodeInternal, "internal error"))
			}
		}()
		h(ctx, args, reply)
	}()
	return out
}
