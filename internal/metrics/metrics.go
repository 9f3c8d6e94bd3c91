package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Table
	TableEntriesTotal      MetricKey = "table_entries_total"
	TablePutsTotal         MetricKey = "table_puts_total"
	TablePutConflictsTotal MetricKey = "table_put_conflicts_total"
	TableGetsTotal         MetricKey = "table_gets_total"
	TableExpiredTotal      MetricKey = "table_expired_total"
	TableDeletesTotal      MetricKey = "table_deletes_total"
	TableExtensionsTotal   MetricKey = "table_extensions_total"
	ForwardAttemptsTotal   MetricKey = "forward_attempts_total"
	ForwardFailuresTotal   MetricKey = "forward_failures_total"
	ForwardRollbacksTotal  MetricKey = "forward_rollbacks_total"
	TableNeighborlessTotal MetricKey = "table_neighborless_puts_total"

	// Replication
	TransferSessionsStartedTotal     MetricKey = "transfer_sessions_started_total"
	TransferSessionsCompletedTotal   MetricKey = "transfer_sessions_completed_total"
	TransferSessionsInterruptedTotal MetricKey = "transfer_sessions_interrupted_total"
	TransferValuesSentTotal          MetricKey = "transfer_values_sent_total"
	TransferValuesFailedTotal        MetricKey = "transfer_values_failed_total"

	// RPC
	RPCRequestsTotal MetricKey = "rpc_requests_total"
	RPCFaultsTotal   MetricKey = "rpc_faults_total"

	// Sweep
	SweepRunsTotal           MetricKey = "sweep_runs_total"
	SweepEntriesRemovedTotal MetricKey = "sweep_entries_removed_total"

	// Peers
	PeersHealthy         MetricKey = "peers_healthy"
	PeersUnhealthy       MetricKey = "peers_unhealthy"
	PeerFailuresTotal    MetricKey = "peer_failures_total"
	NeighborChangesTotal MetricKey = "neighbor_changes_total"

	// Heartbeat metrics
	HeartbeatRunsTotal     MetricKey = "heartbeat_runs_total"
	HeartbeatSuccessTotal  MetricKey = "heartbeat_success_total"
	HeartbeatFailuresTotal MetricKey = "heartbeat_failures_total"
	HeartbeatRetriesTotal  MetricKey = "heartbeat_retries_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[MetricKey]*int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[MetricKey]*int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Set overwrites a metric. Used for gauges such as peer health counts.
func (r *Registry) Set(key MetricKey, value int64) {
	atomic.StoreInt64(r.counter(key), value)
}

// Get returns the current value of a metric, zero if it was never touched.
func (r *Registry) Get(key MetricKey) int64 {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(ptr)
}

// Add increments a metric by delta.
func (r *Registry) Add(key MetricKey, delta int64) {
	atomic.AddInt64(r.counter(key), delta)
}

func (r *Registry) counter(key MetricKey) *int64 {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		return ptr
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ptr, ok = r.counters[key]; ok {
		return ptr
	}

	var val int64
	r.counters[key] = &val
	return &val
}

// Snapshot returns a copy of all metrics keyed by name.
// Safe for concurrent use; mutating the result does not affect the registry.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for key, ptr := range r.counters {
		out[string(key)] = atomic.LoadInt64(ptr)
	}
	return out
}
