package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_IncAndAdd(t *testing.T) {
	r := NewRegistry()

	r.Inc(TablePutsTotal)
	r.Add(TablePutsTotal, 2)

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap[string(TablePutsTotal)])
	assert.Equal(t, int64(3), r.Get(TablePutsTotal))
}

func TestRegistry_SetOverwrites(t *testing.T) {
	r := NewRegistry()

	r.Add(PeersHealthy, 4)
	r.Set(PeersHealthy, 1)

	assert.Equal(t, int64(1), r.Get(PeersHealthy))
}

func TestRegistry_GetUnknownIsZero(t *testing.T) {
	r := NewRegistry()

	assert.Zero(t, r.Get(ForwardFailuresTotal))
	assert.NotContains(t, r.Snapshot(), string(ForwardFailuresTotal))
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	wg := sync.WaitGroup{}

	workers := 50
	increments := 100

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				r.Inc(TransferValuesSentTotal)
			}
		}()
	}

	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(workers*increments), snap[string(TransferValuesSentTotal)])
}

func TestRegistry_SnapshotIsDeepCopy(t *testing.T) {
	r := NewRegistry()

	r.Inc(TableEntriesTotal)
	snap1 := r.Snapshot()

	snap1[string(TableEntriesTotal)] = 999

	snap2 := r.Snapshot()

	assert.Equal(t, int64(1), snap2[string(TableEntriesTotal)],
		"internal state should not be affected by snapshot mutation")
}

func TestRegistry_UnknownMetricHandledGracefully(t *testing.T) {
	r := NewRegistry()

	r.Inc("unknown_metric")

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap["unknown_metric"])
}
