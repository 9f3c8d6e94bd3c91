package peers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
)

// HeartbeatPath is probed on every member.
const HeartbeatPath = "/internal/heartbeat"

// HeartbeatWorker periodically checks member liveness
type HeartbeatWorker struct {
	manager *Manager
	client  *http.Client
	config  Config
	metrics *metrics.Registry
}

// NewHeartbeatWorker creates a new heartbeat worker
func NewHeartbeatWorker(
	manager *Manager,
	cfg Config,
	reg *metrics.Registry,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		manager: manager,
		client:  &http.Client{Timeout: cfg.Timeout.HeartbeatTimeout},
		config:  cfg,
		metrics: reg,
	}
}

// Start begins the heartbeat loop
// Stops immediately when the ctx is cancelled
func (hw *HeartbeatWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(hw.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hw.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runOnce probes every member concurrently, retrying each probe per the
// retry policy before counting it as a failure.
func (hw *HeartbeatWorker) runOnce(ctx context.Context) {
	hw.metrics.Inc(metrics.HeartbeatRunsTotal)

	var g errgroup.Group
	for _, peer := range hw.manager.GetPeers() {
		peer := peer
		g.Go(func() error {
			err := RetryNotify(ctx, hw.config.Retry, func() error {
				return hw.probe(ctx, peer)
			}, func(int, error, time.Duration) {
				hw.metrics.Inc(metrics.HeartbeatRetriesTotal)
			})
			if err != nil {
				hw.metrics.Inc(metrics.HeartbeatFailuresTotal)
				hw.manager.MarkFailure(peer.Endpoint)
				return nil
			}
			hw.metrics.Inc(metrics.HeartbeatSuccessTotal)
			hw.manager.MarkSuccess(peer.Endpoint)
			return nil
		})
	}
	_ = g.Wait()
}

func (hw *HeartbeatWorker) probe(ctx context.Context, peer overlay.Peer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer.URL(HeartbeatPath), nil)
	if err != nil {
		return err
	}
	resp, err := hw.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat %s: %s", peer, resp.Status)
	}
	return nil
}
