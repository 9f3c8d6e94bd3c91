package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ringdht/internal/health"
	"ringdht/internal/logs"
	"ringdht/internal/metrics"
	"ringdht/internal/peers"
	"ringdht/internal/replication"
	"ringdht/internal/ring"
	"ringdht/internal/table"
	"ringdht/internal/ttl"
)

// Deps are the node components the HTTP surface exposes.
type Deps struct {
	Table       *table.Server
	Coordinator *replication.Coordinator
	Peers       *peers.Manager
	Sweeper     *ttl.Sweeper
	RPC         http.Handler
	Metrics     *metrics.Registry
	Logger      *logs.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Deps
	analyzer *health.Analyzer
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		Deps:     deps,
		analyzer: health.NewAnalyzer(deps.Metrics, deps.Logger, deps.Table.Activated),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

/* ---------------- GET /internal/heartbeat ---------------- */

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"address":   h.Peers.Self().String(),
		"activated": h.Table.Activated(),
	})
}

/* ---------------- GET /admin/keys ---------------- */

type keyInfo struct {
	Key     string       `json:"key"`
	Address ring.Address `json:"address"`
	Values  int          `json:"values"`
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	st := h.Table.Store()
	addresser := h.Table.Addresser()

	out := []keyInfo{}
	for _, key := range st.Keys() {
		entries, ok := st.LiveEntries(key)
		if !ok {
			continue
		}
		out = append(out, keyInfo{
			Key:     string(key),
			Address: addresser.Address(key),
			Values:  len(entries),
		})
	}
	writeJSON(w, map[string]any{
		"count": h.Table.Count(),
		"keys":  out,
	})
}

/* ---------------- POST /admin/sweep ---------------- */

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	removed := h.Sweeper.Sweep()
	writeJSON(w, map[string]any{
		"removed":  removed,
		"duration": time.Since(start).String(),
	})
}

/* ---------------- GET /admin/transfers ---------------- */

func (h *Handler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Coordinator.Status())
}

/* ---------------- GET /admin/peers ---------------- */

func (h *Handler) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Peers.Snapshot())
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Metrics.Snapshot())
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.analyzer.Analyze())
}
