package api

import (
	"net/http"

	"ringdht/internal/peers"
	"ringdht/internal/rpc"
)

func RegisterRoutes(mux *http.ServeMux, h *Handler) http.Handler {
	// Node-to-node APIs
	mux.Handle(rpc.Path, h.RPC)
	mux.HandleFunc(peers.HeartbeatPath, h.Heartbeat)

	// Admin APIs
	mux.HandleFunc("/admin/keys", h.ListKeys)
	mux.HandleFunc("/admin/sweep", h.Sweep)
	mux.HandleFunc("/admin/transfers", h.GetTransfers)
	mux.HandleFunc("/admin/peers", h.GetPeers)

	// Observability APIs
	mux.HandleFunc("/metrics", h.GetMetrics)
	mux.HandleFunc("/health", h.GetHealth)

	// Middlewares
	return Chain(
		mux,
		RecoveryMiddleware(h.Logger),
		LoggingMiddleware(h.Logger),
	)
}
