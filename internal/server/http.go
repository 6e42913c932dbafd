package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emostream/relay/internal/relay"
)

// HTTPServer hosts the WebSocket endpoint and the read-only diagnostic
// surface.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	registry  *relay.Registry
	startTime time.Time
}

// New creates the HTTP server with all routes registered
func New(addr string, logger *slog.Logger, registry *relay.Registry,
	handler *relay.Handler, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		registry:  registry,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	mux.HandleFunc("/", h.handleRoot)
	mux.HandleFunc("/status", h.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h.server = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Start runs the server until it is shut down or fails
func (h *HTTPServer) Start() error {
	h.logger.Info("starting HTTP server", slog.String("address", h.server.Addr))
	return h.server.ListenAndServe()
}

// Stop gracefully stops the server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping HTTP server")
	return h.server.Shutdown(ctx)
}

// handleRoot implements the liveness endpoint
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":  "ok",
		"message": "WebSocket server is running",
		"docs":    "Connect over WebSocket at /ws",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStatus implements the status endpoint: active-session count and
// process uptime.
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":      "running",
		"connections": h.registry.Count(),
		"uptime":      time.Since(h.startTime).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
