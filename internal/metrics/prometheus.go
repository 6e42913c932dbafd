package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay service
type Metrics struct {
	// Client channel metrics
	ClientConnections prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter

	// Relay metrics
	FramesRelayed    *prometheus.CounterVec
	SnapshotsRelayed prometheus.Counter

	// Enrichment metrics
	EnrichmentRequests  *prometheus.CounterVec
	EnrichmentThrottled prometheus.Counter
}

// NewMetrics creates and registers all relay metrics against the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClientConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_connections_total",
			Help: "Total number of client WebSocket connections accepted",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of active upstream sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of upstream sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_destroyed_total",
			Help: "Total number of upstream sessions destroyed",
		}),

		FramesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_relayed_total",
			Help: "Total number of media frames forwarded upstream",
		}, []string{"kind"}),
		SnapshotsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_snapshots_relayed_total",
			Help: "Total number of emotional snapshots forwarded to clients",
		}),

		EnrichmentRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_enrichment_requests_total",
			Help: "Total number of enrichment calls by outcome",
		}, []string{"status"}),
		EnrichmentThrottled: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_enrichment_throttled_total",
			Help: "Total number of enrichment attempts rejected by the throttle window",
		}),
	}
}

// RecordClientConnected increments the client connections counter
func (m *Metrics) RecordClientConnected() {
	m.ClientConnections.Inc()
}

// SetActiveSessions sets the active session gauge
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter
func (m *Metrics) RecordSessionDestroyed() {
	m.SessionsDestroyed.Inc()
}

// RecordFrameRelayed records one forwarded media frame
func (m *Metrics) RecordFrameRelayed(kind string) {
	m.FramesRelayed.WithLabelValues(kind).Inc()
}

// RecordSnapshotRelayed records one snapshot forwarded to a client
func (m *Metrics) RecordSnapshotRelayed() {
	m.SnapshotsRelayed.Inc()
}

// RecordEnrichment records one completed enrichment call
func (m *Metrics) RecordEnrichment(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.EnrichmentRequests.WithLabelValues(status).Inc()
}

// RecordEnrichmentThrottled records one throttled enrichment attempt
func (m *Metrics) RecordEnrichmentThrottled() {
	m.EnrichmentThrottled.Inc()
}
