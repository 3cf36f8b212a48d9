// Package metrics exposes LandKeeper's Prometheus instrumentation.
//
// One *Metrics instance is registered once at
// process start, in the spirit of prometheus/client_golang's own promauto
// idiom: components that want to record something (a Land's tick loop, the
// Transport Adapter, the replay verifier) call methods on the package-level
// Default instance instead of needing a *Metrics threaded through every
// constructor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector LandKeeper registers.
type Metrics struct {
	activeLands prometheus.Gauge
	ticks       *prometheus.CounterVec
	patchBytes  *prometheus.HistogramVec
	syncMode    *prometheus.CounterVec

	wsConnectionsActive prometheus.Gauge
	wsConnections       *prometheus.CounterVec
	wsMessages          *prometheus.CounterVec

	playerActions *prometheus.CounterVec
	joinOutcomes  *prometheus.CounterVec

	replayVerifierRuns *prometheus.CounterVec

	serverStartTime prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers every collector against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		activeLands: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "landkeeper_lands_active",
			Help: "Number of Land instances currently running.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_ticks_total",
			Help: "Total number of ticks processed, by Land type.",
		}, []string{"land_type"}),
		patchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "landkeeper_patch_bytes",
			Help:    "Approximate serialized size of a per-player state update, by Land type.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"land_type"}),
		syncMode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_sync_mode_total",
			Help: "Total number of Sync Engine passes that used a given mode, by Land type and mode.",
		}, []string{"land_type", "mode"}),

		wsConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "landkeeper_websocket_connections_active",
			Help: "Number of currently open WebSocket sessions.",
		}),
		wsConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_websocket_connections_total",
			Help: "Total WebSocket connection lifecycle events, by type (connected, disconnected, failed).",
		}, []string{"type"}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_websocket_messages_total",
			Help: "Total WebSocket frames, by direction (inbound, outbound) and wire.Kind.",
		}, []string{"direction", "kind"}),

		playerActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_player_actions_total",
			Help: "Total player actions submitted to a Keeper, by type identifier and outcome.",
		}, []string{"type_identifier", "status"}),
		joinOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_join_outcomes_total",
			Help: "Total join attempts, by Land type and outcome (accepted, rejected).",
		}, []string{"land_type", "outcome"}),

		replayVerifierRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landkeeper_replay_verifier_runs_total",
			Help: "Total replay verifier runs, by outcome (match, mismatch, error).",
		}, []string{"outcome"}),

		serverStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "landkeeper_server_start_time_seconds",
			Help: "Unix timestamp when this process started.",
		}),

		registry: registry,
	}

	registry.MustRegister(
		m.activeLands,
		m.ticks,
		m.patchBytes,
		m.syncMode,
		m.wsConnectionsActive,
		m.wsConnections,
		m.wsMessages,
		m.playerActions,
		m.joinOutcomes,
		m.replayVerifierRuns,
		m.serverStartTime,
	)
	m.serverStartTime.SetToCurrentTime()

	return m
}

// Default is the process-wide Metrics instance. Components record against
// it directly rather than taking a constructor parameter; cmd/server
// registers its Handler once at startup.
var Default = New()

// Handler returns the HTTP handler exposing the default registry's metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Default.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// LandStarted increments the active-Lands gauge. Call when a Keeper's Run
// loop starts.
func (m *Metrics) LandStarted() { m.activeLands.Inc() }

// LandStopped decrements the active-Lands gauge. Call when a Keeper's Run
// loop returns.
func (m *Metrics) LandStopped() { m.activeLands.Dec() }

// TickProcessed records one completed tick for a Land type.
func (m *Metrics) TickProcessed(landType string) {
	m.ticks.WithLabelValues(landType).Inc()
}

// ObservePatchBytes records the approximate serialized size of one
// per-player state update.
func (m *Metrics) ObservePatchBytes(landType string, bytes int) {
	m.patchBytes.WithLabelValues(landType).Observe(float64(bytes))
}

// SyncModeUsed records which Sync Engine mode a sync pass used.
func (m *Metrics) SyncModeUsed(landType, mode string) {
	m.syncMode.WithLabelValues(landType, mode).Inc()
}

// WebSocketConnection records a connection lifecycle event: "connected",
// "disconnected", or "failed".
func (m *Metrics) WebSocketConnection(eventType string) {
	m.wsConnections.WithLabelValues(eventType).Inc()
	switch eventType {
	case "connected":
		m.wsConnectionsActive.Inc()
	case "disconnected":
		m.wsConnectionsActive.Dec()
	}
}

// WebSocketMessage records one wire frame crossing the Transport Adapter.
func (m *Metrics) WebSocketMessage(direction, kind string) {
	m.wsMessages.WithLabelValues(direction, kind).Inc()
}

// PlayerAction records an action submitted to a Keeper and its outcome:
// "success" or "error".
func (m *Metrics) PlayerAction(typeIdentifier, status string) {
	m.playerActions.WithLabelValues(typeIdentifier, status).Inc()
}

// JoinOutcome records a join attempt's outcome: "accepted" or "rejected".
func (m *Metrics) JoinOutcome(landType, outcome string) {
	m.joinOutcomes.WithLabelValues(landType, outcome).Inc()
}

// ReplayVerifierRun records one replay verifier pass and its outcome:
// "match", "mismatch", or "error".
func (m *Metrics) ReplayVerifierRun(outcome string) {
	m.replayVerifierRuns.WithLabelValues(outcome).Inc()
}
