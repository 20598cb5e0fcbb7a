// Package metrics defines the Prometheus instrumentation for the service.
// All metrics are registered on the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values are drawn from small closed sets (states, command kinds,
// reason codes) so cardinality stays bounded.
var (
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "browserpilot_sessions_active",
		Help: "Live sessions by lifecycle state.",
	}, []string{"state"})

	SessionCreates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_session_creates_total",
		Help: "Session create attempts by outcome.",
	}, []string{"outcome"})

	SessionReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_session_releases_total",
		Help: "Session releases by reason.",
	}, []string{"reason"})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_commands_total",
		Help: "Dispatched commands by kind and outcome.",
	}, []string{"kind", "outcome"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "browserpilot_command_duration_seconds",
		Help:    "Command execution latency by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browserpilot_heartbeats_total",
		Help: "Accepted heartbeats.",
	})

	SweepReclaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_sweep_reclaims_total",
		Help: "Sessions reclaimed by the sweeper, by reason.",
	}, []string{"reason"})

	PluginRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browserpilot_plugin_retries_total",
		Help: "Operation retries performed by the retry plugin.",
	})

	PluginWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_plugin_waits_total",
		Help: "Random waits injected between operations, by kind.",
	}, []string{"kind"})

	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_stream_frames_total",
		Help: "Frames produced for outbound media, by transport.",
	}, []string{"transport"})

	StreamsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "browserpilot_streams_active",
		Help: "Registered live-stream entries by transport.",
	}, []string{"transport"})

	ScriptsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browserpilot_scripts_blocked_total",
		Help: "Evaluate payloads rejected by the safety checker, by level.",
	}, []string{"level"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browserpilot_notifications_dropped_total",
		Help: "Push notifications dropped because the queue was full.",
	})
)
