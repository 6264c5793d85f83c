package shard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics, registered once per process.
var (
	metricCurrentSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grass_sessions_current",
		Help: "Number of live client sessions on this shard",
	})
	metricTotalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_sessions_total",
		Help: "Total client sessions accepted since start",
	})
	metricFramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_frames_received_total",
		Help: "Client frames read from sockets",
	})
	metricFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_frames_sent_total",
		Help: "Client frames written to sockets",
	})
	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_frames_dropped_total",
		Help: "Frames dropped because a session send buffer was full or closed",
	})
	metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_frames_rate_limited_total",
		Help: "Inbound frames rejected by the per-session rate limiter",
	})
	metricShardMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grass_shard_messages_total",
		Help: "Inter-shard envelopes received on this shard's topic, by opcode",
	}, []string{"op"})
	metricShardDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_shard_decode_errors_total",
		Help: "Inter-shard envelopes dropped because they failed to decode",
	})
	metricGamesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_games_created_total",
		Help: "Games claimed through Create on this shard",
	})
	metricCompileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_compile_runs_total",
		Help: "Sandbox compile batches submitted from this shard",
	})
	metricHandlerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grass_handler_timeouts_total",
		Help: "Request handlers that exceeded the per-message deadline",
	})
)
