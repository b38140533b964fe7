package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poller metrics
var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replybot_messages_processed_total",
			Help: "Total number of messages that reached a terminal action",
		},
		[]string{"action"},
	)

	RepliesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replybot_replies_sent_total",
			Help: "Total number of replies sent",
		},
		[]string{"kind"}, // kind: generated, quiet_ack
	)

	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replybot_classifications_total",
			Help: "Total number of classified messages",
		},
		[]string{"intent", "source"},
	)

	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replybot_ticks_total",
			Help: "Total number of poll ticks",
		},
		[]string{"status"}, // status: ok, failed, aborted, skipped
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replybot_tick_duration_seconds",
			Help:    "Duration of a poll tick in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	MessageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replybot_message_duration_ms",
			Help:    "Per-message processing latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~20s
		},
		[]string{"action"},
	)

	CollaboratorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replybot_collaborator_retries_total",
			Help: "Total number of retried collaborator calls",
		},
		[]string{"operation"},
	)

	RulesPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replybot_rules_promoted_total",
			Help: "Total number of learned rules written by promotion",
		},
	)

	AIRefinements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replybot_ai_refinements_total",
			Help: "Total number of reply refinement attempts",
		},
		[]string{"outcome"}, // outcome: refined, unsafe, failed, circuit_open
	)

	LastTickTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replybot_last_tick_timestamp_seconds",
			Help: "Unix time of the last finished tick",
		},
	)
)

// RecordMessage records a terminal action and its latency
func RecordMessage(action string, duration time.Duration) {
	MessagesProcessed.WithLabelValues(action).Inc()
	MessageDuration.WithLabelValues(action).Observe(float64(duration.Milliseconds()))
}

// RecordTick records a finished tick
func RecordTick(status string, duration time.Duration) {
	TicksTotal.WithLabelValues(status).Inc()
	TickDuration.Observe(duration.Seconds())
	LastTickTimestamp.SetToCurrentTime()
}
