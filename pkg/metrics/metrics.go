package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MessagesRead counts stream records handed out by a shard
var MessagesRead = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "salesflow_messages_read_total",
		Help: "Total number of stream messages read by the consumer loop",
	},
	[]string{"stream"},
)

// DecodeFailures counts records dropped because their payload was malformed
var DecodeFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "salesflow_decode_failures_total",
		Help: "Total number of stream messages that could not be decoded",
	},
	[]string{"stream"},
)

// Handler dispatch metrics
var (
	HandlerInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_handler_invocations_total",
			Help: "Handler group invocations by handler and result",
		},
		[]string{"handler", "result"},
	)

	UnroutedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_unrouted_events_total",
			Help: "Events no registered handler accepted",
		},
		[]string{"type"},
	)

	HandlerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesflow_handler_latency_seconds",
			Help:    "Latency in seconds of one handler group invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
)

// Checkpoint and consumer state metrics
var (
	Checkpoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_checkpoints_total",
			Help: "Checkpoint attempts by result",
		},
		[]string{"stream", "result"},
	)

	ConsumerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "salesflow_consumer_state",
			Help: "Current consumer loop state (0 idle, 1 reading, 2 dispatching, 3 checkpointing, 4 shutdown)",
		},
		[]string{"stream"},
	)
)

// ReclaimOutcomes counts pending entries by what the reclaim manager did with them
var ReclaimOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "salesflow_reclaim_outcomes_total",
		Help: "Pending message outcomes: claimed, missing, dead_lettered, reprocessed, failed",
	},
	[]string{"stream", "outcome"},
)

// Reconstruction metrics
var (
	DeltasEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "salesflow_daily_deltas_emitted_total",
			Help: "Daily delta records inserted into the analytics sink",
		},
	)

	SnapshotsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_snapshots_saved_total",
			Help: "Snapshots written to the snapshot store by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(MessagesRead, DecodeFailures)
	prometheus.MustRegister(HandlerInvocations, UnroutedEvents, HandlerLatency)
	prometheus.MustRegister(Checkpoints, ConsumerState)
	prometheus.MustRegister(ReclaimOutcomes)
	prometheus.MustRegister(DeltasEmitted, SnapshotsSaved)
}
