package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poller metrics
	pollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_poll_ticks_total",
			Help: "Total number of poll ticks by outcome",
		},
		[]string{"project", "outcome"},
	)

	logsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_logs_fetched_total",
			Help: "Total number of Transfer-family logs fetched",
		},
		[]string{"project"},
	)

	transfersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_transfers_dispatched_total",
			Help: "Total number of logical transfers handed to reconciliation",
		},
		[]string{"project"},
	)

	checkpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nftsyncer_checkpoint_block",
			Help: "Last polled block per project",
		},
		[]string{"project"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nftsyncer_poll_tick_duration_seconds",
			Help:    "Duration of poll ticks that ran",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"project"},
	)

	// Reconciliation metrics
	syncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_sync_outcomes_total",
			Help: "Asset sync results by operation and error kind",
		},
		[]string{"operation", "kind"},
	)

	// RPC metrics
	rpcRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_rpc_rotations_total",
			Help: "Endpoint rotations by chain and traffic class",
		},
		[]string{"chain", "class"},
	)

	rpcExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_rpc_exhausted_total",
			Help: "Calls that failed after every retry",
		},
		[]string{"chain", "class"},
	)

	// Failure tracker metrics
	metadataFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_metadata_failures_total",
			Help: "Metadata fetch failures recorded by reason",
		},
		[]string{"reason"},
	)

	collectionsBlacklisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nftsyncer_collections_blacklisted_total",
			Help: "Collections moved to BLACKLISTED",
		},
	)

	providerCircuit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nftsyncer_provider_circuit_state",
			Help: "Circuit breaker state per provider, 1 on the active state",
		},
		[]string{"provider", "state"},
	)

	// Queue metrics
	queueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftsyncer_queue_dropped_total",
			Help: "Background tasks dropped because the queue was full",
		},
		[]string{"queue"},
	)
)

func PollTick(project, outcome string) {
	pollTicks.WithLabelValues(project, outcome).Inc()
}

func PollDuration(project string, d time.Duration) {
	pollDuration.WithLabelValues(project).Observe(d.Seconds())
}

func LogsFetched(project string, n int) {
	logsFetched.WithLabelValues(project).Add(float64(n))
}

func TransfersDispatched(project string, n int) {
	transfersDispatched.WithLabelValues(project).Add(float64(n))
}

func CheckpointSet(project string, block uint64) {
	checkpointBlock.WithLabelValues(project).Set(float64(block))
}

// SyncOutcome records a reconciliation result; kind is "ok" on success
func SyncOutcome(operation, kind string) {
	syncOutcomes.WithLabelValues(operation, kind).Inc()
}

func RPCRotation(chain, class string) {
	rpcRotations.WithLabelValues(chain, class).Inc()
}

func RPCExhausted(chain, class string) {
	rpcExhausted.WithLabelValues(chain, class).Inc()
}

func MetadataFailure(reason string) {
	metadataFailures.WithLabelValues(reasonLabel(reason)).Inc()
}

func CollectionBlacklisted() {
	collectionsBlacklisted.Inc()
}

// ProviderCircuitState marks the provider's current breaker state
func ProviderCircuitState(provider, state string) {
	for _, st := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if st == state {
			v = 1
		}
		providerCircuit.WithLabelValues(provider, st).Set(v)
	}
}

func QueueDropped(queue string) {
	queueDropped.WithLabelValues(queue).Inc()
}

// reasonLabel keeps raw error messages out of label cardinality
func reasonLabel(reason string) string {
	switch reason {
	case "METADATA_404", "TIMEOUT", "IMAGE_404", "UNKNOWN_ERROR":
		return reason
	default:
		return "OTHER"
	}
}
