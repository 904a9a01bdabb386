package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes recorded by ViewRefreshes.
const (
	OutcomeApplied      = "applied"
	OutcomeStale        = "stale"
	OutcomeError        = "error"
	OutcomeShortCircuit = "short_circuit"
	OutcomeNotFound     = "not_found"
)

// Optimistic mutation outcomes recorded by OptimisticMutations.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeRolledBack = "rolled_back"
)

var (
	// ViewRefreshes counts materializer refreshes by view and outcome.
	ViewRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_view_refreshes_total",
		Help: "Total number of view refreshes by outcome",
	}, []string{"view", "outcome"})

	// ViewRefreshLatency records how long a refresh takes end to end.
	ViewRefreshLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spark_view_refresh_latency_seconds",
		Help:    "View refresh latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"view"})

	// OptimisticMutations counts optimistic mutations by view and outcome.
	OptimisticMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_optimistic_mutations_total",
		Help: "Total number of optimistic mutations by outcome",
	}, []string{"view", "mutation", "outcome"})

	// ReconcileTriggers counts change notifications that scheduled a refetch.
	ReconcileTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_reconcile_triggers_total",
		Help: "Change notifications that scheduled a view refetch",
	}, []string{"view"})

	// ChangeEvents counts change events published on the channel.
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_change_events_total",
		Help: "Total change events by table and type",
	}, []string{"table", "type"})

	// ActiveSubscriptions is the gauge of live change-channel subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spark_active_subscriptions",
		Help: "Number of live change-channel subscriptions",
	})

	// RelayConnections is the gauge of connected relay clients.
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spark_relay_connections",
		Help: "Number of connected websocket relay clients",
	})

	// RelayBackpressureDrops counts relay frames dropped due to backpressure.
	RelayBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_relay_backpressure_drops_total",
		Help: "Total number of relay frames dropped due to backpressure",
	}, []string{"reason"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// GatewayQueryLatency records store latency by operation and table.
	GatewayQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spark_gateway_query_latency_seconds",
		Help:    "Gateway query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackQuery returns a function that records gateway latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		GatewayQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// TrackRefresh returns a function that records view refresh latency.
func TrackRefresh(view string) func() {
	start := time.Now()
	return func() {
		ViewRefreshLatency.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}
}
