// Package metrics provides Prometheus metrics for the coordinator and
// cache-node processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator holds every metric the coordinator process exports.
type Coordinator struct {
	QueriesReceived   prometheus.Counter
	QueriesCreated    prometheus.Counter
	QueriesAttached   prometheus.Counter
	QueriesExtended   prometheus.Counter
	QueriesFailed     prometheus.Counter
	PendingJobs       prometheus.Gauge
	RunningJobs       prometheus.Gauge
	FinishedJobs      prometheus.Gauge
	ReorgRuns         prometheus.Counter
	ReorgMovesPlanned prometheus.Counter
	ReorgMovesFailed  prometheus.Counter
	NodesActive       prometheus.Gauge
	ResolveDuration   prometheus.Histogram
}

// NewCoordinator creates and registers the coordinator's metrics.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		QueriesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_queries_received_total",
			Help: "Total number of QUERY messages received from clients.",
		}),
		QueriesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_jobs_created_total",
			Help: "Total number of jobs created as a CreateJob (cache miss).",
		}),
		QueriesAttached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_queries_attached_total",
			Help: "Total number of queries attached to an existing running or pending job.",
		}),
		QueriesExtended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_queries_extended_total",
			Help: "Total number of queries that extended a pending job's bounds.",
		}),
		QueriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_queries_failed_total",
			Help: "Total number of queries that failed (dispatch, worker, or node failure).",
		}),
		PendingJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "geocache_coordinator_jobs_pending",
			Help: "Current number of jobs in the PENDING state.",
		}),
		RunningJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "geocache_coordinator_jobs_running",
			Help: "Current number of jobs in the RUNNING state.",
		}),
		FinishedJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "geocache_coordinator_jobs_finished",
			Help: "Current number of jobs in the FINISHED grace window.",
		}),
		ReorgRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_reorg_runs_total",
			Help: "Total number of reorg passes that actually ran a strategy.",
		}),
		ReorgMovesPlanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_reorg_moves_planned_total",
			Help: "Total number of moves a reorg pass planned.",
		}),
		ReorgMovesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_coordinator_reorg_moves_failed_total",
			Help: "Total number of planned moves that failed to complete.",
		}),
		NodesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "geocache_coordinator_nodes_active",
			Help: "Current number of nodes in the ACTIVE liveness state.",
		}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geocache_coordinator_resolve_duration_seconds",
			Help:    "Duration of index directory Resolve calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Node holds every metric a cache-node process exports.
type Node struct {
	EntriesPut       *prometheus.CounterVec
	EntriesEvicted   *prometheus.CounterVec
	QueryHits        *prometheus.CounterVec
	QueryPartials    *prometheus.CounterVec
	QueryMisses      *prometheus.CounterVec
	BytesUsed        *prometheus.GaugeVec
	WorkersBusy      prometheus.Gauge
	DeliveriesActive prometheus.Gauge
	ProduceDuration  prometheus.Histogram
	ProduceErrors    prometheus.Counter
}

// NewNode creates and registers a cache-node's metrics. Counters keyed by
// cache_type let one node expose per-type rates without a metric per type.
func NewNode() *Node {
	return &Node{
		EntriesPut: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_node_entries_put_total",
			Help: "Total number of entries stored, by cache type.",
		}, []string{"cache_type"}),
		EntriesEvicted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_node_entries_evicted_total",
			Help: "Total number of entries evicted to make room, by cache type.",
		}, []string{"cache_type"}),
		QueryHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_node_query_hits_total",
			Help: "Total number of local queries that returned a full hit, by cache type.",
		}, []string{"cache_type"}),
		QueryPartials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_node_query_partials_total",
			Help: "Total number of local queries that returned a puzzle-matched partial, by cache type.",
		}, []string{"cache_type"}),
		QueryMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_node_query_misses_total",
			Help: "Total number of local queries that missed entirely, by cache type.",
		}, []string{"cache_type"}),
		BytesUsed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geocache_node_bytes_used",
			Help: "Current bytes used, by cache type.",
		}, []string{"cache_type"}),
		WorkersBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "geocache_node_workers_busy",
			Help: "Current number of worker goroutines executing a job.",
		}),
		DeliveriesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "geocache_node_deliveries_active",
			Help: "Current number of reserved deliveries awaiting consumption.",
		}),
		ProduceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geocache_node_produce_duration_seconds",
			Help:    "Duration of Producer.Produce calls.",
			Buckets: prometheus.DefBuckets,
		}),
		ProduceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geocache_node_produce_errors_total",
			Help: "Total number of Producer.Produce calls that returned an error.",
		}),
	}
}
