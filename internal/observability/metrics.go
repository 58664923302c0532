// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Polling metrics
	PollCyclesTotal   *prometheus.CounterVec
	PollCycleDuration prometheus.Histogram
	MentionsFetched   prometheus.Counter
	BackoffSeconds    prometheus.Gauge
	ConsecutiveErrors prometheus.Gauge
	LastSuccessfulPoll prometheus.Gauge

	// Pipeline metrics
	MentionsProcessed  prometheus.Counter
	MentionsSkipped    prometheus.Counter
	ParseFailures      *prometheus.CounterVec
	ResolutionFailures prometheus.Counter
	AccountsProvisioned prometheus.Counter

	// Transfer metrics
	TransfersTotal  *prometheus.CounterVec
	TransferLatency prometheus.Histogram

	// Reply metrics
	RepliesPosted prometheus.Counter
	ReplyFailures prometheus.Counter

	// Reconciliation metrics
	ReconciledTransfers *prometheus.CounterVec
	OpenIndeterminate   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tipbot"
	}

	return &Metrics{
		PollCyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles by result",
		}, []string{"result"}),
		PollCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		MentionsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "mentions_fetched_total",
			Help:      "Total number of mentions fetched",
		}),
		BackoffSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "backoff_seconds",
			Help:      "Current backoff duration in seconds, zero when not backing off",
		}),
		ConsecutiveErrors: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "consecutive_errors",
			Help:      "Current consecutive fetch error count",
		}),
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful poll cycle",
		}),

		MentionsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "mentions_processed_total",
			Help:      "Total number of mentions that reached a terminal outcome",
		}),
		MentionsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "mentions_skipped_total",
			Help:      "Total number of mentions skipped as already processed",
		}),
		ParseFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "parse_failures_total",
			Help:      "Total number of command parse failures by reason",
		}, []string{"reason"}),
		ResolutionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "resolution_failures_total",
			Help:      "Total number of account resolution failures",
		}),
		AccountsProvisioned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "accounts_provisioned_total",
			Help:      "Total number of auto-provisioned ledger accounts",
		}),

		TransfersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Total number of transfers by terminal status",
		}, []string{"status"}),
		TransferLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "latency_seconds",
			Help:      "Ledger submission latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		RepliesPosted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reply",
			Name:      "posted_total",
			Help:      "Total number of replies posted",
		}),
		ReplyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reply",
			Name:      "failures_total",
			Help:      "Total number of reply post failures",
		}),

		ReconciledTransfers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "settled_total",
			Help:      "Total number of transfers settled by reconciliation, by status",
		}, []string{"status"}),
		OpenIndeterminate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "open_indeterminate",
			Help:      "Number of INDETERMINATE transfer records awaiting settlement",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
