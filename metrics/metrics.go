// Package metrics holds the prometheus collectors shared across
// components (SPEC_FULL.md Section D: "Metrics surface on every core
// component"), mirroring the teacher's dedicated metrics package and its
// per-package metrics.go convention.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every collector this repository exposes so
// cmd/sorchad can register them all against a single prometheus.Registerer
// at wiring time.
type Registry struct {
	ConnectedPeers       prometheus.Gauge
	IsolatedNodeTotal     prometheus.Counter
	QueueDepth            *prometheus.GaugeVec
	DocketBuildDuration    prometheus.Histogram
	QuorumRoundDuration    prometheus.Histogram
	TransactionsRejected   *prometheus.CounterVec
	TransactionsConfirmed  prometheus.Counter
	AutoApprovedDockets    prometheus.Counter
	PoisonQueueDepth       prometheus.Gauge
}

// New creates a Registry with every collector constructed (but not yet
// registered).
func New() *Registry {
	return &Registry{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sorcha", Subsystem: "p2p", Name: "connected_peers",
			Help: "Current count of peers in the Connected state.",
		}),
		IsolatedNodeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sorcha", Subsystem: "p2p", Name: "isolated_total",
			Help: "Number of times this node transitioned to node-wide Isolated status.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "queue_depth",
			Help: "Current depth of a named pipeline queue.",
		}, []string{"queue"}),
		DocketBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "docket_build_duration_seconds",
			Help:    "Time spent assembling one candidate docket.",
			Buckets: prometheus.DefBuckets,
		}),
		QuorumRoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "quorum_round_duration_seconds",
			Help:    "Time from docket build to quorum threshold reached.",
			Buckets: prometheus.DefBuckets,
		}),
		TransactionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "transactions_rejected_total",
			Help: "Count of transactions rejected, labelled by error code.",
		}, []string{"code"}),
		TransactionsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "transactions_confirmed_total",
			Help: "Count of transactions committed in a confirmed docket.",
		}),
		AutoApprovedDockets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "auto_approved_dockets_total",
			Help: "Count of dockets committed via auto_approve_when_no_validators.",
		}),
		PoisonQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sorcha", Subsystem: "validator", Name: "poison_queue_depth",
			Help: "Current count of transactions in the poison queue.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration the way prometheus' own MustRegister does.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.ConnectedPeers,
		r.IsolatedNodeTotal,
		r.QueueDepth,
		r.DocketBuildDuration,
		r.QuorumRoundDuration,
		r.TransactionsRejected,
		r.TransactionsConfirmed,
		r.AutoApprovedDockets,
		r.PoisonQueueDepth,
	)
}
