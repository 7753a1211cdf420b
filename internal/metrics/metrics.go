package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IndexSyncOps counts search index writes by op (upsert, remove, reindex)
	// and result (ok, error).
	IndexSyncOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reparts",
			Subsystem: "index",
			Name:      "sync_ops_total",
			Help:      "Search index sync operations by op and result.",
		},
		[]string{"op", "result"},
	)

	IndexOutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reparts",
			Subsystem: "index",
			Name:      "outbox_pending",
			Help:      "Index outbox operations not yet applied.",
		},
	)

	IdentityRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reparts",
			Subsystem: "identity",
			Name:      "repairs_total",
			Help:      "Chat seller repairs by result (applied, conflict, failed, dropped).",
		},
		[]string{"result"},
	)

	ChatThreads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reparts",
			Subsystem: "chat",
			Name:      "threads_total",
			Help:      "Find-or-create chat calls by outcome (created, reused).",
		},
		[]string{"outcome"},
	)

	ChatLockErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reparts",
			Subsystem: "chat",
			Name:      "lock_errors_total",
			Help:      "Chat creation lock acquisitions that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(IndexSyncOps)
	prometheus.MustRegister(IndexOutboxPending)
	prometheus.MustRegister(IdentityRepairs)
	prometheus.MustRegister(ChatThreads)
	prometheus.MustRegister(ChatLockErrors)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
