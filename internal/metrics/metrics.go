package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metasync",
			Name:      "sync_attempts_total",
			Help:      "Sync attempts by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	deadLetters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "metasync",
			Name:      "dead_letters_total",
			Help:      "Items escalated to the dead-letter queue.",
		},
	)

	reconcileMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metasync",
			Name:      "reconcile_mismatches_total",
			Help:      "Mismatches found by reconciliation, by class.",
		},
		[]string{"class"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metasync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncAttempts, deadLetters, reconcileMismatches, httpRequests)
	})
}

// IncSyncAttempt increments the attempt counter for an operation/outcome pair.
func IncSyncAttempt(operation, outcome string) {
	syncAttempts.WithLabelValues(operation, outcome).Inc()
}

// IncDeadLetter counts one dead-letter escalation.
func IncDeadLetter() {
	deadLetters.Inc()
}

// IncReconcileMismatch counts one mismatch of the given class
// (missing, orphaned, stale).
func IncReconcileMismatch(class string) {
	reconcileMismatches.WithLabelValues(class).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
