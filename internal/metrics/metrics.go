package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tasksync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_attempts_total",
			Help:      "Remote call attempts by service and outcome (success, retry, failed).",
		},
		[]string{"service", "outcome"},
	)

	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Terminal remote call failures by service and kind.",
		},
		[]string{"service", "kind"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_decisions_total",
			Help:      "Reconciliation decisions by action.",
		},
		[]string{"action"},
	)

	queueTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Queued triggers by kind and final status.",
		},
		[]string{"kind", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, attempts, failures, decisions, queueTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncAttempt(service, outcome string) {
	attempts.WithLabelValues(service, outcome).Inc()
}

func IncFailure(service, kind string) {
	failures.WithLabelValues(service, kind).Inc()
}

func IncDecision(action string) {
	decisions.WithLabelValues(action).Inc()
}

func IncQueue(kind, status string) {
	queueTasks.WithLabelValues(kind, status).Inc()
}
