package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carecoord", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carecoord", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	RepositoryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carecoord", Name: "repository_operations_total", Help: "Repository operations by entity kind, operation and result."},
		[]string{"kind", "op", "result"},
	)
	SubscriptionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "carecoord", Name: "subscriptions_active", Help: "Open live list subscriptions by entity kind."},
		[]string{"kind"},
	)
	SnapshotsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carecoord", Name: "snapshots_total", Help: "Snapshots applied to subscription views by entity kind."},
		[]string{"kind"},
	)
	SubscriptionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carecoord", Name: "subscription_denied_total", Help: "Subscriptions answered with an empty result after a permission-denied error."},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

// RegisterCollectors registers every collector once; later calls are no-ops
// so the server and tests can both call it.
func RegisterCollectors(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(RateLimitAllowed)
		reg.MustRegister(RateLimitRejected)
		reg.MustRegister(RepositoryOperations)
		reg.MustRegister(SubscriptionsActive)
		reg.MustRegister(SnapshotsDelivered)
		reg.MustRegister(SubscriptionDenied)
	})
}

// Result labels an operation outcome for RepositoryOperations.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
