package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "subtrack"

var (
	// EntitlementOps counts reconciler operations by provider, op and result.
	EntitlementOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "entitlement_ops_total",
		Help:      "Entitlement reconciler operations partitioned by provider, operation and result.",
	}, []string{"provider", "op", "result"})

	SubscriptionMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "subscription_mutations_total",
		Help:      "Tracked subscription writes partitioned by operation and result.",
	}, []string{"op", "result"})

	RemindersPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "reminders_published_total",
		Help:      "Renewal reminders handed to the broker, partitioned by result.",
	}, []string{"result"})

	// ProviderLatency observes upstream payment provider calls (type=provider, subtype=op).
	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "provider_dur_ms",
		Help:      "Payment provider call latency in milliseconds.",
		Buckets:   HistogramBuckets,
	}, []string{"type", "subtype"})

	registerOnce sync.Once
)

// RegisterBusinessMetrics registers the collectors above once per process.
func RegisterBusinessMetrics(reg prometheus.Registerer, log Logger) {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{EntitlementOps, SubscriptionMutations, RemindersPublished, ProviderLatency} {
			if err := reg.Register(c); err != nil && log != nil {
				log.Errorf("business metric could not be registered: %v", err)
			}
		}
	})
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
