package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	sendsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notifications by kind and final delivery state.",
	}, []string{"kind", "state"})

	recipientsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "notify",
		Name:      "recipients_total",
		Help:      "Per-token outcomes by kind and outcome (success, failure).",
	}, []string{"kind", "outcome"})

	staleTokensCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "notify",
		Name:      "stale_tokens_removed_total",
		Help:      "Push tokens removed after the provider reported them unregistered.",
	})

	multicastSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "exercisemate",
		Subsystem: "notify",
		Name:      "multicast_tokens",
		Help:      "Number of tokens per multicast submission.",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
	})
)

func init() {
	prometheus.MustRegister(sendsCounter, recipientsCounter, staleTokensCounter, multicastSize)
}

func recordResult(kind string, r Result) {
	sendsCounter.WithLabelValues(kind, string(r.State)).Inc()
	if r.SuccessCount > 0 {
		recipientsCounter.WithLabelValues(kind, "success").Add(float64(r.SuccessCount))
	}
	if r.FailureCount > 0 {
		recipientsCounter.WithLabelValues(kind, "failure").Add(float64(r.FailureCount))
	}
}
