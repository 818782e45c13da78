package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	runsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Scheduled job runs by job and outcome.",
	}, []string{"job", "outcome"})

	notifiedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "jobs",
		Name:      "users_notified_total",
		Help:      "Users reached by a scheduled job.",
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(runsCounter, notifiedCounter)
}

func recordRun(r Report, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	runsCounter.WithLabelValues(r.Job, outcome).Inc()
	if r.Notified > 0 {
		notifiedCounter.WithLabelValues(r.Job).Add(float64(r.Notified))
	}
}
