// Package observability holds process-wide watermark gauges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	exerciseLoggedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "exercisemate",
		Subsystem: "ledger",
		Name:      "last_exercise_logged_timestamp_seconds",
		Help:      "Unix timestamp of the most recent exercise record written.",
	})
	statsRecomputedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "exercisemate",
		Subsystem: "counter",
		Name:      "last_stats_recomputed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent weekly stats recompute.",
	})
)

func init() {
	prometheus.MustRegister(exerciseLoggedGauge, statsRecomputedGauge)
}

// RecordExerciseLogged updates the ledger watermark gauge.
func RecordExerciseLogged(ts time.Time) {
	if ts.IsZero() {
		return
	}
	exerciseLoggedGauge.Set(float64(ts.Unix()))
}

// RecordStatsRecomputed updates the counter watermark gauge.
func RecordStatsRecomputed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	statsRecomputedGauge.Set(float64(ts.Unix()))
}
