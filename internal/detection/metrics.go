package detection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var detectionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_detections_total",
	Help: "Number of decisions produced, by kind",
}, []string{"kind"})

var evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "sentinel_evaluation_duration_seconds",
	Help:    "Time spent evaluating one event",
	Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
}, []string{"event"})

var raidJoinsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sentinel_raid_window_joins",
	Help: "Joins currently inside the raid window of a guild",
}, []string{"guild"})

var trackedUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "sentinel_tracked_users",
	Help: "Members with a live message rate window",
})
