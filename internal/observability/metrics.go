// Package observability exports process-wide watermark gauges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wearable_sync",
		Subsystem: "persistence",
		Name:      "last_metrics_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent metric batch upserted.",
	})
	batchCompletedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wearable_sync",
		Subsystem: "batch",
		Name:      "last_batch_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent sync-all-active run to finish.",
	})
	activeConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wearable_sync",
		Subsystem: "batch",
		Name:      "active_connections",
		Help:      "Active connections seen by the most recent batch run.",
	})
)

func init() {
	prometheus.MustRegister(metricsPersistGauge, batchCompletedGauge, activeConnectionsGauge)
}

// RecordMetricsPersisted updates the persistence watermark gauge.
func RecordMetricsPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	metricsPersistGauge.Set(float64(ts.Unix()))
}

// RecordBatchCompleted updates the batch watermark and the active connection count.
func RecordBatchCompleted(ts time.Time, active int) {
	activeConnectionsGauge.Set(float64(active))
	if ts.IsZero() {
		return
	}
	batchCompletedGauge.Set(float64(ts.Unix()))
}
