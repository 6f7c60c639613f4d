package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	runsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "orchestrator",
		Name:      "runs_total",
		Help:      "Per-user sync runs by status and follow-up signal.",
	}, []string{"status", "signal"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wearable_sync",
		Subsystem: "orchestrator",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of per-user sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "orchestrator",
		Name:      "records_upserted_total",
		Help:      "Canonical records upserted by record type.",
	}, []string{"record_type"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "orchestrator",
		Name:      "records_rejected_total",
		Help:      "Vendor payloads rejected by validation, by record type.",
	}, []string{"record_type"})

	downstreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "orchestrator",
		Name:      "downstream_failures_total",
		Help:      "Best-effort downstream calls that failed, by collaborator.",
	}, []string{"collaborator"})

	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wearable_sync",
		Subsystem: "batch",
		Name:      "in_flight_runs",
		Help:      "Per-user runs currently executing inside a batch.",
	})
)

func init() {
	prometheus.MustRegister(runsCounter, runDuration, recordsCounter, rejectedCounter, downstreamFailures, inFlightGauge)
}
