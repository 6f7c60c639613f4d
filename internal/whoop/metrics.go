package whoop

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "vendor",
		Name:      "request_attempts_total",
		Help:      "Vendor API request attempts by endpoint and outcome (success, retryable, fatal, cancelled).",
	}, []string{"endpoint", "outcome"})

	pagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "vendor",
		Name:      "pages_fetched_total",
		Help:      "Pages fetched from paginated vendor collections.",
	}, []string{"endpoint"})

	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "vendor",
		Name:      "records_fetched_total",
		Help:      "Raw records returned by vendor collections.",
	}, []string{"endpoint"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wearable_sync",
		Subsystem: "vendor",
		Name:      "request_duration_seconds",
		Help:      "Latency of vendor API requests by endpoint and status code.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"endpoint", "status"})

	tokenGrantCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "oauth",
		Name:      "token_grants_total",
		Help:      "Token endpoint calls by grant type and result.",
	}, []string{"grant_type", "result"})
)

func init() {
	prometheus.MustRegister(attemptsCounter, pagesCounter, recordsCounter, requestDuration, tokenGrantCounter)
}
