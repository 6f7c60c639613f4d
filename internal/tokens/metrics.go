package tokens

import "github.com/prometheus/client_golang/prometheus"

var refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wearable_sync",
	Subsystem: "tokens",
	Name:      "refresh_total",
	Help:      "Token refresh attempts by classified result (success, permanent, transient, unknown).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(refreshCounter)
}
