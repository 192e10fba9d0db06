// Package metrics holds the Prometheus instruments for the routing core.
// Collectors register with the global registry, so importing this package
// is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RouteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "route_duration_seconds",
			Help:    "Time spent producing a routing decision, by routing reason.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"reason"},
	)

	FailsafeRoutesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "failsafe_routes_total",
			Help: "Clicks answered by a link's failsafe URL because no ranked destination was usable.",
		})

	SideEffectFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Detached best-effort writes (variant clicks, click events) that failed.",
		})
)

func init() {
	prometheus.MustRegister(
		RouteDuration,
		FailsafeRoutesTotal,
		SideEffectFailuresTotal,
	)
}
