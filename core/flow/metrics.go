package flow

import "github.com/prometheus/client_golang/prometheus"

var (
	inferenceDuration *prometheus.HistogramVec
	bucketsMatched    *prometheus.CounterVec
	bikesMatched      *prometheus.CounterVec
	lpFallbacks       prometheus.Counter
)

func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flow_inference_duration_seconds",
			Help:    "Duration of a full OD inference run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"matcher"},
	)
	buckets := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_buckets_matched_total",
			Help: "Number of time buckets that went through matching",
		},
		[]string{"matcher"},
	)
	bikes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_bikes_matched_total",
			Help: "Number of bikes assigned to an origin-destination pair",
		},
		[]string{"matcher"},
	)
	fb := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flow_lp_fallback_total",
			Help: "Number of buckets where LP matching fell back to greedy",
		},
	)
	return dur, buckets, bikes, fb
}

func init() {
	inferenceDuration, bucketsMatched, bikesMatched, lpFallbacks = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers inference metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(inferenceDuration, bucketsMatched, bikesMatched, lpFallbacks)
}

// ResetMetrics reinitializes the collectors and registers them on reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	inferenceDuration, bucketsMatched, bikesMatched, lpFallbacks = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
