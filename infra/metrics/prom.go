package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/bikeflow/core/flow"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/model"
)

// PromSink records inference and acquisition events in Prometheus metrics.
type PromSink struct {
	runs     *prometheus.CounterVec
	moved    *prometheus.CounterVec
	lastRun  *prometheus.GaugeVec
	odPairs  *prometheus.GaugeVec
	ingested *prometheus.CounterVec
	maxPairs int
}

// DefaultMaxPairs bounds the number of OD pairs exported as gauge series.
const DefaultMaxPairs = 50

// NewPromSink registers metrics on the default Prometheus registerer.
// The HTTP endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer, DefaultMaxPairs)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already present on reg are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer, maxPairs int) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	s := &PromSink{maxPairs: maxPairs}
	var err error
	if s.runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_runs_total",
		Help: "Inference runs by matcher",
	}, []string{"matcher"})); err != nil {
		return nil, err
	}
	if s.moved, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_moved_bikes_total",
		Help: "Bikes assigned to OD pairs across runs",
	}, []string{"matcher"})); err != nil {
		return nil, err
	}
	if s.lastRun, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bikeflow_last_run",
		Help: "Figures of the most recent inference run",
	}, []string{"field"})); err != nil {
		return nil, err
	}
	if s.odPairs, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bikeflow_od_pair_bikes",
		Help: "Bikes moved per OD pair in the most recent run, busiest pairs only",
	}, []string{"origin", "destination"})); err != nil {
		return nil, err
	}
	if s.ingested, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bikeflow_ingested_rows_total",
		Help: "Rows stored by acquisition cycles",
	}, []string{"source", "status"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRun updates run counters and the last-run gauges.
func (s *PromSink) RecordRun(ev coremetrics.RunEvent) error {
	s.runs.WithLabelValues(ev.Matcher).Inc()
	s.moved.WithLabelValues(ev.Matcher).Add(float64(ev.Moved))
	s.lastRun.WithLabelValues("buckets").Set(float64(ev.Buckets))
	s.lastRun.WithLabelValues("departures").Set(float64(ev.Departures))
	s.lastRun.WithLabelValues("arrivals").Set(float64(ev.Arrivals))
	s.lastRun.WithLabelValues("moved").Set(float64(ev.Moved))
	s.lastRun.WithLabelValues("pairs").Set(float64(ev.Pairs))
	s.lastRun.WithLabelValues("duration_seconds").Set(ev.Duration.Seconds())
	return nil
}

// RecordFlows replaces the OD pair gauges with the busiest pairs of rows.
func (s *PromSink) RecordFlows(_ string, rows []model.ODRow, _ time.Time) error {
	s.odPairs.Reset()
	for _, r := range flow.TopN(rows, s.maxPairs) {
		s.odPairs.WithLabelValues(r.Origin, r.Destination).Set(float64(r.Count))
	}
	return nil
}

// RecordIngest counts stored rows per source.
func (s *PromSink) RecordIngest(ev coremetrics.IngestEvent) error {
	status := "ok"
	if ev.Error != "" {
		status = "error"
	}
	s.ingested.WithLabelValues(ev.Source, status).Add(float64(ev.Rows))
	return nil
}
