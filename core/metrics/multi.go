package metrics

import (
	"errors"
	"time"

	"github.com/kilianp07/bikeflow/core/model"
)

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRun forwards the run to every sink. All sinks are tried; their errors
// are joined.
func (m *MultiSink) RecordRun(ev RunEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordRun(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordFlows forwards the OD table to sinks that support it.
func (m *MultiSink) RecordFlows(runID string, rows []model.ODRow, at time.Time) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(FlowRecorder); ok {
			if err := rec.RecordFlows(runID, rows, at); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordIngest forwards acquisition events to sinks that support it.
func (m *MultiSink) RecordIngest(ev IngestEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(IngestRecorder); ok {
			if err := rec.RecordIngest(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
