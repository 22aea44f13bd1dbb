package metrics

import (
	"time"

	"github.com/kilianp07/bikeflow/core/model"
)

// RunEvent summarises one inference run.
type RunEvent struct {
	RunID      string
	Matcher    string
	From       time.Time
	To         time.Time
	Buckets    int
	Departures int
	Arrivals   int
	Moved      int
	Pairs      int
	Duration   time.Duration
	Time       time.Time
}

// MetricsSink records inference runs for observability purposes.
type MetricsSink interface {
	RecordRun(ev RunEvent) error
}

// FlowRecorder records the aggregated OD table of a run.
type FlowRecorder interface {
	RecordFlows(runID string, rows []model.ODRow, at time.Time) error
}

// IngestEvent captures the outcome of one acquisition cycle.
type IngestEvent struct {
	Source string
	Rows   int
	Error  string
	Time   time.Time
}

// IngestRecorder records acquisition cycles.
type IngestRecorder interface {
	RecordIngest(ev IngestEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRun(RunEvent) error                           { return nil }
func (NopSink) RecordFlows(string, []model.ODRow, time.Time) error { return nil }
func (NopSink) RecordIngest(IngestEvent) error                     { return nil }
