package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/bikeflow/core/model"
)

type recordSink struct {
	runs  int
	flows int
	err   error
}

func (r *recordSink) RecordRun(RunEvent) error {
	r.runs++
	return r.err
}

func (r *recordSink) RecordFlows(string, []model.ODRow, time.Time) error {
	r.flows++
	return nil
}

// TestMultiSink ensures events are forwarded to all sinks.
func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2, NopSink{})
	if err := m.RecordRun(RunEvent{RunID: "r"}); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := m.RecordFlows("r", nil, time.Now()); err != nil {
		t.Fatalf("record flows: %v", err)
	}
	if err := m.RecordIngest(IngestEvent{Source: "status"}); err != nil {
		t.Fatalf("record ingest: %v", err)
	}
	if s1.runs != 1 || s2.runs != 1 || s1.flows != 1 || s2.flows != 1 {
		t.Fatalf("events not forwarded")
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	err := NewMultiSink(s1, s2).RecordRun(RunEvent{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s2.runs != 1 {
		t.Fatalf("second sink skipped after error")
	}
}
