package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/model"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestInfluxSink_RecordRun(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server()
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	ev := coremetrics.RunEvent{RunID: "r1", Matcher: "greedy", Buckets: 6, Departures: 9, Arrivals: 7, Moved: 7, Pairs: 3, Duration: 1500 * time.Microsecond, Time: now}
	if err := sink.RecordRun(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("inference_run").
		AddTag("run_id", "r1").
		AddTag("matcher", "greedy").
		AddField("buckets", 6).
		AddField("departures", 9).
		AddField("arrivals", 7).
		AddField("moved", 7).
		AddField("pairs", 3).
		AddField("duration_ms", 1.5).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if len(rec.bodies) != 1 || rec.bodies[0] != expected {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestInfluxSink_RecordFlows(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server()
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	rows := []model.ODRow{{Origin: "a", Destination: "b", Count: 3}, {Origin: "b", Destination: "c", Count: 1}}
	if err := sink.RecordFlows("r1", rows, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(rec.bodies) != 1 {
		t.Fatalf("expected one batched request, got %d", len(rec.bodies))
	}
	lines := strings.Split(rec.bodies[0], "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %#v", lines)
	}
	p := write.NewPointWithMeasurement("od_flow").
		AddTag("run_id", "r1").
		AddTag("origin", "a").
		AddTag("destination", "b").
		AddField("count", 3).
		SetTime(now)
	if lines[0] != strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond)) {
		t.Errorf("unexpected line: %s", lines[0])
	}

	if err := sink.RecordFlows("r2", nil, now); err != nil {
		t.Fatalf("empty record: %v", err)
	}
	if len(rec.bodies) != 1 {
		t.Fatalf("empty table should not write")
	}
}

func TestInfluxSink_RecordIngest(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server()
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	if err := sink.RecordIngest(coremetrics.IngestEvent{Source: "status", Rows: 42, Time: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("ingest_cycle").
		AddTag("source", "status").
		AddField("rows", 42).
		SetTime(now)
	exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if len(rec.bodies) != 1 || rec.bodies[0] != exp {
		t.Errorf("bodies: %#v", rec.bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
