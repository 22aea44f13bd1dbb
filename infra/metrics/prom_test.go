package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bikeflow/core/events"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/internal/eventbus"
)

func TestPromSink_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg, 2)
	require.NoError(t, err)

	require.NoError(t, s.RecordRun(coremetrics.RunEvent{Matcher: "greedy", Buckets: 4, Moved: 7, Pairs: 2}))
	require.NoError(t, s.RecordRun(coremetrics.RunEvent{Matcher: "greedy", Moved: 3}))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.runs.WithLabelValues("greedy")))
	assert.Equal(t, 10.0, testutil.ToFloat64(s.moved.WithLabelValues("greedy")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.lastRun.WithLabelValues("moved")))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg, 0)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg, 0)
	require.NoError(t, err)
	require.NoError(t, a.RecordRun(coremetrics.RunEvent{Matcher: "lp"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.runs.WithLabelValues("lp")))
}

func TestPromSink_RecordFlowsKeepsBusiest(t *testing.T) {
	s, err := NewPromSinkWithRegistry(prometheus.NewRegistry(), 2)
	require.NoError(t, err)
	rows := []model.ODRow{
		{Origin: "a", Destination: "b", Count: 1},
		{Origin: "a", Destination: "c", Count: 9},
		{Origin: "c", Destination: "b", Count: 4},
	}
	require.NoError(t, s.RecordFlows("r", rows, time.Now()))
	assert.Equal(t, 2, testutil.CollectAndCount(s.odPairs))
	assert.Equal(t, 9.0, testutil.ToFloat64(s.odPairs.WithLabelValues("a", "c")))

	require.NoError(t, s.RecordFlows("r2", rows[:1], time.Now()))
	assert.Equal(t, 1, testutil.CollectAndCount(s.odPairs))
}

func TestIngestCollector(t *testing.T) {
	s, err := NewPromSinkWithRegistry(prometheus.NewRegistry(), 0)
	require.NoError(t, err)
	bus := eventbus.NewTyped[events.IngestEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartIngestCollector(ctx, bus, s)

	bus.Publish(events.IngestEvent{Source: "status", Rows: 12})
	bus.Publish(events.IngestEvent{Source: "status", Err: errors.New("timeout")})
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.ingested.WithLabelValues("status", "ok")) == 12 &&
			testutil.CollectAndCount(s.ingested) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRunCollector(t *testing.T) {
	s, err := NewPromSinkWithRegistry(prometheus.NewRegistry(), 0)
	require.NoError(t, err)
	bus := eventbus.NewTyped[events.RunEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRunCollector(ctx, bus, s)

	bus.Publish(events.RunEvent{RunID: "bad", Err: errors.New("x"), OD: []model.ODRow{{Origin: "x", Destination: "y", Count: 1}}})
	bus.Publish(events.RunEvent{RunID: "ok", OD: []model.ODRow{{Origin: "a", Destination: "b", Count: 5}}})
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.odPairs.WithLabelValues("a", "b")) == 5
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(s.odPairs))
}
