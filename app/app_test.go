package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bikeflow/core/events"
	"github.com/kilianp07/bikeflow/core/flow"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/publish"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/cache"
	"github.com/kilianp07/bikeflow/infra/gbfs"
	"github.com/kilianp07/bikeflow/infra/logger"
	"github.com/kilianp07/bikeflow/infra/mqtt"
	"github.com/kilianp07/bikeflow/infra/storage"
	"github.com/kilianp07/bikeflow/internal/eventbus"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

var stations = []model.Station{
	{ID: "a", Name: "Alpha", Lat: 0, Lon: 0},
	{ID: "b", Name: "Beta", Lat: 0, Lon: 0.01},
}

// fakeFeed moves one bike from a to b on every call.
type fakeFeed struct {
	calls atomic.Int64
	err   error
}

func (f *fakeFeed) Fetch(context.Context) (*gbfs.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := f.calls.Add(1) - 1
	return &gbfs.Snapshot{
		Stations: stations,
		Status: []gbfs.StationStatus{
			{StationID: "a", NumBikesAvailable: decimal.NewFromInt(10 - n)},
			{StationID: "b", NumBikesAvailable: decimal.NewFromInt(n)},
			{StationID: ""},
		},
	}, nil
}

type fakeWeather struct{ hours []model.WeatherHour }

func (w fakeWeather) Fetch(context.Context, time.Time, time.Time) ([]model.WeatherHour, error) {
	return w.hours, nil
}

func openStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "bikeflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func newEngine(t *testing.T) *flow.Engine {
	t.Helper()
	e, err := flow.NewEngine(flow.Config{Workers: 2}, nil, nil)
	require.NoError(t, err)
	return e
}

func TestIngestOnce(t *testing.T) {
	store := openStore(t)
	mem := cache.NewMemory()
	bus := eventbus.NewTyped[events.IngestEvent]()
	sub := bus.SubscribeN(8)
	ing := NewIngester(&fakeFeed{}, nil, store, mem, bus, nil)
	ing.now = func() time.Time { return base }

	res, err := ing.IngestOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{StationsUpserted: 2, StatusRows: 2}, res)

	recs, err := store.StatusRange(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2025-03-01T10:00:00Z", recs[0].ScrapedAt)
	assert.Equal(t, recs[0].ScrapedAt, recs[1].ScrapedAt)

	cached, err := mem.Stations(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	ev := <-sub
	assert.Equal(t, "stations", ev.Source)
	ev = <-sub
	assert.Equal(t, "status", ev.Source)
	assert.Equal(t, 2, ev.Rows)
}

func TestIngestOnceFeedError(t *testing.T) {
	bus := eventbus.NewTyped[events.IngestEvent]()
	sub := bus.SubscribeN(1)
	ing := NewIngester(&fakeFeed{err: errors.New("down")}, nil, openStore(t), nil, bus, nil)
	_, err := ing.IngestOnce(context.Background())
	require.Error(t, err)
	ev := <-sub
	assert.EqualError(t, ev.Err, "down")
}

func TestIngestWeather(t *testing.T) {
	store := openStore(t)
	temp := 20.0
	ing := NewIngester(&fakeFeed{}, fakeWeather{hours: []model.WeatherHour{{Time: base, Temperature: &temp}}}, store, nil, nil, nil)
	n, err := ing.IngestWeather(context.Background(), base, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	noWeather := NewIngester(&fakeFeed{}, nil, store, nil, nil, nil)
	_, err = noWeather.IngestWeather(context.Background(), base, base)
	assert.Error(t, err)
}

func seed(t *testing.T, store *storage.SQLiteStore, recs ...model.StatusRecord) {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertStations(ctx, stations, base)
	require.NoError(t, err)
	_, err = store.InsertStatus(ctx, recs)
	require.NoError(t, err)
}

func status(id string, at time.Time, bikes int64) model.StatusRecord {
	return model.StatusRecord{StationID: id, ScrapedAt: at.Format(time.RFC3339), BikesAvailable: decimal.NewFromInt(bikes)}
}

func TestInferenceRun(t *testing.T) {
	store := openStore(t)
	seed(t, store,
		status("a", base, 5), status("b", base, 0),
		status("a", base.Add(10*time.Minute), 3), status("b", base.Add(10*time.Minute), 2),
	)
	runs, err := runlog.NewJSONLStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	require.NoError(t, err)
	defer func() { _ = runs.Close() }()
	bus := eventbus.NewTyped[events.RunEvent]()
	sub := bus.SubscribeN(1)

	inf := NewInference(newEngine(t), store, nil,
		WithRunLog(runs, 5), WithFlowStore(store), WithCache(cache.NewMemory()), WithRunBus(bus))
	res, err := inf.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []model.ODRow{{Origin: "a", Destination: "b", Count: 2}}, res.OD)

	saved, err := store.Flows(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.OD, saved)

	recs, err := runs.Query(context.Background(), runlog.RunQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.RunID, recs[0].RunID)
	assert.Equal(t, 2, recs[0].Moved)
	assert.Equal(t, "greedy", recs[0].Matcher)
	assert.Empty(t, recs[0].Error)

	ev := <-sub
	assert.NoError(t, ev.Err)
	assert.Equal(t, 2, ev.Moved)
}

func TestInferenceRunInvalidRecord(t *testing.T) {
	store := openStore(t)
	seed(t, store, model.StatusRecord{StationID: "a", ScrapedAt: base.Format(time.RFC3339), BikesAvailable: decimal.RequireFromString("1.5")})
	runs, err := runlog.NewJSONLStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	require.NoError(t, err)
	defer func() { _ = runs.Close() }()
	bus := eventbus.NewTyped[events.RunEvent]()
	sub := bus.SubscribeN(1)

	inf := NewInference(newEngine(t), store, nil, WithRunLog(runs, 5), WithRunBus(bus))
	_, err = inf.Run(context.Background(), time.Time{}, time.Time{})
	require.ErrorIs(t, err, model.ErrInvalidRecord)

	recs, err := runs.Query(context.Background(), runlog.RunQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Error, "num_bikes_available")
	assert.Error(t, (<-sub).Err)
}

func TestHandleRun(t *testing.T) {
	pub := mqtt.NewMockPublisher()
	mem := cache.NewMemory()
	s := &Service{publishers: publish.Multi{pub}, cache: mem, log: logger.New("test")}
	ctx := context.Background()

	s.handleRun(ctx, events.RunEvent{RunID: "bad", Err: errors.New("boom")})
	assert.Empty(t, pub.Sent())

	s.handleRun(ctx, events.RunEvent{RunID: "r1", Moved: 1, OD: []model.ODRow{{Origin: "a", Destination: "b", Count: 1}}})
	require.Len(t, pub.Sent(), 1)
	latest, err := mem.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.RunID)
}

func TestHandleRunOverlappingWindows(t *testing.T) {
	mem := cache.NewMemory()
	s := &Service{cache: mem, log: logger.New("test")}
	ctx := context.Background()
	od := []model.ODRow{{Origin: "A", Destination: "B", Count: 3}}
	flows := []model.Flow{{Bucket: base.Add(10 * time.Minute), Origin: "A", Destination: "B", Count: 3}}

	s.handleRun(ctx, events.RunEvent{RunID: "r1", To: base.Add(10 * time.Minute), OD: od, Flows: flows, Moved: 3})
	// Next tick re-infers the same trailing window plus one quiet bucket.
	s.handleRun(ctx, events.RunEvent{RunID: "r2", To: base.Add(20 * time.Minute), OD: od, Flows: flows, Moved: 3})

	top, err := mem.TopPairs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []model.ODRow{{Origin: "A", Destination: "B", Count: 3}}, top)
}

func TestServiceRunLoop(t *testing.T) {
	store := openStore(t)
	mem := cache.NewMemory()
	feed := &fakeFeed{}
	pub := mqtt.NewMockPublisher()
	runBus := eventbus.NewTyped[events.RunEvent]()
	ingestBus := eventbus.NewTyped[events.IngestEvent]()

	ing := NewIngester(feed, nil, store, mem, ingestBus, nil)
	ing.now = func() time.Time {
		return base.Add(time.Duration(feed.calls.Load()) * 10 * time.Minute)
	}
	s := &Service{
		Ingester:   ing,
		Inference:  NewInference(newEngine(t), store, nil, WithFlowStore(store), WithCache(mem), WithRunBus(runBus)),
		store:      store,
		cache:      mem,
		sink:       coremetrics.NopSink{},
		publishers: publish.Multi{pub},
		runBus:     runBus,
		ingestBus:  ingestBus,
		log:        logger.New("test"),
		pollEvery:  5 * time.Millisecond,
		inferEvery: 25 * time.Millisecond,
		window:     48 * time.Hour,
		now:        func() time.Time { return base.Add(24 * time.Hour) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		msg, err := mem.Latest(context.Background())
		return err == nil && msg.Moved > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msg, err := mem.Latest(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, msg.Flows)
	assert.Equal(t, "a", msg.Flows[0].Origin)
	assert.Equal(t, "b", msg.Flows[0].Destination)
	assert.NotEmpty(t, pub.Sent())
}
