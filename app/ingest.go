package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/bikeflow/core/events"
	"github.com/kilianp07/bikeflow/core/logger"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/monitoring"
	"github.com/kilianp07/bikeflow/infra/cache"
	"github.com/kilianp07/bikeflow/infra/gbfs"
	"github.com/kilianp07/bikeflow/internal/eventbus"
)

// FeedSource returns a snapshot of the station feeds.
type FeedSource interface {
	Fetch(ctx context.Context) (*gbfs.Snapshot, error)
}

// WeatherSource returns hourly weather for a date range.
type WeatherSource interface {
	Fetch(ctx context.Context, start, end time.Time) ([]model.WeatherHour, error)
}

// IngestStore persists what the Ingester acquires.
type IngestStore interface {
	UpsertStations(ctx context.Context, stations []model.Station, at time.Time) (int, error)
	InsertStatus(ctx context.Context, recs []model.StatusRecord) (int, error)
	SaveWeather(ctx context.Context, hours []model.WeatherHour) (int, error)
}

// IngestResult reports what one acquisition cycle wrote.
type IngestResult struct {
	StationsUpserted int `json:"stations_upserted"`
	StatusRows       int `json:"status_rows"`
}

// Ingester copies feed snapshots into storage.
type Ingester struct {
	feed    FeedSource
	weather WeatherSource
	store   IngestStore
	cache   cache.Store
	bus     *eventbus.TypedBus[events.IngestEvent]
	log     logger.Logger
	now     func() time.Time
}

// NewIngester builds an Ingester. weather, c and bus may be nil.
func NewIngester(feed FeedSource, weather WeatherSource, store IngestStore, c cache.Store, bus *eventbus.TypedBus[events.IngestEvent], log logger.Logger) *Ingester {
	return &Ingester{feed: feed, weather: weather, store: store, cache: c, bus: bus, log: logger.OrNop(log), now: time.Now}
}

// IngestOnce fetches both station feeds, upserts stations and appends one
// status snapshot. Every status row shares the same scrape timestamp.
func (i *Ingester) IngestOnce(ctx context.Context) (IngestResult, error) {
	var res IngestResult
	snap, err := i.feed.Fetch(ctx)
	if err != nil {
		i.publish("status", 0, err)
		return res, fmt.Errorf("fetch feeds: %w", err)
	}
	now := i.now().UTC()

	res.StationsUpserted, err = i.store.UpsertStations(ctx, snap.Stations, now)
	i.publish("stations", res.StationsUpserted, err)
	if err != nil {
		return res, fmt.Errorf("upsert stations: %w", err)
	}
	if i.cache != nil && len(snap.Stations) > 0 {
		if err := i.cache.PutStations(ctx, snap.Stations); err != nil {
			i.log.Warnf("cache stations: %v", err)
		}
	}

	scrapedAt := now.Format(time.RFC3339)
	recs := make([]model.StatusRecord, 0, len(snap.Status))
	for _, st := range snap.Status {
		if st.StationID == "" {
			continue
		}
		recs = append(recs, model.StatusRecord{StationID: st.StationID, ScrapedAt: scrapedAt, BikesAvailable: st.NumBikesAvailable})
	}
	res.StatusRows, err = i.store.InsertStatus(ctx, recs)
	i.publish("status", res.StatusRows, err)
	if err != nil {
		return res, fmt.Errorf("insert status: %w", err)
	}
	i.log.Infow("ingest complete", map[string]any{"stations_upserted": res.StationsUpserted, "status_rows": res.StatusRows})
	return res, nil
}

// IngestWeather stores hourly weather between start and end.
func (i *Ingester) IngestWeather(ctx context.Context, start, end time.Time) (int, error) {
	if i.weather == nil {
		return 0, fmt.Errorf("weather source not configured")
	}
	hours, err := i.weather.Fetch(ctx, start, end)
	if err != nil {
		i.publish("weather", 0, err)
		return 0, fmt.Errorf("fetch weather: %w", err)
	}
	n, err := i.store.SaveWeather(ctx, hours)
	i.publish("weather", n, err)
	if err != nil {
		return 0, fmt.Errorf("save weather: %w", err)
	}
	return n, nil
}

func (i *Ingester) publish(source string, rows int, err error) {
	if err != nil {
		monitoring.CaptureException(err, map[string]string{"module": "ingest", "source": source})
	}
	if i.bus == nil {
		return
	}
	i.bus.Publish(events.IngestEvent{Source: source, Rows: rows, Err: err, Time: i.now()})
}
