// Package storage persists stations, status snapshots, weather and inferred
// flows in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/bikeflow/core/model"
)

// Config defines the database location.
type Config struct {
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "bikeflow.db"
	}
}

// ErrEmpty is returned by TimeBounds when no status rows exist.
var ErrEmpty = errors.New("no status data")

const schema = `
CREATE TABLE IF NOT EXISTS stations (
    station_id TEXT PRIMARY KEY,
    name TEXT,
    lat REAL,
    lon REAL,
    capacity INTEGER,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS station_status (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_id TEXT NOT NULL,
    scraped_at TEXT NOT NULL,
    num_bikes_available TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_scraped ON station_status(scraped_at);
CREATE TABLE IF NOT EXISTS weather_hourly (
    time TEXT PRIMARY KEY,
    temperature_2m REAL,
    precipitation REAL,
    rain REAL,
    showers REAL,
    snowfall REAL,
    cloudcover REAL,
    windspeed_10m REAL,
    relative_humidity_2m REAL,
    weathercode INTEGER
);
CREATE TABLE IF NOT EXISTS od_flows (
    run_id TEXT NOT NULL,
    origin TEXT NOT NULL,
    destination TEXT NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY(run_id, origin, destination)
);`

// SQLiteStore is the SQLite persistence layer.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database. Call Init to create the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Init creates missing tables and indexes.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// UpsertStations inserts or updates stations by id.
func (s *SQLiteStore) UpsertStations(ctx context.Context, stations []model.Station, at time.Time) (int, error) {
	err := s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO stations (station_id, name, lat, lon, capacity, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(station_id) DO UPDATE SET
            name = excluded.name,
            lat = excluded.lat,
            lon = excluded.lon,
            capacity = excluded.capacity,
            updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		ts := at.UTC().Format(time.RFC3339)
		for _, st := range stations {
			if _, err := stmt.ExecContext(ctx, st.ID, st.Name, st.Lat, st.Lon, st.Capacity, ts); err != nil {
				return fmt.Errorf("station %s: %w", st.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stations), nil
}

// Stations returns every station with coordinates, ordered by id.
func (s *SQLiteStore) Stations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT station_id, COALESCE(name, ''), lat, lon, COALESCE(capacity, 0)
        FROM stations WHERE lat IS NOT NULL AND lon IS NOT NULL ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &st.Capacity); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// InsertStatus appends a batch of status rows.
func (s *SQLiteStore) InsertStatus(ctx context.Context, recs []model.StatusRecord) (int, error) {
	err := s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO station_status (station_id, scraped_at, num_bikes_available) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, r := range recs {
			if _, err := stmt.ExecContext(ctx, r.StationID, r.ScrapedAt, r.BikesAvailable); err != nil {
				return fmt.Errorf("status %s: %w", r.StationID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// StatusRange returns status rows with start <= scraped_at <= end ordered by
// scraped_at. Zero bounds are open.
func (s *SQLiteStore) StatusRange(ctx context.Context, start, end time.Time) ([]model.StatusRecord, error) {
	q := `SELECT station_id, scraped_at, num_bikes_available FROM station_status WHERE 1=1`
	var args []any
	if !start.IsZero() {
		q += ` AND scraped_at >= ?`
		args = append(args, start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q += ` AND scraped_at <= ?`
		args = append(args, end.UTC().Format(time.RFC3339))
	}
	q += ` ORDER BY scraped_at, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.StatusRecord
	for rows.Next() {
		var r model.StatusRecord
		if err := rows.Scan(&r.StationID, &r.ScrapedAt, &r.BikesAvailable); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// TimeBounds returns the earliest and latest scraped_at values.
func (s *SQLiteStore) TimeBounds(ctx context.Context) (time.Time, time.Time, error) {
	var lo, hi sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(scraped_at), MAX(scraped_at) FROM station_status`).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, ErrEmpty
	}
	start, err := model.ParseTimestamp(lo.String)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := model.ParseTimestamp(hi.String)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// SaveWeather upserts hourly weather rows by time.
func (s *SQLiteStore) SaveWeather(ctx context.Context, hours []model.WeatherHour) (int, error) {
	err := s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO weather_hourly (time, temperature_2m, precipitation, rain,
            showers, snowfall, cloudcover, windspeed_10m, relative_humidity_2m, weathercode)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(time) DO UPDATE SET
            temperature_2m = excluded.temperature_2m,
            precipitation = excluded.precipitation,
            rain = excluded.rain,
            showers = excluded.showers,
            snowfall = excluded.snowfall,
            cloudcover = excluded.cloudcover,
            windspeed_10m = excluded.windspeed_10m,
            relative_humidity_2m = excluded.relative_humidity_2m,
            weathercode = excluded.weathercode`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, h := range hours {
			if _, err := stmt.ExecContext(ctx, h.Time.UTC().Format(time.RFC3339),
				h.Temperature, h.Precipitation, h.Rain, h.Showers, h.Snowfall,
				h.CloudCover, h.WindSpeed, h.Humidity, h.WeatherCode); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(hours), nil
}

// Weather returns hourly rows in [start, end] ordered by time.
func (s *SQLiteStore) Weather(ctx context.Context, start, end time.Time) ([]model.WeatherHour, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT time, temperature_2m, precipitation, rain, showers, snowfall,
            cloudcover, windspeed_10m, relative_humidity_2m, weathercode
        FROM weather_hourly WHERE time >= ? AND time <= ? ORDER BY time`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.WeatherHour
	for rows.Next() {
		var ts string
		var h model.WeatherHour
		if err := rows.Scan(&ts, &h.Temperature, &h.Precipitation, &h.Rain, &h.Showers, &h.Snowfall,
			&h.CloudCover, &h.WindSpeed, &h.Humidity, &h.WeatherCode); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, err
		}
		h.Time = t
		res = append(res, h)
	}
	return res, rows.Err()
}

// SaveFlows stores the OD table of a run, replacing any previous rows for it.
func (s *SQLiteStore) SaveFlows(ctx context.Context, runID string, rows []model.ODRow) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM od_flows WHERE run_id = ?`, runID); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `INSERT INTO od_flows (run_id, origin, destination, count) VALUES (?, ?, ?, ?)`,
				runID, r.Origin, r.Destination, r.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flows returns the OD table stored for runID ordered by origin then destination.
func (s *SQLiteStore) Flows(ctx context.Context, runID string) ([]model.ODRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT origin, destination, count FROM od_flows
        WHERE run_id = ? ORDER BY origin, destination`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ODRow
	for rows.Next() {
		var r model.ODRow
		if err := rows.Scan(&r.Origin, &r.Destination, &r.Count); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
