// Package weather fetches hourly weather from the Open-Meteo forecast API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/bikeflow/core/logger"
	"github.com/kilianp07/bikeflow/core/model"
	logpkg "github.com/kilianp07/bikeflow/infra/logger"
)

// DefaultBaseURL is the public Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// HourlyParams lists the hourly variables requested.
var HourlyParams = []string{
	"temperature_2m",
	"precipitation",
	"rain",
	"showers",
	"snowfall",
	"cloudcover",
	"windspeed_10m",
	"relative_humidity_2m",
	"weathercode",
}

// Config defines the location the forecast is requested for.
type Config struct {
	BaseURL   string  `json:"base_url"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

// Validate checks coordinates and timezone.
func (c Config) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("weather coordinates out of range: %f,%f", c.Latitude, c.Longitude)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("weather timezone: %w", err)
		}
	}
	return nil
}

// Client calls the forecast API.
type Client struct {
	cfg  Config
	loc  *time.Location
	http *http.Client
	log  logger.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(cfg.Timezone)
	return &Client{cfg: cfg, loc: loc, http: &http.Client{Timeout: 30 * time.Second}, log: logpkg.New("weather")}, nil
}

type forecast struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

// Fetch returns hourly rows for every day between start and end inclusive.
// Times are converted to UTC.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]model.WeatherHour, error) {
	if end.Before(start) {
		return nil, errors.New("weather: end before start")
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("timezone", c.cfg.Timezone)
	q.Set("start_date", start.In(c.loc).Format(time.DateOnly))
	q.Set("end_date", end.In(c.loc).Format(time.DateOnly))
	q.Set("hourly", strings.Join(HourlyParams, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open-meteo: unexpected status %s", resp.Status)
	}
	var fc forecast
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("open-meteo: %w", err)
	}
	hours, err := c.decodeHourly(fc.Hourly)
	if err != nil {
		return nil, err
	}
	c.log.Debugw("weather fetched", map[string]any{"hours": len(hours)})
	return hours, nil
}

func (c *Client) decodeHourly(h map[string]json.RawMessage) ([]model.WeatherHour, error) {
	var times []string
	if raw, ok := h["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil, fmt.Errorf("hourly.time: %w", err)
		}
	}
	out := make([]model.WeatherHour, len(times))
	for i, ts := range times {
		t, err := time.ParseInLocation("2006-01-02T15:04", ts, c.loc)
		if err != nil {
			return nil, fmt.Errorf("hourly.time[%d]: %w", i, err)
		}
		out[i].Time = t.UTC()
	}
	floats := map[string]func(*model.WeatherHour) **float64{
		"temperature_2m":       func(w *model.WeatherHour) **float64 { return &w.Temperature },
		"precipitation":        func(w *model.WeatherHour) **float64 { return &w.Precipitation },
		"rain":                 func(w *model.WeatherHour) **float64 { return &w.Rain },
		"showers":              func(w *model.WeatherHour) **float64 { return &w.Showers },
		"snowfall":             func(w *model.WeatherHour) **float64 { return &w.Snowfall },
		"cloudcover":           func(w *model.WeatherHour) **float64 { return &w.CloudCover },
		"windspeed_10m":        func(w *model.WeatherHour) **float64 { return &w.WindSpeed },
		"relative_humidity_2m": func(w *model.WeatherHour) **float64 { return &w.Humidity },
	}
	for name, field := range floats {
		raw, ok := h[name]
		if !ok {
			continue
		}
		var vals []*float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("hourly.%s: %w", name, err)
		}
		for i := range min(len(vals), len(out)) {
			*field(&out[i]) = vals[i]
		}
	}
	if raw, ok := h["weathercode"]; ok {
		var codes []*int
		if err := json.Unmarshal(raw, &codes); err != nil {
			return nil, fmt.Errorf("hourly.weathercode: %w", err)
		}
		for i := range min(len(codes), len(out)) {
			out[i].WeatherCode = codes[i]
		}
	}
	return out, nil
}
