package model

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Station is a docking station with a fixed location.
type Station struct {
	ID       string  `json:"station_id"`
	Name     string  `json:"name,omitempty"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Capacity int     `json:"capacity,omitempty"`
}

// Point returns the station location. orb points are (lon, lat).
func (s Station) Point() orb.Point {
	return orb.Point{s.Lon, s.Lat}
}

// StatusRecord is one raw row of the status series as read from storage or a feed.
// ScrapedAt is kept as text so malformed values can be reported instead of dropped.
type StatusRecord struct {
	StationID      string          `json:"station_id"`
	ScrapedAt      string          `json:"scraped_at"`
	BikesAvailable decimal.Decimal `json:"num_bikes_available"`
}

// Observation is a validated status reading.
type Observation struct {
	StationID      string
	Timestamp      time.Time
	BikesAvailable int
}

// StationIndex maps station ids to stations.
type StationIndex map[string]Station

// IndexStations builds a StationIndex. Later duplicates overwrite earlier ones.
func IndexStations(stations []Station) StationIndex {
	idx := make(StationIndex, len(stations))
	for _, s := range stations {
		idx[s.ID] = s
	}
	return idx
}

// Bound returns the bounding box covering every indexed station.
func (idx StationIndex) Bound() orb.Bound {
	var mp orb.MultiPoint
	for _, s := range idx {
		mp = append(mp, s.Point())
	}
	return mp.Bound()
}
