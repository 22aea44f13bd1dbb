package model

import "time"

// BucketedReading is the representative reading of a station for one bucket.
type BucketedReading struct {
	StationID      string
	Bucket         time.Time
	BikesAvailable int
}

// DeltaRecord is the net change of a station between two consecutive buckets.
// Negative values are net departures, positive values net arrivals.
type DeltaRecord struct {
	StationID string
	Bucket    time.Time
	Delta     int
}

// NodeKind tells whether a node loses or gains bikes within a bucket.
type NodeKind int

const (
	Departure NodeKind = iota
	Arrival
)

func (k NodeKind) String() string {
	if k == Arrival {
		return "arrival"
	}
	return "departure"
}

// Node is a station taking part in the matching of one bucket.
// Remaining is mutated by the matcher that owns the node.
type Node struct {
	StationID string
	Lat       float64
	Lon       float64
	Kind      NodeKind
	Remaining int
}

// Flow is an inferred movement of Count bikes inside a single bucket.
type Flow struct {
	Bucket      time.Time `json:"bucket"`
	Origin      string    `json:"origin_station_id"`
	Destination string    `json:"destination_station_id"`
	Count       int       `json:"count"`
}

// ODRow is one line of the aggregated origin-destination table.
type ODRow struct {
	Origin      string `json:"origin_station_id"`
	Destination string `json:"destination_station_id"`
	Count       int    `json:"count"`
}
