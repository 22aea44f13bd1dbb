package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord is wrapped by every ValidationError.
var ErrInvalidRecord = errors.New("invalid status record")

// ValidationError identifies the status record that failed validation.
type ValidationError struct {
	Index     int
	StationID string
	Field     string
	Value     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d (station %q): %s %q: %s", e.Index, e.StationID, e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// Layouts accepted for scraped_at, tried in order. Values without an offset
// are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without offset.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ValidateRecords converts raw status records into observations. It stops at
// the first invalid record and returns a *ValidationError describing it.
func ValidateRecords(records []StatusRecord) ([]Observation, error) {
	obs := make([]Observation, 0, len(records))
	for i, r := range records {
		if r.StationID == "" {
			return nil, &ValidationError{Index: i, Field: "station_id", Reason: "empty"}
		}
		ts, err := ParseTimestamp(r.ScrapedAt)
		if err != nil {
			return nil, &ValidationError{Index: i, StationID: r.StationID, Field: "scraped_at", Value: r.ScrapedAt, Reason: "unparsable timestamp"}
		}
		bikes := r.BikesAvailable
		if bikes.IsNegative() {
			return nil, &ValidationError{Index: i, StationID: r.StationID, Field: "num_bikes_available", Value: bikes.String(), Reason: "negative"}
		}
		if !bikes.IsInteger() {
			return nil, &ValidationError{Index: i, StationID: r.StationID, Field: "num_bikes_available", Value: bikes.String(), Reason: "not an integer"}
		}
		obs = append(obs, Observation{StationID: r.StationID, Timestamp: ts, BikesAvailable: int(bikes.IntPart())})
	}
	return obs, nil
}
