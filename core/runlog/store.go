package runlog

import (
	"context"
	"time"

	"github.com/kilianp07/bikeflow/core/model"
)

// RunRecord captures one inference run and its busiest OD pairs.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Matcher     string        `json:"matcher"`
	BucketWidth string        `json:"bucket_width"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Buckets     int           `json:"buckets"`
	Departures  int           `json:"departures"`
	Arrivals    int           `json:"arrivals"`
	Moved       int           `json:"moved"`
	DurationMS  int64         `json:"duration_ms"`
	Top         []model.ODRow `json:"top"`
	Error       string        `json:"error,omitempty"`
}

// RunQuery defines filters for retrieving records. Zero values match all.
type RunQuery struct {
	RunID     string
	Start     time.Time
	End       time.Time
	Matcher   string
	StationID string
	// Limit keeps only the most recent records when positive.
	Limit int
}

// Store persists RunRecords and supports querying.
type Store interface {
	Append(ctx context.Context, rec RunRecord) error
	Query(ctx context.Context, q RunQuery) ([]RunRecord, error)
	Close() error
}

func (q RunQuery) matches(r RunRecord) bool {
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Matcher != "" && r.Matcher != q.Matcher {
		return false
	}
	if q.StationID == "" {
		return true
	}
	for _, row := range r.Top {
		if row.Origin == q.StationID || row.Destination == q.StationID {
			return true
		}
	}
	return false
}

func (q RunQuery) limit(recs []RunRecord) []RunRecord {
	if q.Limit > 0 && len(recs) > q.Limit {
		return recs[len(recs)-q.Limit:]
	}
	return recs
}

// NopStore discards every record.
type NopStore struct{}

func (NopStore) Append(context.Context, RunRecord) error              { return nil }
func (NopStore) Query(context.Context, RunQuery) ([]RunRecord, error) { return nil, nil }
func (NopStore) Close() error                                         { return nil }
