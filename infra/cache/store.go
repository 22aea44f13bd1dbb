package cache

import (
	"context"
	"time"

	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/publish"
)

// Store is implemented by Cache and Memory.
type Store interface {
	PutStations(ctx context.Context, stations []model.Station) error
	Stations(ctx context.Context) ([]model.Station, error)
	PutLatest(ctx context.Context, msg publish.RunMessage, flows []model.Flow) error
	Latest(ctx context.Context) (publish.RunMessage, error)
	TopPairs(ctx context.Context, n int) ([]model.ODRow, error)
	Close() error
}

var (
	_ Store = (*Cache)(nil)
	_ Store = (*Memory)(nil)
)

// newBuckets keeps the flows of buckets after through and returns the new
// high-water mark. Successive runs over overlapping windows only contribute
// buckets no earlier run has covered.
func newBuckets(flows []model.Flow, through, to time.Time) ([]model.Flow, time.Time) {
	var fresh []model.Flow
	mark := through
	for _, f := range flows {
		if f.Bucket.After(through) {
			fresh = append(fresh, f)
		}
		if f.Bucket.After(mark) {
			mark = f.Bucket
		}
	}
	if to.After(mark) {
		mark = to
	}
	return fresh, mark
}

// Open returns a Redis cache when cfg has an address and a Memory cache otherwise.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if !cfg.Enabled() {
		return NewMemory(), nil
	}
	c, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
