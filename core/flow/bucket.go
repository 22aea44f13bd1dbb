package flow

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/bikeflow/core/model"
)

// FloorTime returns the start of the width-sized window containing ts,
// counting windows from the Unix epoch. Instants before the epoch floor
// towards the past.
func FloorTime(ts time.Time, width time.Duration) time.Time {
	ns, w := ts.UnixNano(), width.Nanoseconds()
	r := ns % w
	if r < 0 {
		r += w
	}
	return time.Unix(0, ns-r).UTC()
}

type bucketKey struct {
	station string
	bucket  time.Time
}

// Bucketize keeps one reading per (station, bucket): the observation with the
// latest timestamp, later input winning on equal timestamps. Buckets are
// obtained by flooring timestamps to a multiple of width since the Unix epoch.
// The result is ordered by station id then bucket.
func Bucketize(obs []model.Observation, width time.Duration) ([]model.BucketedReading, error) {
	if width <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %s", width)
	}
	last := make(map[bucketKey]model.Observation, len(obs))
	for _, o := range obs {
		k := bucketKey{station: o.StationID, bucket: FloorTime(o.Timestamp, width)}
		if prev, ok := last[k]; ok && o.Timestamp.Before(prev.Timestamp) {
			continue
		}
		last[k] = o
	}
	res := make([]model.BucketedReading, 0, len(last))
	for k, o := range last {
		res = append(res, model.BucketedReading{StationID: k.station, Bucket: k.bucket, BikesAvailable: o.BikesAvailable})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].StationID != res[j].StationID {
			return res[i].StationID < res[j].StationID
		}
		return res[i].Bucket.Before(res[j].Bucket)
	})
	return res, nil
}
