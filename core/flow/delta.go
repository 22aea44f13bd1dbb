package flow

import (
	"sort"

	"github.com/kilianp07/bikeflow/core/model"
)

// ComputeDeltas returns, for every reading, the change since the previous
// bucket of the same station. The first bucket of a station has delta 0.
// Input order does not matter; output is ordered by station then bucket.
func ComputeDeltas(readings []model.BucketedReading) []model.DeltaRecord {
	sorted := make([]model.BucketedReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StationID != sorted[j].StationID {
			return sorted[i].StationID < sorted[j].StationID
		}
		return sorted[i].Bucket.Before(sorted[j].Bucket)
	})

	res := make([]model.DeltaRecord, len(sorted))
	for i, r := range sorted {
		d := 0
		if i > 0 && sorted[i-1].StationID == r.StationID {
			d = r.BikesAvailable - sorted[i-1].BikesAvailable
		}
		res[i] = model.DeltaRecord{StationID: r.StationID, Bucket: r.Bucket, Delta: d}
	}
	return res
}
