package flow

import (
	"sort"

	"github.com/kilianp07/bikeflow/core/model"
)

type odKey struct{ origin, destination string }

// Aggregate sums flow counts per (origin, destination). Rows are ordered by
// origin then destination; flows with a non-positive count are ignored.
func Aggregate(flows []model.Flow) []model.ODRow {
	totals := make(map[odKey]int)
	for _, f := range flows {
		if f.Count <= 0 {
			continue
		}
		totals[odKey{f.Origin, f.Destination}] += f.Count
	}
	rows := make([]model.ODRow, 0, len(totals))
	for k, c := range totals {
		rows = append(rows, model.ODRow{Origin: k.origin, Destination: k.destination, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Origin != rows[j].Origin {
			return rows[i].Origin < rows[j].Origin
		}
		return rows[i].Destination < rows[j].Destination
	})
	return rows
}

// Merge combines partial OD tables, e.g. from independent runs over disjoint
// time ranges.
func Merge(tables ...[]model.ODRow) []model.ODRow {
	var flows []model.Flow
	for _, t := range tables {
		for _, r := range t {
			flows = append(flows, model.Flow{Origin: r.Origin, Destination: r.Destination, Count: r.Count})
		}
	}
	return Aggregate(flows)
}

// TopN returns a copy of rows sorted by count descending and truncated to n.
// n <= 0 keeps every row.
func TopN(rows []model.ODRow, n int) []model.ODRow {
	out := make([]model.ODRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		return out[i].Destination < out[j].Destination
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TotalCount sums the counts of a table.
func TotalCount(rows []model.ODRow) int {
	var t int
	for _, r := range rows {
		t += r.Count
	}
	return t
}
