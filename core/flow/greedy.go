package flow

import (
	"math"

	"github.com/kilianp07/bikeflow/core/geo"
	"github.com/kilianp07/bikeflow/core/model"
)

// GreedyMatcher repeatedly drains the departure with the most bikes left into
// its nearest arrival that still has room. Ties on either choice go to the
// smallest station id. It runs in O(D×A) per round and does not look for a
// globally optimal assignment; any imbalance is left unmatched.
type GreedyMatcher struct{}

func (GreedyMatcher) Match(departures, arrivals []model.Node) []model.Flow {
	var flows []model.Flow
	for {
		dep := largestDeparture(departures)
		if dep == nil {
			break
		}
		arr := nearestArrival(dep, arrivals)
		if arr == nil {
			break
		}
		n := min(dep.Remaining, arr.Remaining)
		flows = append(flows, model.Flow{Origin: dep.StationID, Destination: arr.StationID, Count: n})
		dep.Remaining -= n
		arr.Remaining -= n
	}
	return flows
}

func largestDeparture(ns []model.Node) *model.Node {
	var best *model.Node
	for i := range ns {
		n := &ns[i]
		if n.Remaining <= 0 {
			continue
		}
		if best == nil || n.Remaining > best.Remaining ||
			(n.Remaining == best.Remaining && n.StationID < best.StationID) {
			best = n
		}
	}
	return best
}

func nearestArrival(from *model.Node, ns []model.Node) *model.Node {
	var best *model.Node
	bestDist := math.MaxFloat64
	for i := range ns {
		n := &ns[i]
		if n.Remaining <= 0 {
			continue
		}
		d := geo.Haversine(from.Lat, from.Lon, n.Lat, n.Lon)
		if best == nil || d < bestDist || (d == bestDist && n.StationID < best.StationID) {
			best = n
			bestDist = d
		}
	}
	return best
}
