package flow

import (
	"sort"

	"github.com/kilianp07/bikeflow/core/factory"
	"github.com/kilianp07/bikeflow/core/model"
)

// Matcher pairs the departures of one bucket with its arrivals.
//
// Implementations own the given nodes for the duration of the call and may
// decrement Remaining in place. They must be safe for concurrent use across
// buckets. Returned flows have no bucket set and a positive Count.
type Matcher interface {
	Match(departures, arrivals []model.Node) []model.Flow
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(departures, arrivals []model.Node) []model.Flow

func (f MatcherFunc) Match(departures, arrivals []model.Node) []model.Flow {
	return f(departures, arrivals)
}

const (
	GreedyName  = "greedy"
	OptimalName = "lp"
)

var matcherRegistry = factory.NewRegistry[Matcher]()

func init() {
	_ = RegisterMatcher(GreedyName, func(map[string]any) (Matcher, error) {
		return GreedyMatcher{}, nil
	})
	_ = RegisterMatcher(OptimalName, func(conf map[string]any) (Matcher, error) {
		var c struct {
			MaxVariables int `json:"max_variables"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewOptimalMatcher(c.MaxVariables), nil
	})
}

// RegisterMatcher adds a matching strategy under name.
func RegisterMatcher(name string, f factory.Factory[Matcher]) error {
	return matcherRegistry.Register(name, f)
}

// NewMatcher builds the matcher described by cfg.
func NewMatcher(cfg factory.ModuleConfig) (Matcher, error) {
	return matcherRegistry.Create(cfg)
}

// MatcherNames lists the registered strategies.
func MatcherNames() []string { return matcherRegistry.Names() }

// BuildNodes splits the deltas of one bucket into departure and arrival nodes.
// Stations missing from idx and zero deltas are skipped. Both slices are
// ordered by station id.
func BuildNodes(deltas []model.DeltaRecord, idx model.StationIndex) (departures, arrivals []model.Node) {
	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		st, ok := idx[d.StationID]
		if !ok {
			continue
		}
		n := model.Node{StationID: d.StationID, Lat: st.Lat, Lon: st.Lon}
		if d.Delta < 0 {
			n.Kind = model.Departure
			n.Remaining = -d.Delta
			departures = append(departures, n)
		} else {
			n.Kind = model.Arrival
			n.Remaining = d.Delta
			arrivals = append(arrivals, n)
		}
	}
	byID := func(ns []model.Node) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].StationID < ns[j].StationID })
	}
	byID(departures)
	byID(arrivals)
	return departures, arrivals
}

func totalRemaining(ns []model.Node) int {
	var t int
	for _, n := range ns {
		t += n.Remaining
	}
	return t
}
