package flow

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/bikeflow/core/geo"
	"github.com/kilianp07/bikeflow/core/logger"
	"github.com/kilianp07/bikeflow/core/model"
)

// DefaultMaxVariables bounds the size of the LP built for one bucket.
const DefaultMaxVariables = 900

// ErrInfeasible indicates the LP solution could not be turned into a valid
// integral assignment.
var ErrInfeasible = errors.New("lp infeasible")

// ErrTooLarge indicates the bucket has more departure/arrival pairs than the
// matcher accepts.
var ErrTooLarge = errors.New("lp too large")

// OptimalMatcher solves the transportation problem of one bucket: it moves
// min(total departures, total arrivals) bikes at minimum total distance.
// When the problem is too large or the solver fails, it falls back to the
// greedy matcher.
type OptimalMatcher struct {
	MaxVariables int
	Fallback     Matcher
	Logger       logger.Logger
}

// NewOptimalMatcher returns an LP-based matcher. maxVars <= 0 selects
// DefaultMaxVariables.
func NewOptimalMatcher(maxVars int) *OptimalMatcher {
	if maxVars <= 0 {
		maxVars = DefaultMaxVariables
	}
	return &OptimalMatcher{MaxVariables: maxVars, Fallback: GreedyMatcher{}, Logger: logger.NopLogger{}}
}

// SetLogger replaces the logger used to report fallbacks.
func (m *OptimalMatcher) SetLogger(l logger.Logger) { m.Logger = logger.OrNop(l) }

// Match implements Matcher.
func (m *OptimalMatcher) Match(departures, arrivals []model.Node) []model.Flow {
	flows, err := m.MatchStrict(departures, arrivals)
	if err == nil {
		return flows
	}
	lpFallbacks.Inc()
	logger.OrNop(m.Logger).Warnf("lp matching failed, using greedy: %v", err)
	fb := m.Fallback
	if fb == nil {
		fb = GreedyMatcher{}
	}
	return fb.Match(departures, arrivals)
}

// MatchStrict solves the LP and reports any failure instead of falling back.
// Nodes are only decremented on success.
func (m *OptimalMatcher) MatchStrict(departures, arrivals []model.Node) ([]model.Flow, error) {
	dep := active(departures)
	arr := active(arrivals)
	if len(dep) == 0 || len(arr) == 0 {
		return nil, nil
	}
	nVars := len(dep) * len(arr)
	if limit := m.MaxVariables; limit > 0 && nVars > limit {
		return nil, fmt.Errorf("%w: %d pairs > %d", ErrTooLarge, nVars, limit)
	}

	supply := make([]float64, len(dep))
	for i, d := range dep {
		supply[i] = float64(departures[d].Remaining)
	}
	demand := make([]float64, len(arr))
	for j, a := range arr {
		demand[j] = float64(arrivals[a].Remaining)
	}
	cost := make([]float64, nVars)
	for i, d := range dep {
		for j, a := range arr {
			o, t := departures[d], arrivals[a]
			cost[i*len(arr)+j] = geo.Haversine(o.Lat, o.Lon, t.Lat, t.Lon)
		}
	}
	target := math.Min(sum(supply), sum(demand))

	x, err := lpSolve(cost, supply, demand, target)
	if err != nil {
		return nil, err
	}

	counts := make([]int, nVars)
	var moved int
	for k, v := range x {
		c := int(math.Round(v))
		if c < 0 {
			c = 0
		}
		counts[k] = c
		moved += c
	}
	if float64(moved) != target {
		return nil, fmt.Errorf("%w: moved %d of %.0f", ErrInfeasible, moved, target)
	}
	for i := range dep {
		var out int
		for j := range arr {
			out += counts[i*len(arr)+j]
		}
		if float64(out) > supply[i] {
			return nil, fmt.Errorf("%w: departure %s over-drained", ErrInfeasible, departures[dep[i]].StationID)
		}
	}
	for j := range arr {
		var in int
		for i := range dep {
			in += counts[i*len(arr)+j]
		}
		if float64(in) > demand[j] {
			return nil, fmt.Errorf("%w: arrival %s over-filled", ErrInfeasible, arrivals[arr[j]].StationID)
		}
	}

	var flows []model.Flow
	for i, d := range dep {
		for j, a := range arr {
			c := counts[i*len(arr)+j]
			if c == 0 {
				continue
			}
			flows = append(flows, model.Flow{Origin: departures[d].StationID, Destination: arrivals[a].StationID, Count: c})
			departures[d].Remaining -= c
			arrivals[a].Remaining -= c
		}
	}
	return flows, nil
}

// solveTransport minimises cost·x subject to row sums <= supply, column sums
// <= demand and total = target, using gonum's simplex. The problem is written
// directly in standard form with one slack variable per supply and demand
// row, so x >= 0 comes for free:
//
//	[ R  I  0 ] [x ]   [supply]
//	[ C  0  I ] [su] = [demand]
//	[ 1  0  0 ] [sd]   [target]
func solveTransport(cost, supply, demand []float64, target float64) ([]float64, error) {
	nd, na := len(supply), len(demand)
	n := nd * na
	cols := n + nd + na

	a := mat.NewDense(nd+na+1, cols, nil)
	b := make([]float64, nd+na+1)
	for i := 0; i < nd; i++ {
		for j := 0; j < na; j++ {
			a.Set(i, i*na+j, 1)
		}
		a.Set(i, n+i, 1)
		b[i] = supply[i]
	}
	for j := 0; j < na; j++ {
		for i := 0; i < nd; i++ {
			a.Set(nd+j, i*na+j, 1)
		}
		a.Set(nd+j, n+nd+j, 1)
		b[nd+j] = demand[j]
	}
	for k := 0; k < n; k++ {
		a.Set(nd+na, k, 1)
	}
	b[nd+na] = target

	c := make([]float64, cols)
	copy(c, cost)

	_, sol, err := lp.Simplex(c, a, b, 1e-9, nil)
	if err != nil {
		return nil, err
	}
	return sol[:n], nil
}

// lpSolve can be overridden in tests to simulate solver failures.
var lpSolve = solveTransport

func active(ns []model.Node) []int {
	var idx []int
	for i, n := range ns {
		if n.Remaining > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}
