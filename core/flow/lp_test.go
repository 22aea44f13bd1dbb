package flow

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bikeflow/core/factory"
	"github.com/kilianp07/bikeflow/core/model"
)

func counts(flows []model.Flow) map[[2]string]int {
	m := map[[2]string]int{}
	for _, f := range flows {
		m[[2]string{f.Origin, f.Destination}] += f.Count
	}
	return m
}

func TestOptimalMatcher_BeatsGreedy(t *testing.T) {
	mk := func() ([]model.Node, []model.Node) {
		return []model.Node{dep("d1", 0, 0, 2), dep("d2", 0, 1, 1)},
			[]model.Node{arr("a1", 0, 0.9, 1), arr("a2", 0, -1, 2)}
	}

	gd, ga := mk()
	greedy := GreedyMatcher{}.Match(gd, ga)
	od, oa := mk()
	optimal, err := NewOptimalMatcher(0).MatchStrict(od, oa)
	require.NoError(t, err)

	assert.Equal(t, map[[2]string]int{{"d1", "a2"}: 2, {"d2", "a1"}: 1}, counts(optimal))
	assert.Less(t, flowCost(optimal, od, oa), flowCost(greedy, gd, ga))
	assert.Zero(t, totalRemaining(od))
	assert.Zero(t, totalRemaining(oa))
}

func TestOptimalMatcher_Imbalanced(t *testing.T) {
	deps := []model.Node{dep("d1", 0, 0, 5), dep("d2", 0, 0.5, 2)}
	arrs := []model.Node{arr("a1", 0, 0.4, 3)}

	flows, err := NewOptimalMatcher(0).MatchStrict(deps, arrs)
	require.NoError(t, err)
	assert.Equal(t, map[[2]string]int{{"d2", "a1"}: 2, {"d1", "a1"}: 1}, counts(flows))
	assert.Equal(t, 4, deps[0].Remaining)
	assert.Zero(t, deps[1].Remaining)
}

func TestOptimalMatcher_TooLargeFallsBack(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	m := NewOptimalMatcher(1)

	deps := []model.Node{dep("A", 0, 0, 5)}
	arrs := []model.Node{arr("B", 0, 0.001, 3), arr("C", 0, 10, 2)}
	_, err := m.MatchStrict(deps, arrs)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, 5, deps[0].Remaining, "nodes untouched on failure")

	flows := m.Match(deps, arrs)
	assert.Equal(t, map[[2]string]int{{"A", "B"}: 3, {"A", "C"}: 2}, counts(flows))
	assert.Equal(t, 1.0, testutil.ToFloat64(lpFallbacks))
}

func TestOptimalMatcher_SolverFailureFallsBack(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	orig := lpSolve
	defer func() { lpSolve = orig }()
	lpSolve = func([]float64, []float64, []float64, float64) ([]float64, error) {
		return nil, errors.New("singular")
	}

	deps := []model.Node{dep("A", 0, 0, 2)}
	arrs := []model.Node{arr("B", 0, 1, 2)}
	flows := NewOptimalMatcher(0).Match(deps, arrs)
	require.Len(t, flows, 1)
	assert.Equal(t, 2, flows[0].Count)
	assert.Equal(t, 1.0, testutil.ToFloat64(lpFallbacks))
}

func TestOptimalMatcher_RejectsBadSolution(t *testing.T) {
	orig := lpSolve
	defer func() { lpSolve = orig }()
	lpSolve = func(cost, _, _ []float64, _ float64) ([]float64, error) {
		return make([]float64, len(cost)), nil
	}
	deps := []model.Node{dep("A", 0, 0, 2)}
	arrs := []model.Node{arr("B", 0, 1, 2)}
	_, err := NewOptimalMatcher(0).MatchStrict(deps, arrs)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestMatcherRegistry(t *testing.T) {
	assert.Contains(t, MatcherNames(), GreedyName)
	assert.Contains(t, MatcherNames(), OptimalName)

	m, err := NewMatcher(factory.ModuleConfig{Type: OptimalName, Conf: map[string]any{"max_variables": "50"}})
	require.NoError(t, err)
	om, ok := m.(*OptimalMatcher)
	require.True(t, ok)
	assert.Equal(t, 50, om.MaxVariables)

	_, err = NewMatcher(factory.ModuleConfig{Type: "hungarian"})
	assert.Error(t, err)
}
