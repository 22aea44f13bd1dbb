package scenarios

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bikeflow/core/factory"
	"github.com/kilianp07/bikeflow/core/flow"
)

// RunScenario runs sc once per matcher and checks every applicable expectation.
func RunScenario(t *testing.T, sc *Scenario, matchers ...string) {
	t.Helper()
	if len(matchers) == 0 {
		matchers = []string{flow.GreedyName, flow.OptimalName}
	}
	for _, name := range matchers {
		t.Run(name, func(t *testing.T) {
			eng, err := flow.NewEngine(flow.Config{
				BucketWidth: parseBucket(sc.Bucket).String(),
				Matcher:     factory.ModuleConfig{Type: name},
				Workers:     2,
			}, nil, nil)
			require.NoError(t, err)
			res, err := eng.Infer(context.Background(), sc.StationModels(), sc.Records())
			require.NoError(t, err)
			for _, exp := range sc.Expected {
				if !exp.appliesTo(name) {
					continue
				}
				assert.Equal(t, exp.Moved, res.Moved(), "moved")
				if rows := exp.Rows(); rows != nil {
					assert.Equal(t, rows, res.OD)
				}
			}
		})
	}
}
