package allocation

import (
	"context"
	"testing"

	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frontierProblem() portfolio.Problem {
	return portfolio.Problem{
		Returns: []float64{0.09, 0.04, 0.06, 0.08},
		Covariance: [][]float64{
			{0.030, 0.002, 0.004, 0.010},
			{0.002, 0.015, -0.001, 0.000},
			{0.004, -0.001, 0.020, 0.003},
			{0.010, 0.000, 0.003, 0.025},
		},
	}
}

func TestSolve(t *testing.T) {
	p := frontierProblem()
	p.Target = 0.07
	res, err := Solve(context.Background(), p, portfolio.DefaultSettings())
	require.NoError(t, err)
	assert.InDelta(t, 0.07, res.Return, 1e-9)

	p.Target = 0.2
	_, err = Solve(context.Background(), p, portfolio.DefaultSettings())
	assert.ErrorIs(t, err, portfolio.ErrTargetUnreachable)
}

func TestSweepSpansAchievableRange(t *testing.T) {
	frontier, err := Sweep(context.Background(), frontierProblem(), portfolio.DefaultSettings(), 11, 3)
	require.NoError(t, err)
	require.Len(t, frontier, 11)

	assert.Equal(t, 0.04, frontier[0].Target)
	assert.Equal(t, 0.09, frontier[10].Target)

	minIdx := 0
	for i, pt := range frontier {
		require.Empty(t, pt.Error, "point %d", i)
		assert.InDelta(t, pt.Target, pt.Return, 1e-9)
		if pt.Volatility < frontier[minIdx].Volatility {
			minIdx = i
		}
	}
	// Above the minimum-variance portfolio, volatility rises with return.
	for i := minIdx + 1; i < len(frontier); i++ {
		assert.GreaterOrEqual(t, frontier[i].Volatility, frontier[i-1].Volatility-1e-12, "point %d", i)
	}
	// Below it, volatility falls as return rises.
	for i := 1; i <= minIdx; i++ {
		assert.LessOrEqual(t, frontier[i].Volatility, frontier[i-1].Volatility+1e-12, "point %d", i)
	}
}

func TestSweepRejectsBadInput(t *testing.T) {
	_, err := Sweep(context.Background(), frontierProblem(), portfolio.DefaultSettings(), 1, 0)
	assert.Error(t, err)

	p := frontierProblem()
	p.Covariance[0][1] = 0.5
	_, err = Sweep(context.Background(), p, portfolio.DefaultSettings(), 5, 0)
	assert.ErrorIs(t, err, portfolio.ErrInvalidInput)

	p = frontierProblem()
	p.Bounds = []portfolio.Bound{{0, 0.2}, {0, 0.2}, {0, 0.2}, {0, 0.2}}
	_, err = Sweep(context.Background(), p, portfolio.DefaultSettings(), 5, 0)
	assert.ErrorIs(t, err, portfolio.ErrInfeasible)
}

func TestSummarize(t *testing.T) {
	p := frontierProblem()
	p.Target = 0.09
	res, err := portfolio.Optimize(p)
	require.NoError(t, err)

	summary, err := Summarize(nil, p, res, portfolio.Settings{})
	require.NoError(t, err)
	assert.Equal(t, "Asset 1", summary.Allocations[0].Name)
	assert.Equal(t, 0.09, summary.AchievableMax)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "highest achievable")
}
