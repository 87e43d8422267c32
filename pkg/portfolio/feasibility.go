package portfolio

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Range is the interval of portfolio returns reachable by fully invested
// allocations within the bounds, together with the allocations attaining
// each end.
type Range struct {
	Min        float64
	Max        float64
	MinWeights []float64
	MaxWeights []float64
}

// Contains reports whether target lies in the range widened by tolerance.
func (r Range) Contains(target, tolerance float64) bool {
	return target >= r.Min-tolerance && target <= r.Max+tolerance
}

// AchievableRange solves the two linear programs min/max w·r subject to
// sum(w) = 1 and the bounds. A nil bounds slice means [0, 1] per asset.
func AchievableRange(returns []float64, bounds []Bound) (Range, error) {
	if bounds == nil {
		bounds = DefaultBounds(len(returns))
	}
	if len(bounds) != len(returns) {
		return Range{}, fmt.Errorf("%w: %d bounds for %d assets", ErrInvalidInput, len(bounds), len(returns))
	}
	return achievableRange(returns, bounds, DefaultSettings().Tolerance)
}

func achievableRange(returns []float64, bounds []Bound, tolerance float64) (Range, error) {
	var lowerSum, upperSum float64
	for _, b := range bounds {
		lowerSum += b.Lower
		upperSum += b.Upper
	}
	if lowerSum > 1+tolerance {
		return Range{}, fmt.Errorf("%w: lower bounds sum to %g, above the full budget", ErrInfeasible, lowerSum)
	}
	if upperSum < 1-tolerance {
		return Range{}, fmt.Errorf("%w: upper bounds sum to %g, below the full budget", ErrInfeasible, upperSum)
	}

	maxWeights := fillBudget(returns, bounds, true)
	minWeights := fillBudget(returns, bounds, false)
	return Range{
		Min:        floats.Dot(minWeights, returns),
		Max:        floats.Dot(maxWeights, returns),
		MinWeights: minWeights,
		MaxWeights: maxWeights,
	}, nil
}

// fillBudget is the exact solution of a box-and-budget LP: start every asset
// at its lower bound, then hand the remaining budget to assets in order of
// return (descending when maximize) up to their upper bounds. Ties keep index
// order.
func fillBudget(returns []float64, bounds []Bound, maximize bool) []float64 {
	n := len(returns)
	weights := make([]float64, n)
	order := make([]int, n)
	remaining := 1.0
	for i, b := range bounds {
		weights[i] = b.Lower
		remaining -= b.Lower
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if maximize {
			return returns[order[a]] > returns[order[b]]
		}
		return returns[order[a]] < returns[order[b]]
	})

	for _, i := range order {
		if remaining <= 0 {
			break
		}
		room := bounds[i].Upper - bounds[i].Lower
		add := room
		if remaining < room {
			add = remaining
		}
		weights[i] += add
		remaining -= add
	}
	return weights
}
