package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// equalitySolution minimizes wᵀΣw over the free variables with every fixed
// variable held at its current value, subject to the budget and (when the
// free returns are not all equal) the target return.
type equalitySolution struct {
	weights []float64
	// budget and ret are the multipliers of the two equality rows, using the
	// convention ∇f = budget·1 + ret·r on the free variables.
	budget float64
	ret    float64
}

// solveEquality builds and solves the KKT system
//
//	[2Σ_SS  Aᵀ] [x]   [-2Σ_SF w_F  ]
//	[A      0 ] [ν] = [b - A_F w_F ]
//
// where S are the free variables and F the fixed ones.
func (s *solver) solveEquality(w []float64) (equalitySolution, error) {
	free := s.freeIndices()
	m := len(free)
	k := s.rank(free)
	if m == 0 || k == 0 {
		return equalitySolution{}, fmt.Errorf("%w: no free variables left", ErrInfeasible)
	}
	size := m + k

	var fixedBudget, fixedReturn float64
	for j, st := range s.state {
		if st != Free {
			fixedBudget += w[j]
			fixedReturn += s.returns[j] * w[j]
		}
	}

	kkt := mat.NewDense(size, size, nil)
	rhs := mat.NewVecDense(size, nil)
	for a, i := range free {
		var coupling float64
		for j, st := range s.state {
			if st != Free {
				coupling += s.sigma.At(i, j) * w[j]
			}
		}
		rhs.SetVec(a, -2*coupling)
		for b, j := range free {
			kkt.Set(a, b, 2*s.sigma.At(i, j))
		}
		kkt.Set(a, m, 1)
		kkt.Set(m, a, 1)
		if k == 2 {
			kkt.Set(a, m+1, s.returns[i])
			kkt.Set(m+1, a, s.returns[i])
		}
	}
	rhs.SetVec(m, 1-fixedBudget)
	if k == 2 {
		rhs.SetVec(m+1, s.target-fixedReturn)
	}

	var lu mat.LU
	lu.Factorize(kkt)
	if cond := lu.Cond(); math.IsNaN(cond) || cond > s.settings.MaxCondition {
		return equalitySolution{}, fmt.Errorf("%w: reduced system over %d free assets is singular (condition %g)",
			ErrIllConditioned, m, cond)
	}
	x := mat.NewVecDense(size, nil)
	if err := lu.SolveVecTo(x, false, rhs); err != nil {
		return equalitySolution{}, fmt.Errorf("%w: %v", ErrIllConditioned, err)
	}

	sol := equalitySolution{weights: append([]float64(nil), w...)}
	for a, i := range free {
		sol.weights[i] = x.AtVec(a)
	}
	sol.budget = -x.AtVec(m)
	if k == 2 {
		sol.ret = -x.AtVec(m + 1)
	}
	return sol, nil
}

// rank is the rank of the budget and return rows restricted to idx: the two
// rows are dependent exactly when the returns in idx are all equal.
func (s *solver) rank(idx []int) int {
	if len(idx) == 0 {
		return 0
	}
	lo, hi := s.returns[idx[0]], s.returns[idx[0]]
	for _, i := range idx[1:] {
		lo = math.Min(lo, s.returns[i])
		hi = math.Max(hi, s.returns[i])
	}
	if hi-lo <= s.settings.Tolerance {
		return 1
	}
	return 2
}
