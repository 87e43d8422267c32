// Package portfolio computes minimum-variance allocations that reach a target
// expected return while staying fully invested and within per-asset bounds.
//
// The solver works on the quadratic form wᵀΣw rather than its square root,
// checks reachability of the target with two linear programs before starting,
// and then runs a primal active-set method whose subproblems are solved exactly
// through their KKT systems. It holds no state between calls and is safe for
// concurrent use.
package portfolio

import (
	"fmt"
	"math"

	"github.com/iwvelando/portfolio-optimizer/pkg/mathutil"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Optimize solves p with DefaultSettings.
func Optimize(p Problem) (*Result, error) {
	return OptimizeWithSettings(p, DefaultSettings())
}

// OptimizeWithSettings minimizes portfolio variance subject to
//
//	sum(w) = 1, w·r = target, lower_i <= w_i <= upper_i
//
// On failure the returned error wraps ErrInvalidInput, ErrIllConditioned,
// ErrTargetUnreachable or ErrInfeasible and the result is nil.
func OptimizeWithSettings(p Problem, s Settings) (*Result, error) {
	s = s.normalized(p.Size())

	sigma, bounds, err := p.validate(s)
	if err != nil {
		return nil, err
	}
	if err := checkPSD(sigma, s.PSDTolerance); err != nil {
		return nil, err
	}

	rng, err := achievableRange(p.Returns, bounds, s.Tolerance)
	if err != nil {
		return nil, err
	}
	if !rng.Contains(p.Target, s.Tolerance) {
		return nil, fmt.Errorf("%w: target %g outside achievable range [%g, %g]",
			ErrTargetUnreachable, p.Target, rng.Min, rng.Max)
	}

	sol := newSolver(sigma, p.Returns, bounds, p.Target, s)
	weights, iterations, err := sol.run(startingPoint(rng, p.Target))
	if err != nil {
		return nil, err
	}
	return sol.finish(weights, iterations)
}

// finish clamps near-bound weights, verifies every constraint and computes
// the portfolio statistics.
func (s *solver) finish(w []float64, iterations int) (*Result, error) {
	tol := s.settings.Tolerance
	binding := make([]BoundState, len(w))
	for i := range w {
		if math.IsNaN(w[i]) {
			return nil, fmt.Errorf("%w: weight %d is NaN", ErrIllConditioned, i)
		}
		b := s.bounds[i]
		if w[i] < b.Lower-tol || w[i] > b.Upper+tol {
			return nil, fmt.Errorf("%w: weight %d = %g violates bounds [%g, %g]", ErrInfeasible, i, w[i], b.Lower, b.Upper)
		}
		w[i] = mathutil.Clamp(w[i], b.Lower, b.Upper)
		switch {
		case mathutil.WithinTolerance(w[i], b.Lower, tol):
			w[i] = b.Lower
			binding[i] = AtLower
		case mathutil.WithinTolerance(w[i], b.Upper, tol):
			w[i] = b.Upper
			binding[i] = AtUpper
		}
	}

	residualTol := tol * float64(len(w))
	if sum := floats.Sum(w); !mathutil.WithinTolerance(sum, 1, residualTol) {
		return nil, fmt.Errorf("%w: weights sum to %g", ErrInfeasible, sum)
	}
	achieved := floats.Dot(w, s.returns)
	if !mathutil.WithinTolerance(achieved, s.target, residualTol) {
		return nil, fmt.Errorf("%w: achieved return %g misses target %g", ErrInfeasible, achieved, s.target)
	}

	variance := Variance(s.sigma, w)
	return &Result{
		Weights:    w,
		Return:     achieved,
		Variance:   variance,
		Volatility: math.Sqrt(variance),
		Iterations: iterations,
		Binding:    binding,
	}, nil
}

// Variance returns wᵀΣw, floored at zero to absorb rounding on singular Σ.
func Variance(sigma mat.Symmetric, w []float64) float64 {
	v := mat.NewVecDense(len(w), append([]float64(nil), w...))
	return math.Max(0, mat.Inner(v, sigma, v))
}

// Volatility returns sqrt(wᵀΣw) for a covariance given as nested slices.
// It panics if the shapes disagree.
func Volatility(covariance [][]float64, w []float64) float64 {
	n := len(w)
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, covariance[i][j])
		}
	}
	return math.Sqrt(Variance(sigma, w))
}
