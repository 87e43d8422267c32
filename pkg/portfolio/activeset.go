package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// solver runs a primal active-set method over the bound constraints. The
// budget and target rows are always active; state marks which bounds are in
// the working set.
type solver struct {
	sigma    *mat.SymDense
	returns  []float64
	bounds   []Bound
	target   float64
	settings Settings
	state    []BoundState
	fullRank int
}

func newSolver(sigma *mat.SymDense, returns []float64, bounds []Bound, target float64, settings Settings) *solver {
	s := &solver{
		sigma:    sigma,
		returns:  returns,
		bounds:   bounds,
		target:   target,
		settings: settings,
		state:    make([]BoundState, len(returns)),
	}
	all := make([]int, len(returns))
	for i := range all {
		all[i] = i
	}
	s.fullRank = s.rank(all)
	return s
}

// startingPoint blends the range's extreme allocations so that the result
// meets the budget, the bounds and the target at once.
func startingPoint(r Range, target float64) []float64 {
	theta := 0.0
	if width := r.Max - r.Min; width > 0 {
		theta = math.Max(0, math.Min(1, (target-r.Min)/width))
	}
	w := make([]float64, len(r.MinWeights))
	for i := range w {
		w[i] = theta*r.MaxWeights[i] + (1-theta)*r.MinWeights[i]
	}
	return w
}

func (s *solver) freeIndices() []int {
	free := make([]int, 0, len(s.state))
	for i, st := range s.state {
		if st == Free {
			free = append(free, i)
		}
	}
	return free
}

// initWorkingSet fixes the bounds active at w, skipping any whose addition
// would make the equality rows over the remaining free variables lose rank.
func (s *solver) initWorkingSet(w []float64) {
	tol := s.settings.Tolerance
	for i := range w {
		var st BoundState
		switch {
		case w[i] <= s.bounds[i].Lower+tol:
			st = AtLower
		case w[i] >= s.bounds[i].Upper-tol:
			st = AtUpper
		default:
			continue
		}

		s.state[i] = st
		if s.rank(s.freeIndices()) < s.fullRank {
			s.state[i] = Free
			continue
		}
		w[i] = s.boundValue(i, st)
	}
}

func (s *solver) boundValue(i int, st BoundState) float64 {
	if st == AtUpper {
		return s.bounds[i].Upper
	}
	return s.bounds[i].Lower
}

// run iterates from the feasible point w until the bound multipliers confirm
// optimality. It returns the optimal weights and the iteration count.
func (s *solver) run(w []float64) ([]float64, int, error) {
	s.initWorkingSet(w)
	tol := s.settings.Tolerance

	for iter := 1; iter <= s.settings.MaxIterations; iter++ {
		eq, err := s.solveEquality(w)
		if err != nil {
			return nil, iter, err
		}

		step := make([]float64, len(w))
		var stepSize float64
		for i, st := range s.state {
			if st == Free {
				step[i] = eq.weights[i] - w[i]
				stepSize = math.Max(stepSize, math.Abs(step[i]))
			}
		}

		if stepSize <= tol {
			copy(w, eq.weights)
			release := s.mostViolated(w, eq)
			if release < 0 {
				return w, iter, nil
			}
			s.state[release] = Free
			continue
		}

		alpha, blocking, blockState := s.stepLength(w, step)
		for i := range w {
			w[i] += alpha * step[i]
		}
		if blocking >= 0 {
			s.state[blocking] = blockState
			w[blocking] = s.boundValue(blocking, blockState)
		}
	}

	return nil, s.settings.MaxIterations, fmt.Errorf("%w: active-set search did not converge within %d iterations",
		ErrInfeasible, s.settings.MaxIterations)
}

// stepLength returns the largest alpha in [0, 1] keeping w+alpha*step within
// the bounds, and the first bound that blocks it (-1 when none does).
func (s *solver) stepLength(w, step []float64) (float64, int, BoundState) {
	alpha := 1.0
	blocking := -1
	blockState := Free
	for i, p := range step {
		if s.state[i] != Free || p == 0 {
			continue
		}
		var ratio float64
		var st BoundState
		if p < 0 {
			ratio = (s.bounds[i].Lower - w[i]) / p
			st = AtLower
		} else {
			ratio = (s.bounds[i].Upper - w[i]) / p
			st = AtUpper
		}
		if ratio < alpha {
			alpha = ratio
			blocking = i
			blockState = st
		}
	}
	return math.Max(alpha, 0), blocking, blockState
}

// mostViolated returns the working-set bound whose multiplier has the wrong
// sign by the largest margin, or -1 when w is optimal.
func (s *solver) mostViolated(w []float64, eq equalitySolution) int {
	grad := mat.NewVecDense(len(w), nil)
	grad.MulVec(s.sigma, mat.NewVecDense(len(w), append([]float64(nil), w...)))
	grad.ScaleVec(2, grad)

	worst := s.settings.Tolerance
	release := -1
	for i, st := range s.state {
		if st == Free || s.bounds[i].Lower == s.bounds[i].Upper {
			continue
		}
		mu := grad.AtVec(i) - eq.budget - eq.ret*s.returns[i]
		violation := -mu
		if st == AtUpper {
			violation = mu
		}
		if violation > worst {
			worst = violation
			release = i
		}
	}
	return release
}
