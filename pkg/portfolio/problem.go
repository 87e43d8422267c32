package portfolio

import (
	"fmt"
	"math"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/mathutil"
	"gonum.org/v1/gonum/mat"
)

// Bound is the inclusive weight range allowed for one asset.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// DefaultBounds returns n copies of [0, 1].
func DefaultBounds(n int) []Bound {
	bounds := make([]Bound, n)
	for i := range bounds {
		bounds[i] = Bound{Lower: 0, Upper: 1}
	}
	return bounds
}

// Problem is one minimum-variance-for-target-return instance. Returns,
// Covariance rows/columns and Bounds share the same asset order.
type Problem struct {
	Returns    []float64
	Covariance [][]float64
	Target     float64
	// Bounds may be nil, meaning [0, 1] for every asset.
	Bounds []Bound
}

// Size returns the number of assets.
func (p Problem) Size() int {
	return len(p.Returns)
}

// Settings controls numeric tolerances of the solver.
type Settings struct {
	// Tolerance applies to equality residuals, bound violations and multiplier signs.
	Tolerance float64
	// PSDTolerance is how far below zero the smallest covariance eigenvalue may fall.
	PSDTolerance float64
	// MaxCondition rejects reduced KKT systems with a larger condition number.
	MaxCondition float64
	// MaxIterations caps the active-set loop; zero selects 10*(n+2).
	MaxIterations int
}

// DefaultSettings returns the tolerances used by Optimize.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:    constants.DefaultTolerance,
		PSDTolerance: constants.DefaultPSDTolerance,
		MaxCondition: constants.DefaultMaxCondition,
	}
}

func (s Settings) normalized(n int) Settings {
	if s.Tolerance <= 0 {
		s.Tolerance = constants.DefaultTolerance
	}
	if s.PSDTolerance <= 0 {
		s.PSDTolerance = constants.DefaultPSDTolerance
	}
	if s.MaxCondition <= 0 {
		s.MaxCondition = constants.DefaultMaxCondition
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = 10 * (n + 2)
	}
	return s
}

// BoundState describes where an optimal weight sits relative to its bounds.
type BoundState int

const (
	Free BoundState = iota
	AtLower
	AtUpper
)

// String implements fmt.Stringer.
func (b BoundState) String() string {
	switch b {
	case AtLower:
		return "lower"
	case AtUpper:
		return "upper"
	default:
		return "free"
	}
}

// Result is a successful optimization. It is only meaningful for the
// returns and covariance it was computed from.
type Result struct {
	Weights    []float64
	Return     float64
	Variance   float64
	Volatility float64
	Iterations int
	Binding    []BoundState
}

// validate checks shapes and finiteness and returns the symmetric covariance
// and the effective bounds.
func (p Problem) validate(s Settings) (*mat.SymDense, []Bound, error) {
	n := len(p.Returns)
	if n < 2 {
		return nil, nil, fmt.Errorf("%w: need at least 2 assets, got %d", ErrInvalidInput, n)
	}
	if !mathutil.AllFinite(p.Returns) {
		return nil, nil, fmt.Errorf("%w: returns contain non-finite values", ErrInvalidInput)
	}
	if !mathutil.IsFinite(p.Target) {
		return nil, nil, fmt.Errorf("%w: target return %v is not finite", ErrInvalidInput, p.Target)
	}
	if len(p.Covariance) != n {
		return nil, nil, fmt.Errorf("%w: covariance has %d rows, expected %d", ErrInvalidInput, len(p.Covariance), n)
	}

	data := make([]float64, 0, n*n)
	for i, row := range p.Covariance {
		if len(row) != n {
			return nil, nil, fmt.Errorf("%w: covariance row %d has %d columns, expected %d", ErrInvalidInput, i, len(row), n)
		}
		if !mathutil.AllFinite(row) {
			return nil, nil, fmt.Errorf("%w: covariance row %d contains non-finite values", ErrInvalidInput, i)
		}
		data = append(data, row...)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if !mathutil.WithinTolerance(p.Covariance[i][j], p.Covariance[j][i], s.Tolerance) {
				return nil, nil, fmt.Errorf("%w: covariance is not symmetric at (%d,%d): %g != %g",
					ErrInvalidInput, i, j, p.Covariance[i][j], p.Covariance[j][i])
			}
		}
	}

	bounds := p.Bounds
	if bounds == nil {
		bounds = DefaultBounds(n)
	}
	if len(bounds) != n {
		return nil, nil, fmt.Errorf("%w: %d bounds for %d assets", ErrInvalidInput, len(bounds), n)
	}
	for i, b := range bounds {
		if !mathutil.IsFinite(b.Lower) || !mathutil.IsFinite(b.Upper) {
			return nil, nil, fmt.Errorf("%w: bound %d is not finite", ErrInvalidInput, i)
		}
		if b.Lower > b.Upper {
			return nil, nil, fmt.Errorf("%w: bound %d has lower %g above upper %g", ErrInvalidInput, i, b.Lower, b.Upper)
		}
		if b.Lower < 0 || b.Upper > 1 {
			return nil, nil, fmt.Errorf("%w: bound %d [%g, %g] leaves the unit interval", ErrInvalidInput, i, b.Lower, b.Upper)
		}
	}

	// Average the two triangles so tolerated asymmetry cannot bias either one.
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, (data[i*n+j]+data[j*n+i])/2)
		}
	}
	return sigma, bounds, nil
}

// checkPSD rejects covariance matrices with a negative diagonal entry or an
// eigenvalue below -tolerance.
func checkPSD(sigma *mat.SymDense, tolerance float64) error {
	n := sigma.SymmetricDim()
	for i := 0; i < n; i++ {
		if sigma.At(i, i) < -tolerance {
			return fmt.Errorf("%w: negative variance %g for asset %d", ErrIllConditioned, sigma.At(i, i), i)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, false); !ok {
		return fmt.Errorf("%w: eigendecomposition did not converge", ErrIllConditioned)
	}
	values := eig.Values(nil)
	smallest := math.Inf(1)
	for _, v := range values {
		smallest = math.Min(smallest, v)
	}
	if smallest < -tolerance {
		return fmt.Errorf("%w: covariance is indefinite (smallest eigenvalue %g)", ErrIllConditioned, smallest)
	}
	return nil
}

// Validate checks p the same way OptimizeWithSettings does before solving:
// shapes, finiteness, symmetry and bounds, then positive semi-definiteness.
func (p Problem) Validate(s Settings) error {
	s = s.normalized(p.Size())
	sigma, _, err := p.validate(s)
	if err != nil {
		return err
	}
	return checkPSD(sigma, s.PSDTolerance)
}
