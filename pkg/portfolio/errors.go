package portfolio

import "errors"

// Every failure returned by Optimize wraps exactly one of these sentinels;
// callers classify with errors.Is. No weights accompany a failure.
var (
	// ErrInvalidInput reports mismatched dimensions, non-finite values, fewer than
	// two assets, an asymmetric covariance matrix or an unusable bound pair.
	ErrInvalidInput = errors.New("portfolio: invalid input")

	// ErrIllConditioned reports an indefinite covariance matrix or a reduced
	// system too singular to solve.
	ErrIllConditioned = errors.New("portfolio: ill-conditioned covariance")

	// ErrTargetUnreachable reports a target return outside the range achievable
	// under the budget and bound constraints.
	ErrTargetUnreachable = errors.New("portfolio: target return unreachable")

	// ErrInfeasible reports that no allocation honours every constraint, or that
	// the active-set search stopped without reaching one.
	ErrInfeasible = errors.New("portfolio: infeasible")
)

// Classify returns a short machine-readable name for a failure returned by
// this package, or "internal" when err wraps none of the sentinels.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrIllConditioned):
		return "ill_conditioned"
	case errors.Is(err, ErrTargetUnreachable):
		return "target_unreachable"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	default:
		return "internal"
	}
}
