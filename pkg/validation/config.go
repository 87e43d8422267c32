package validation

import (
	"fmt"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/format"
	"github.com/iwvelando/portfolio-optimizer/pkg/mathutil"
)

// ValidateTerm checks the investment term.
func ValidateTerm(term string) error {
	if term != constants.TermMedium && term != constants.TermLong {
		return fmt.Errorf("expected term of %s or %s, got %q", constants.TermMedium, constants.TermLong, term)
	}
	return nil
}

// ValidateRiskTolerance checks the risk tolerance percentage.
func ValidateRiskTolerance(percent float64) error {
	if !mathutil.IsFinite(percent) || percent < constants.RiskToleranceMin || percent > constants.RiskToleranceMax {
		return fmt.Errorf("risk tolerance must be between %.0f%% and %.0f%%, got %g%%",
			constants.RiskToleranceMin, constants.RiskToleranceMax, percent)
	}
	return nil
}

// ValidateWeightRange checks an asset's allocation limits in percent.
func ValidateWeightRange(asset string, minPercent, maxPercent float64) error {
	if minPercent < 0 || maxPercent > constants.PercentageMultiplier {
		return fmt.Errorf("asset '%s' limits [%g%%, %g%%] must lie within [0%%, 100%%]", asset, minPercent, maxPercent)
	}
	if minPercent > maxPercent {
		return fmt.Errorf("asset '%s' minimum %g%% exceeds maximum %g%%", asset, minPercent, maxPercent)
	}
	return nil
}

// DesiredReturnWarning returns a warning when the desired return (percent)
// falls outside the suggested band. The band is advisory only.
func DesiredReturnWarning(percent float64) string {
	if percent < constants.DesiredReturnHintMin || percent > constants.DesiredReturnHintMax {
		return fmt.Sprintf("Desired return %.2f%% is outside the suggested range of %.2f%% to %.2f%%",
			percent, constants.DesiredReturnHintMin, constants.DesiredReturnHintMax)
	}
	return ""
}

// RiskToleranceWarning returns a warning when the achieved volatility
// (a fraction) exceeds the risk tolerance (percent).
func RiskToleranceWarning(tolerancePercent, volatility float64) string {
	if tolerancePercent <= 0 {
		return ""
	}
	if volatility > mathutil.PercentToFraction(tolerancePercent) {
		return fmt.Sprintf("Portfolio volatility %s exceeds risk tolerance of %.2f%%",
			format.Percent(volatility), tolerancePercent)
	}
	return ""
}

// TargetRangeWarning returns a warning when the target (fraction) sits within
// tolerance of an end of the achievable range, where the allocation
// concentrates in a single asset.
func TargetRangeWarning(target, lowest, highest, tolerance float64) string {
	if mathutil.WithinTolerance(target, highest, tolerance) {
		return fmt.Sprintf("Target %s equals the highest achievable return", format.Percent(target))
	}
	if mathutil.WithinTolerance(target, lowest, tolerance) {
		return fmt.Sprintf("Target %s equals the lowest achievable return", format.Percent(target))
	}
	return ""
}
