// Package format renders numbers for reports and messages.
package format

import (
	"fmt"
	"math"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
)

// Percent renders a fraction as a percentage with two decimals (e.g., 0.0825 -> "8.25%").
func Percent(fraction float64) string {
	return NumericPercent(fraction) + "%"
}

// NumericPercent renders a fraction as a percentage without the percent sign.
// Negative zero from rounding is printed as "0.00".
func NumericPercent(fraction float64) string {
	value := math.Round(fraction*constants.PercentageMultiplier*constants.DecimalPrecision) / constants.DecimalPrecision
	if value == 0 {
		value = 0
	}
	return fmt.Sprintf("%.2f", value)
}

// Weight renders an allocation weight as a percentage with one decimal, the
// precision used in allocation tables.
func Weight(fraction float64) string {
	value := math.Round(fraction*constants.PercentageMultiplier*10) / 10
	if value == 0 {
		value = 0
	}
	return fmt.Sprintf("%.1f%%", value)
}
