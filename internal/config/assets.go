package config

import (
	"fmt"
	"strings"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/mathutil"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
	"github.com/iwvelando/portfolio-optimizer/pkg/validation"
)

// Asset is one investable asset. Priced assets name a market data symbol;
// manual assets (no symbol) give their expected return and volatility
// directly and are treated as uncorrelated with everything else. All values
// are percentages.
type Asset struct {
	Name           string   `yaml:"name" mapstructure:"name"`
	Symbol         string   `yaml:"symbol,omitempty" mapstructure:"symbol"`
	ExpectedReturn *float64 `yaml:"expectedReturn,omitempty" mapstructure:"expectedReturn"`
	Volatility     *float64 `yaml:"volatility,omitempty" mapstructure:"volatility"`
	Min            *float64 `yaml:"min,omitempty" mapstructure:"min"`
	Max            *float64 `yaml:"max,omitempty" mapstructure:"max"`
	RealEstate     bool     `yaml:"realEstate,omitempty" mapstructure:"realEstate"`
}

// Normalize trims identifiers and names unnamed assets after their symbol.
func (a *Asset) Normalize() {
	a.Name = strings.TrimSpace(a.Name)
	a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
	if a.Name == "" {
		a.Name = a.Symbol
	}
}

// IsManual reports whether the asset's statistics are configured rather than estimated.
func (a Asset) IsManual() bool {
	return a.Symbol == ""
}

// Limits returns the allocation limits in percent, defaulting to [0, 100].
func (a Asset) Limits() (float64, float64) {
	lower, upper := 0.0, constants.PercentageMultiplier
	if a.Min != nil {
		lower = *a.Min
	}
	if a.Max != nil {
		upper = *a.Max
	}
	return lower, upper
}

// Bound converts the limits into a solver bound on the weight fraction.
func (a Asset) Bound() portfolio.Bound {
	lower, upper := a.Limits()
	return portfolio.Bound{
		Lower: mathutil.PercentToFraction(lower),
		Upper: mathutil.PercentToFraction(upper),
	}
}

// ManualReturn returns the expected return fraction of a manual asset. Real
// estate falls back to the preference value when the asset has none.
func (a Asset) ManualReturn(prefs Preferences) (float64, bool) {
	if a.ExpectedReturn != nil {
		return mathutil.PercentToFraction(*a.ExpectedReturn), true
	}
	if a.RealEstate && prefs.RealEstateReturn != nil {
		return mathutil.PercentToFraction(*prefs.RealEstateReturn), true
	}
	return 0, false
}

// ManualVariance returns the annualized variance of a manual asset.
func (a Asset) ManualVariance() float64 {
	if a.Volatility == nil {
		return 0
	}
	vol := mathutil.PercentToFraction(*a.Volatility)
	return vol * vol
}

// Validate returns an error when the asset is unusable.
func (a *Asset) Validate(prefs Preferences) error {
	if a.Name == "" {
		return fmt.Errorf("asset requires a name or a symbol")
	}
	lower, upper := a.Limits()
	if err := validation.ValidateWeightRange(a.Name, lower, upper); err != nil {
		return err
	}
	if !a.IsManual() {
		return nil
	}

	if _, ok := a.ManualReturn(prefs); !ok {
		return fmt.Errorf("asset '%s' has no symbol and requires an expectedReturn", a.Name)
	}
	if a.Volatility == nil {
		return fmt.Errorf("asset '%s' has no symbol and requires a volatility", a.Name)
	}
	if *a.Volatility < 0 || !mathutil.IsFinite(*a.Volatility) {
		return fmt.Errorf("asset '%s' volatility must be a non-negative number, got %g", a.Name, *a.Volatility)
	}
	if a.ExpectedReturn != nil && !mathutil.IsFinite(*a.ExpectedReturn) {
		return fmt.Errorf("asset '%s' expectedReturn must be finite", a.Name)
	}
	return nil
}
