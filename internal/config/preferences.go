package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/mathutil"
	"github.com/iwvelando/portfolio-optimizer/pkg/validation"
)

// Preferences are the investor's choices. Percent values throughout.
type Preferences struct {
	Term              string   `yaml:"term,omitempty" mapstructure:"term"`
	RiskTolerance     float64  `yaml:"riskTolerance,omitempty" mapstructure:"riskTolerance"`
	DesiredReturn     float64  `yaml:"desiredReturn" mapstructure:"desiredReturn"`
	IncludeRealEstate bool     `yaml:"includeRealEstate,omitempty" mapstructure:"includeRealEstate"`
	RealEstateReturn  *float64 `yaml:"realEstateReturn,omitempty" mapstructure:"realEstateReturn"`
}

// Normalize canonicalizes the term.
func (p *Preferences) Normalize() {
	p.Term = strings.ToLower(strings.TrimSpace(p.Term))
	if p.Term == "" {
		p.Term = constants.TermLong
	}
}

// Validate returns an error for out-of-range preferences. The desired return
// is only checked for finiteness; the achievable range decides feasibility.
func (p *Preferences) Validate() error {
	if err := validation.ValidateTerm(p.Term); err != nil {
		return err
	}
	if p.RiskTolerance != 0 {
		if err := validation.ValidateRiskTolerance(p.RiskTolerance); err != nil {
			return err
		}
	}
	if !mathutil.IsFinite(p.DesiredReturn) {
		return fmt.Errorf("desired return must be finite, got %g", p.DesiredReturn)
	}
	return nil
}

// Target returns the desired return as a fraction.
func (p Preferences) Target() float64 {
	return mathutil.PercentToFraction(p.DesiredReturn)
}

// LookbackYears returns the default price history length for the term.
func (p Preferences) LookbackYears() int {
	if p.Term == constants.TermMedium {
		return constants.MediumTermLookbackYears
	}
	return constants.LongTermLookbackYears
}

// HistoryConfig bounds the price history used for estimation. Dates use
// YYYY-MM-DD; the end is exclusive.
type HistoryConfig struct {
	Start string `yaml:"start,omitempty" mapstructure:"start"`
	End   string `yaml:"end,omitempty" mapstructure:"end"`
}

// Validate checks date formats and order.
func (h *HistoryConfig) Validate() error {
	if h.Start == "" || h.End == "" {
		for _, d := range []string{h.Start, h.End} {
			if d == "" {
				continue
			}
			if _, err := datetime.ParseDate(d); err != nil {
				return fmt.Errorf("history: %w", err)
			}
		}
		return nil
	}
	before, err := datetime.DateBeforeDate(h.Start, h.End)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if !before {
		return fmt.Errorf("history start %s must be before end %s", h.Start, h.End)
	}
	return nil
}

// Window resolves the configured dates against the term lookback.
func (c *Configuration) Window(now time.Time) (time.Time, time.Time, error) {
	return datetime.Window(c.History.Start, c.History.End, c.Preferences.LookbackYears(), now)
}
