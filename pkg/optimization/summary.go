// Package optimization provides shared data structures for optimization results.
package optimization

import (
	"fmt"

	"github.com/iwvelando/portfolio-optimizer/pkg/format"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
)

// Allocation is one asset's share of an optimal portfolio.
type Allocation struct {
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol,omitempty"`
	Weight         float64 `json:"weight"`
	ExpectedReturn float64 `json:"expectedReturn"`
	// Contribution is Weight * ExpectedReturn, the asset's share of the portfolio return.
	Contribution  float64 `json:"contribution"`
	Binding       string  `json:"binding"`
	WeightDisplay string  `json:"weightDisplay,omitempty"`
}

// Summary captures the result of a single optimization.
type Summary struct {
	Target         float64      `json:"target"`
	ExpectedReturn float64      `json:"expectedReturn"`
	Volatility     float64      `json:"volatility"`
	Variance       float64      `json:"variance"`
	Iterations     int          `json:"iterations"`
	Allocations    []Allocation `json:"allocations"`
	AchievableMin  float64      `json:"achievableMin"`
	AchievableMax  float64      `json:"achievableMax"`
	Observations   int          `json:"observations,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`

	TargetDisplay     string `json:"targetDisplay,omitempty"`
	ReturnDisplay     string `json:"returnDisplay,omitempty"`
	VolatilityDisplay string `json:"volatilityDisplay,omitempty"`
}

// FrontierPoint is one target on an efficient-frontier sweep. Error is set
// instead of the statistics when that target could not be solved.
type FrontierPoint struct {
	Target     float64   `json:"target"`
	Return     float64   `json:"return,omitempty"`
	Volatility float64   `json:"volatility,omitempty"`
	Weights    []float64 `json:"weights,omitempty"`
	Error      string    `json:"error,omitempty"`
	Kind       string    `json:"kind,omitempty"`
}

// Asset names one column of a problem.
type Asset struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol,omitempty"`
}

// NewSummary builds a report from a solved problem. Assets, the problem's
// returns and the result's weights share the same order.
func NewSummary(assets []Asset, p portfolio.Problem, res *portfolio.Result, rng portfolio.Range) (Summary, error) {
	if res == nil {
		return Summary{}, fmt.Errorf("no optimization result")
	}
	if len(assets) != len(res.Weights) || len(p.Returns) != len(res.Weights) {
		return Summary{}, fmt.Errorf("expected %d assets, got %d names and %d returns",
			len(res.Weights), len(assets), len(p.Returns))
	}

	s := Summary{
		Target:         p.Target,
		ExpectedReturn: res.Return,
		Volatility:     res.Volatility,
		Variance:       res.Variance,
		Iterations:     res.Iterations,
		AchievableMin:  rng.Min,
		AchievableMax:  rng.Max,
		Allocations:    make([]Allocation, len(assets)),
	}
	for i, a := range assets {
		s.Allocations[i] = Allocation{
			Name:           a.Name,
			Symbol:         a.Symbol,
			Weight:         res.Weights[i],
			ExpectedReturn: p.Returns[i],
			Contribution:   res.Weights[i] * p.Returns[i],
			Binding:        res.Binding[i].String(),
			WeightDisplay:  format.Weight(res.Weights[i]),
		}
	}
	s.TargetDisplay = format.Percent(s.Target)
	s.ReturnDisplay = format.Percent(s.ExpectedReturn)
	s.VolatilityDisplay = format.Percent(s.Volatility)
	return s, nil
}

// AddWarnings appends non-empty warnings.
func (s *Summary) AddWarnings(warnings ...string) {
	for _, w := range warnings {
		if w != "" {
			s.Warnings = append(s.Warnings, w)
		}
	}
}
