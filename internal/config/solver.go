package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
)

// SolverConfig tunes the optimizer and the frontier sweep.
type SolverConfig struct {
	Tolerance      float64       `yaml:"tolerance,omitempty" mapstructure:"tolerance"`
	PSDTolerance   float64       `yaml:"psdTolerance,omitempty" mapstructure:"psdTolerance"`
	MaxCondition   float64       `yaml:"maxCondition,omitempty" mapstructure:"maxCondition"`
	MaxIterations  int           `yaml:"maxIterations,omitempty" mapstructure:"maxIterations"`
	Timeout        time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	FrontierPoints int           `yaml:"frontierPoints,omitempty" mapstructure:"frontierPoints"`
}

// Normalize ensures defaults are applied before validation.
func (s *SolverConfig) Normalize() {
	if s.Tolerance <= 0 {
		s.Tolerance = constants.DefaultTolerance
	}
	if s.PSDTolerance <= 0 {
		s.PSDTolerance = constants.DefaultPSDTolerance
	}
	if s.MaxCondition <= 0 {
		s.MaxCondition = constants.DefaultMaxCondition
	}
	if s.Timeout <= 0 {
		s.Timeout = constants.DefaultSolveTimeout
	}
	if s.FrontierPoints <= 0 {
		s.FrontierPoints = constants.DefaultFrontierPoints
	}
}

// Validate returns an error when the solver configuration is unusable.
func (s *SolverConfig) Validate() error {
	if s.Tolerance >= 1e-3 {
		return fmt.Errorf("solver tolerance %g is too loose", s.Tolerance)
	}
	if s.MaxIterations < 0 {
		return fmt.Errorf("solver maxIterations must not be negative, got %d", s.MaxIterations)
	}
	if s.FrontierPoints < 2 {
		return fmt.Errorf("solver frontierPoints must be at least 2, got %d", s.FrontierPoints)
	}
	return nil
}

// Settings converts the configuration into solver settings.
func (s SolverConfig) Settings() portfolio.Settings {
	return portfolio.Settings{
		Tolerance:     s.Tolerance,
		PSDTolerance:  s.PSDTolerance,
		MaxCondition:  s.MaxCondition,
		MaxIterations: s.MaxIterations,
	}
}

// MarketDataConfig selects where price history comes from.
type MarketDataConfig struct {
	Provider          string  `yaml:"provider,omitempty" mapstructure:"provider"` // yahoo, csv
	CSVDir            string  `yaml:"csvDir,omitempty" mapstructure:"csvDir"`
	CachePath         string  `yaml:"cachePath,omitempty" mapstructure:"cachePath"` // optional SQLite cache
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" mapstructure:"requestsPerSecond"`
	Concurrency       int     `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// Normalize ensures defaults and canonical values are applied before validation.
func (m *MarketDataConfig) Normalize() {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Provider == "" {
		m.Provider = constants.ProviderYahoo
	}
	if m.RequestsPerSecond <= 0 {
		m.RequestsPerSecond = constants.DefaultRequestsPerSecond
	}
	if m.Concurrency <= 0 {
		m.Concurrency = 4
	}
}

// Validate returns an error when the provider cannot serve the priced assets.
func (m *MarketDataConfig) Validate(priced []Asset) error {
	switch m.Provider {
	case constants.ProviderYahoo:
	case constants.ProviderCSV:
		if m.CSVDir == "" && len(priced) > 0 {
			return fmt.Errorf("market data provider %s requires csvDir", m.Provider)
		}
	default:
		return fmt.Errorf("market data provider %q is not supported", m.Provider)
	}
	return nil
}
