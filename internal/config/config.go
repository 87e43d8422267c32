// Package config defines the data structures related to configuration and
// includes functions for loading, normalizing and validating it.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/validation"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override configuration keys,
// e.g. PORTFOLIO_PREFERENCES_DESIREDRETURN=8.25.
const EnvPrefix = "PORTFOLIO"

// Configuration holds all configuration for portfolio-optimizer.
type Configuration struct {
	Assets      []Asset          `yaml:"assets" mapstructure:"assets"`
	History     HistoryConfig    `yaml:"history,omitempty" mapstructure:"history"`
	Preferences Preferences      `yaml:"preferences" mapstructure:"preferences"`
	Solver      SolverConfig     `yaml:"solver,omitempty" mapstructure:"solver"`
	MarketData  MarketDataConfig `yaml:"marketData,omitempty" mapstructure:"marketData"`
	Logging     LoggingConfig    `yaml:"logging,omitempty" mapstructure:"logging"`
	Output      OutputConfig     `yaml:"output,omitempty" mapstructure:"output"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty" mapstructure:"level"`           // debug, info, warn, error
	Format     string `yaml:"format,omitempty" mapstructure:"format"`         // json, console
	OutputFile string `yaml:"outputFile,omitempty" mapstructure:"outputFile"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty" mapstructure:"format"` // pretty, csv, json
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads YAML configuration from an arbitrary reader.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config, %s", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	configuration.Normalize()
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	return &configuration, nil
}

// Normalize applies defaults and canonical values before validation.
func (c *Configuration) Normalize() {
	for i := range c.Assets {
		c.Assets[i].Normalize()
	}
	c.Preferences.Normalize()
	c.Solver.Normalize()
	c.MarketData.Normalize()
	if c.Output.Format == "" {
		c.Output.Format = constants.OutputFormatPretty
	}
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
}

// Validate returns an error when the configuration cannot be used.
func (c *Configuration) Validate() error {
	active := c.ActiveAssets()
	if len(active) < 2 {
		return fmt.Errorf("at least 2 assets are required, got %d", len(active))
	}

	seen := make(map[string]bool, len(c.Assets))
	var minSum, maxSum float64
	for i := range active {
		a := &active[i]
		if err := a.Validate(c.Preferences); err != nil {
			return err
		}
		if seen[a.Name] {
			return fmt.Errorf("asset name '%s' is used more than once", a.Name)
		}
		seen[a.Name] = true
		lower, upper := a.Limits()
		minSum += lower
		maxSum += upper
	}
	if minSum > constants.PercentageMultiplier {
		return fmt.Errorf("asset minimums sum to %g%%, above 100%%", minSum)
	}
	if maxSum < constants.PercentageMultiplier {
		return fmt.Errorf("asset maximums sum to %g%%, below 100%%", maxSum)
	}

	if err := c.Preferences.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	if err := c.MarketData.Validate(c.PricedAssets()); err != nil {
		return err
	}
	return validation.ValidateOutputFormat(c.Output.Format)
}

// ValidateConfiguration performs general validation of the configuration and
// returns warnings that do not prevent an optimization.
func (c *Configuration) ValidateConfiguration() []string {
	var warnings []string
	if w := validation.DesiredReturnWarning(c.Preferences.DesiredReturn); w != "" {
		warnings = append(warnings, w)
	}
	if !c.Preferences.IncludeRealEstate {
		for _, a := range c.Assets {
			if a.RealEstate {
				warnings = append(warnings, fmt.Sprintf("Asset '%s' is real estate and is excluded because includeRealEstate is false", a.Name))
			}
		}
	}
	for _, a := range c.ActiveAssets() {
		if a.IsManual() && a.ManualVariance() == 0 {
			warnings = append(warnings, fmt.Sprintf("Asset '%s' has zero volatility and is treated as riskless", a.Name))
		}
	}
	return warnings
}

// ActiveAssets returns the assets that take part in the optimization, in
// configuration order.
func (c *Configuration) ActiveAssets() []Asset {
	active := make([]Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		if a.RealEstate && !c.Preferences.IncludeRealEstate {
			continue
		}
		active = append(active, a)
	}
	return active
}

// PricedAssets returns the active assets whose statistics come from market data.
func (c *Configuration) PricedAssets() []Asset {
	var priced []Asset
	for _, a := range c.ActiveAssets() {
		if !a.IsManual() {
			priced = append(priced, a)
		}
	}
	return priced
}
