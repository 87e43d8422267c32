// Package commands implements the portfolio-optimizer command line.
package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/iwvelando/portfolio-optimizer/internal/config"
	"github.com/iwvelando/portfolio-optimizer/internal/marketdata"
	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/validation"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is reported by the serve command; set at build time with
// -ldflags "-X github.com/iwvelando/portfolio-optimizer/cmd/portfolio-optimizer/commands.Version=...".
var Version = "dev"

var (
	// Global flags
	configFile   string
	logLevel     string
	outputFormat string
	envFile      string
)

var rootCmd = &cobra.Command{
	Use:   "portfolio-optimizer",
	Short: "Minimum-variance portfolio allocation for a target return",
	Long: `portfolio-optimizer finds the long-only allocation with the lowest
volatility that reaches a desired annual return, using daily price history
or manually specified asset statistics.

Examples:
  portfolio-optimizer optimize --config config.yaml
  portfolio-optimizer optimize --target 8.25 --output-format json
  portfolio-optimizer frontier --points 25
  portfolio-optimizer serve --server-config server-config.yaml`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvFile,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", constants.DefaultConfigFile, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output-format", "", "type of output override: pretty, csv, json")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", constants.DefaultEnvFile, "environment file loaded before configuration is read")
}

// loadEnvFile exports the env file into the process environment so that
// PORTFOLIO_* overrides in it reach the configuration. A missing default
// file is ignored; a missing file named on the command line is an error.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	if envFile == "" {
		return nil
	}
	err := godotenv.Load(envFile)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("loading env file %s: %w", envFile, err)
}

// resolveOutputFormat applies the --output-format override to the configured format.
func resolveOutputFormat(conf *config.Configuration) (string, error) {
	format := conf.Output.Format
	if outputFormat != "" {
		format = outputFormat
	}
	if format == "" {
		format = constants.OutputFormatPretty
	}
	if err := validation.ValidateOutputFormat(format); err != nil {
		return "", err
	}
	return format, nil
}

// newSource builds the configured market data source. The returned function
// releases it.
func newSource(conf config.MarketDataConfig, logger *zap.Logger) (marketdata.Source, func() error, error) {
	return marketdata.New(marketdata.Options{
		Provider:          conf.Provider,
		CSVDir:            conf.CSVDir,
		CachePath:         conf.CachePath,
		RequestsPerSecond: conf.RequestsPerSecond,
	}, logger)
}

func closeSource(logger *zap.Logger, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("failed to close market data source",
			zap.String("op", "commands.closeSource"),
			zap.Error(err),
		)
	}
}
