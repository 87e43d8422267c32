package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iwvelando/portfolio-optimizer/internal/allocation"
	"github.com/iwvelando/portfolio-optimizer/internal/config"
	"github.com/iwvelando/portfolio-optimizer/pkg/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	targetPercent float64
	realEstate    bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Find the minimum-volatility allocation for the desired return",
	Long: `Loads the configuration, fetches price history for every asset with a
symbol, estimates annualized returns and covariance, and prints the
allocation with the lowest volatility that reaches the desired return.

Example:
  portfolio-optimizer optimize --target 8.5 --real-estate`,
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().Float64Var(&targetPercent, "target", 0, "desired annual return override in percent")
	optimizeCmd.Flags().BoolVar(&realEstate, "real-estate", false, "include real estate assets")
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	conf, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	format, err := resolveOutputFormat(conf)
	if err != nil {
		return err
	}

	source, closeFn, err := newSource(conf.MarketData, logger)
	if err != nil {
		return err
	}
	defer closeSource(logger, closeFn)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := allocation.NewRunner(logger, conf, source).Run(ctx)
	if err != nil {
		logger.Error("optimization failed",
			zap.String("op", "commands.runOptimize"),
			zap.Error(err),
		)
		return err
	}
	for _, warning := range summary.Warnings {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "commands.runOptimize"),
		)
	}
	return output.WriteSummary(cmd.OutOrStdout(), format, *summary)
}

// setup loads the configuration, applies flag overrides, validates the
// result and builds the logger.
func setup(cmd *cobra.Command) (*config.Configuration, *zap.Logger, error) {
	conf, err := config.LoadConfiguration(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration at %s: %w", configFile, err)
	}

	flags := cmd.Flags()
	overridden := false
	if f := flags.Lookup("target"); f != nil && f.Changed {
		conf.Preferences.DesiredReturn = targetPercent
		overridden = true
	}
	if f := flags.Lookup("real-estate"); f != nil && f.Changed {
		conf.Preferences.IncludeRealEstate = realEstate
		overridden = true
	}
	if overridden {
		conf.Normalize()
		if err := conf.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger, err := initializeLogger(conf.Logging, logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return conf, logger, nil
}
