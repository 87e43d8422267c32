package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/iwvelando/portfolio-optimizer/internal/allocation"
	"github.com/iwvelando/portfolio-optimizer/pkg/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var frontierPoints int

var frontierCmd = &cobra.Command{
	Use:   "frontier",
	Short: "Sweep the efficient frontier across the achievable return range",
	Long: `Solves the minimum-volatility allocation at evenly spaced targets from the
lowest to the highest achievable return and prints one row per target.

Example:
  portfolio-optimizer frontier --points 25 --output-format csv`,
	RunE: runFrontier,
}

func init() {
	rootCmd.AddCommand(frontierCmd)

	frontierCmd.Flags().IntVar(&frontierPoints, "points", 0, "number of targets (default from solver.frontierPoints)")
	frontierCmd.Flags().BoolVar(&realEstate, "real-estate", false, "include real estate assets")
}

func runFrontier(cmd *cobra.Command, _ []string) error {
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

	in, points, err := allocation.NewRunner(logger, conf, source).Frontier(ctx, frontierPoints)
	if err != nil {
		logger.Error("frontier sweep failed",
			zap.String("op", "commands.runFrontier"),
			zap.Error(err),
		)
		return err
	}
	return output.WriteFrontier(cmd.OutOrStdout(), format, in.Assets, points)
}
