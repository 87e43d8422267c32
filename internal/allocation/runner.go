// Package allocation turns a configuration into an optimal allocation:
// it fetches price history, estimates statistics, appends manually
// specified assets and runs the optimizer.
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/iwvelando/portfolio-optimizer/internal/config"
	"github.com/iwvelando/portfolio-optimizer/internal/marketdata"
	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/optimization"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"github.com/iwvelando/portfolio-optimizer/pkg/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner orchestrates one configuration against one market data source.
type Runner struct {
	logger *zap.Logger
	conf   *config.Configuration
	source marketdata.Source
	now    func() time.Time
}

// NewRunner creates a runner. source may be nil when every asset is manual.
func NewRunner(logger *zap.Logger, conf *config.Configuration, source marketdata.Source) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, conf: conf, source: source, now: time.Now}
}

// Inputs is an optimization problem together with the asset names and the
// history it was estimated from.
type Inputs struct {
	Assets       []optimization.Asset
	Problem      portfolio.Problem
	Observations int
	Start        time.Time
	End          time.Time
}

// Inputs fetches price history for the priced assets concurrently and
// assembles the problem in configuration order.
func (r *Runner) Inputs(ctx context.Context) (*Inputs, error) {
	op := "allocation.Runner.Inputs"
	active := r.conf.ActiveAssets()
	start, end, err := r.conf.Window(r.now())
	if err != nil {
		return nil, err
	}

	var priced []int
	for i, a := range active {
		if !a.IsManual() {
			priced = append(priced, i)
		}
	}

	in := &Inputs{
		Assets:  make([]optimization.Asset, len(active)),
		Problem: portfolio.Problem{Target: r.conf.Preferences.Target()},
		Start:   start,
		End:     end,
	}
	for i, a := range active {
		in.Assets[i] = optimization.Asset{Name: a.Name, Symbol: a.Symbol}
	}

	var est *stats.Estimate
	if len(priced) > 0 {
		if r.source == nil {
			return nil, fmt.Errorf("no market data source for %d priced assets", len(priced))
		}
		series, err := r.fetch(ctx, active, priced, start, end)
		if err != nil {
			return nil, err
		}
		est, err = stats.EstimateFrom(series, constants.TradingDaysPerYear)
		if err != nil {
			return nil, err
		}
		in.Observations = est.Observations
		in.Start, in.End = est.Start, est.End
		r.logger.Info("estimated asset statistics",
			zap.String("op", op),
			zap.Int("assets", len(priced)),
			zap.Int("observations", est.Observations),
			zap.Time("start", est.Start),
			zap.Time("end", est.End),
		)
	}

	n := len(active)
	in.Problem.Returns = make([]float64, n)
	in.Problem.Covariance = make([][]float64, n)
	in.Problem.Bounds = make([]portfolio.Bound, n)
	for i := range in.Problem.Covariance {
		in.Problem.Covariance[i] = make([]float64, n)
	}
	for k, i := range priced {
		in.Problem.Returns[i] = est.Returns[k]
		for l, j := range priced {
			in.Problem.Covariance[i][j] = est.Covariance[k][l]
		}
	}
	for i, a := range active {
		in.Problem.Bounds[i] = a.Bound()
		if !a.IsManual() {
			continue
		}
		ret, ok := a.ManualReturn(r.conf.Preferences)
		if !ok {
			return nil, fmt.Errorf("asset '%s' has no price symbol and no expected return", a.Name)
		}
		in.Problem.Returns[i] = ret
		in.Problem.Covariance[i][i] = a.ManualVariance()
	}
	return in, nil
}

func (r *Runner) fetch(ctx context.Context, active []config.Asset, priced []int, start, end time.Time) ([]stats.Series, error) {
	series := make([]stats.Series, len(priced))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.conf.MarketData.Concurrency))
	for k, i := range priced {
		symbol := active[i].Symbol
		g.Go(func() error {
			prices, err := r.source.History(ctx, symbol, start, end)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", symbol, err)
			}
			series[k] = stats.Series{Symbol: symbol, Prices: prices}
			r.logger.Debug("fetched price history",
				zap.String("op", "allocation.Runner.fetch"),
				zap.String("symbol", symbol),
				zap.Int("prices", len(prices)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// Run optimizes for the configured desired return.
func (r *Runner) Run(ctx context.Context) (*optimization.Summary, error) {
	_, summary, err := r.Report(ctx)
	return summary, err
}

// Report optimizes for the configured desired return and returns the inputs
// alongside a summary carrying the observation count and every
// configuration and risk tolerance warning.
func (r *Runner) Report(ctx context.Context) (*Inputs, *optimization.Summary, error) {
	in, err := r.Inputs(ctx)
	if err != nil {
		return nil, nil, err
	}
	summary, err := r.Optimize(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	summary.Observations = in.Observations
	summary.AddWarnings(r.conf.ValidateConfiguration()...)
	summary.AddWarnings(validation.RiskToleranceWarning(r.conf.Preferences.RiskTolerance, summary.Volatility))
	return in, summary, nil
}

// Optimize solves prepared inputs under the configured solver timeout.
func (r *Runner) Optimize(ctx context.Context, in *Inputs) (*optimization.Summary, error) {
	op := "allocation.Runner.Optimize"
	settings := r.conf.Solver.Settings()
	ctx, cancel := context.WithTimeout(ctx, r.conf.Solver.Timeout)
	defer cancel()

	res, err := Solve(ctx, in.Problem, settings)
	if err != nil {
		r.logger.Warn("optimization failed",
			zap.String("op", op),
			zap.Float64("target", in.Problem.Target),
			zap.String("kind", portfolio.Classify(err)),
			zap.Error(err),
		)
		return nil, err
	}
	summary, err := Summarize(in.Assets, in.Problem, res, settings)
	if err != nil {
		return nil, err
	}
	r.logger.Info("optimization complete",
		zap.String("op", op),
		zap.Float64("target", in.Problem.Target),
		zap.Float64("volatility", res.Volatility),
		zap.Int("iterations", res.Iterations),
	)
	return summary, nil
}

// Frontier sweeps the efficient frontier for the configured assets.
func (r *Runner) Frontier(ctx context.Context, points int) (*Inputs, []optimization.FrontierPoint, error) {
	in, err := r.Inputs(ctx)
	if err != nil {
		return nil, nil, err
	}
	if points <= 0 {
		points = r.conf.Solver.FrontierPoints
	}
	ctx, cancel := context.WithTimeout(ctx, r.conf.Solver.Timeout*time.Duration(points))
	defer cancel()

	frontier, err := Sweep(ctx, in.Problem, r.conf.Solver.Settings(), points, r.conf.MarketData.Concurrency)
	if err != nil {
		return nil, nil, err
	}
	r.logger.Info("frontier complete",
		zap.String("op", "allocation.Runner.Frontier"),
		zap.Int("points", len(frontier)),
	)
	return in, frontier, nil
}

// Summarize builds a report for a solved problem, including the achievable
// range and a warning when the target sits at one of its ends.
func Summarize(assets []optimization.Asset, p portfolio.Problem, res *portfolio.Result, s portfolio.Settings) (*optimization.Summary, error) {
	rng, err := portfolio.AchievableRange(p.Returns, p.Bounds)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = make([]optimization.Asset, len(p.Returns))
		for i := range assets {
			assets[i] = optimization.Asset{Name: fmt.Sprintf("Asset %d", i+1)}
		}
	}
	summary, err := optimization.NewSummary(assets, p, res, rng)
	if err != nil {
		return nil, err
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = constants.DefaultTolerance
	}
	summary.AddWarnings(validation.TargetRangeWarning(p.Target, rng.Min, rng.Max, tol))
	return &summary, nil
}
