package allocation

import (
	"context"
	"fmt"

	"github.com/iwvelando/portfolio-optimizer/pkg/optimization"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
	"golang.org/x/sync/errgroup"
)

// Solve runs the optimizer and gives up when ctx is done. The optimizer
// itself is not interruptible; an abandoned solve finishes in the background.
func Solve(ctx context.Context, p portfolio.Problem, s portfolio.Settings) (*portfolio.Result, error) {
	type outcome struct {
		res *portfolio.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := portfolio.OptimizeWithSettings(p, s)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.res, o.err
	}
}

// Sweep solves p at points evenly spaced targets spanning the achievable
// range, at most limit at a time. p.Target is ignored. Failed points carry
// the error instead of statistics.
func Sweep(ctx context.Context, p portfolio.Problem, s portfolio.Settings, points, limit int) ([]optimization.FrontierPoint, error) {
	if points < 2 {
		return nil, fmt.Errorf("frontier needs at least 2 points, got %d", points)
	}
	if err := p.Validate(s); err != nil {
		return nil, err
	}
	rng, err := portfolio.AchievableRange(p.Returns, p.Bounds)
	if err != nil {
		return nil, err
	}

	frontier := make([]optimization.FrontierPoint, points)
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range frontier {
		target := rng.Min + (rng.Max-rng.Min)*float64(i)/float64(points-1)
		if i == points-1 {
			target = rng.Max
		}
		g.Go(func() error {
			q := p
			q.Target = target
			res, err := Solve(ctx, q, s)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			pt := optimization.FrontierPoint{Target: target}
			if err != nil {
				pt.Error = err.Error()
				pt.Kind = portfolio.Classify(err)
			} else {
				pt.Return = res.Return
				pt.Volatility = res.Volatility
				pt.Weights = res.Weights
			}
			frontier[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frontier, nil
}
