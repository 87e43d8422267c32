package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedSource serves windows from a Cache and fetches misses from the
// wrapped source. Concurrent misses for the same window share one fetch.
type CachedSource struct {
	source Source
	cache  *Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedSource wraps source with cache.
func NewCachedSource(source Source, cache *Cache, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{source: source, cache: cache, logger: logger}
}

// History implements Source.
func (c *CachedSource) History(ctx context.Context, symbol string, start, end time.Time) ([]stats.Price, error) {
	key := fmt.Sprintf("%s:%s:%s", symbol, start.Format(constants.DateLayout), end.Format(constants.DateLayout))
	// The shared fetch outlives any one caller; each caller still stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.load(shared, symbol, start, end)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]stats.Price), nil
	}
}

func (c *CachedSource) load(ctx context.Context, symbol string, start, end time.Time) ([]stats.Price, error) {
	op := "marketdata.CachedSource.History"
	covered, err := c.cache.Covered(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if covered {
		prices, err := c.cache.Load(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		if len(prices) > 0 {
			c.logger.Debug("price cache hit",
				zap.String("op", op),
				zap.String("symbol", symbol),
				zap.Int("prices", len(prices)),
			)
			return prices, nil
		}
	}

	prices, err := c.source.History(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Store(ctx, symbol, start, end, prices); err != nil {
		c.logger.Warn("failed to cache prices",
			zap.String("op", op),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
	c.logger.Debug("price cache miss",
		zap.String("op", op),
		zap.String("symbol", symbol),
		zap.Int("prices", len(prices)),
	)
	return prices, nil
}
