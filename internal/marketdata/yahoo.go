package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// YahooSource fetches adjusted daily closes from Yahoo Finance.
type YahooSource struct {
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewYahooSource creates a source that issues at most requestsPerSecond requests.
func NewYahooSource(requestsPerSecond float64, logger *zap.Logger) *YahooSource {
	if requestsPerSecond <= 0 {
		requestsPerSecond = constants.DefaultRequestsPerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YahooSource{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:  logger,
		now:     time.Now,
	}
}

// History implements Source.
func (y *YahooSource) History(ctx context.Context, symbol string, start, end time.Time) ([]stats.Price, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker %s: %w", symbol, err)
	}
	defer t.Close()

	params := models.HistoryParams{
		Period:     datetime.YahooPeriod(start, y.now()),
		Interval:   "1d",
		AutoAdjust: true,
	}
	y.logger.Debug("fetching price history",
		zap.String("op", "marketdata.YahooSource.History"),
		zap.String("symbol", symbol),
		zap.String("period", params.Period),
	)

	bars, err := t.History(params)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices for %s: %w", symbol, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prices := window(barPrices(bars), start, end)
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s between %s and %s", ErrNoData, symbol,
			start.Format(constants.DateLayout), end.Format(constants.DateLayout))
	}
	return prices, nil
}

// barPrices prefers the adjusted close and skips bars without a usable price.
func barPrices(bars []models.Bar) []stats.Price {
	prices := make([]stats.Price, 0, len(bars))
	for _, bar := range bars {
		price := bar.AdjClose
		if price <= 0 {
			price = bar.Close
		}
		if price <= 0 {
			continue
		}
		prices = append(prices, stats.Price{Date: bar.Date, Close: price})
	}
	return prices
}
