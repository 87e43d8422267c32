// Package marketdata loads daily price histories from Yahoo Finance, CSV
// files or a SQLite cache in front of either.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"go.uber.org/zap"
)

// ErrNoData is returned when a source has no prices for a symbol in the window.
var ErrNoData = errors.New("no price data")

// Source returns daily closes for symbol with start <= date < end, ascending.
type Source interface {
	History(ctx context.Context, symbol string, start, end time.Time) ([]stats.Price, error)
}

// Options configures New.
type Options struct {
	Provider          string
	CSVDir            string
	CachePath         string
	RequestsPerSecond float64
}

// New builds the configured source, wrapped in a SQLite cache when CachePath
// is set. The returned close function releases the cache.
func New(opts Options, logger *zap.Logger) (Source, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var src Source
	switch opts.Provider {
	case constants.ProviderYahoo, "":
		src = NewYahooSource(opts.RequestsPerSecond, logger)
	case constants.ProviderCSV:
		src = NewCSVSource(opts.CSVDir)
	default:
		return nil, nil, fmt.Errorf("market data provider %q is not supported", opts.Provider)
	}

	if opts.CachePath == "" {
		return src, func() error { return nil }, nil
	}
	cache, err := OpenCache(opts.CachePath)
	if err != nil {
		return nil, nil, err
	}
	return NewCachedSource(src, cache, logger), cache.Close, nil
}

// window keeps prices with start <= date < end, normalized to calendar dates,
// sorted and de-duplicated.
func window(prices []stats.Price, start, end time.Time) []stats.Price {
	out := make([]stats.Price, 0, len(prices))
	for _, p := range prices {
		d := datetime.Truncate(p.Date)
		if d.Before(start) || !d.Before(end) {
			continue
		}
		out = append(out, stats.Price{Date: d, Close: p.Close})
	}
	return stats.SortPrices(out)
}
