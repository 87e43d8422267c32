// Package testutil provides common utility functions for testing.
package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/optimization"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
)

// FindAllocation finds an allocation by name in the summary.
// Returns a pointer to the allocation if found, nil otherwise.
func FindAllocation(s *optimization.Summary, name string) *optimization.Allocation {
	if s == nil {
		return nil
	}
	for i := range s.Allocations {
		if s.Allocations[i].Name == name {
			return &s.Allocations[i]
		}
	}
	return nil
}

// SyntheticPrices generates a deterministic daily price path of the given
// length, skipping weekends, with annualized drift and volatility.
func SyntheticPrices(seed int64, start time.Time, days int, drift, volatility float64) []stats.Price {
	rng := rand.New(rand.NewSource(seed))
	dt := 1.0 / constants.TradingDaysPerYear
	price := 100.0
	date := start
	prices := make([]stats.Price, 0, days)
	for len(prices) < days {
		if wd := date.Weekday(); wd != time.Saturday && wd != time.Sunday {
			prices = append(prices, stats.Price{Date: date, Close: price})
			price *= math.Exp((drift-volatility*volatility/2)*dt + volatility*math.Sqrt(dt)*rng.NormFloat64())
		}
		date = date.AddDate(0, 0, 1)
	}
	return prices
}

// WritePriceCSV writes prices as <dir>/<symbol>.csv with date and close columns.
func WritePriceCSV(dir, symbol string, prices []stats.Price) error {
	var b strings.Builder
	b.WriteString("Date,Close\n")
	for _, p := range prices {
		fmt.Fprintf(&b, "%s,%.6f\n", p.Date.Format(constants.DateLayout), p.Close)
	}
	return os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o600)
}
