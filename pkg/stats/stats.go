// Package stats estimates annualized expected returns and covariance from
// daily price histories.
package stats

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientHistory is returned when a series is too short to estimate from.
var ErrInsufficientHistory = errors.New("insufficient price history")

// Price is one daily close.
type Price struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Series is the price history of one symbol, ascending by date.
type Series struct {
	Symbol string
	Prices []Price
}

// Closes returns the closing prices in order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s.Prices))
	for i, p := range s.Prices {
		closes[i] = p.Close
	}
	return closes
}

// Estimate holds annualized statistics for a set of symbols in input order.
type Estimate struct {
	Symbols    []string
	Returns    []float64
	Covariance [][]float64
	// Observations is the number of aligned daily returns behind Covariance.
	Observations int
	Start        time.Time
	End          time.Time
}

// SortPrices orders prices by date and drops duplicate dates, keeping the last.
func SortPrices(prices []Price) []Price {
	sorted := append([]Price(nil), prices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// Align keeps only the dates present in every series. The result holds one
// close vector per series, in input order, over the common ascending dates.
func Align(series []Series) ([]time.Time, [][]float64, error) {
	if len(series) == 0 {
		return nil, nil, fmt.Errorf("%w: no series to align", ErrInsufficientHistory)
	}

	counts := make(map[time.Time]int)
	for _, s := range series {
		seen := make(map[time.Time]bool, len(s.Prices))
		for _, p := range s.Prices {
			if !seen[p.Date] {
				seen[p.Date] = true
				counts[p.Date]++
			}
		}
	}

	dates := make([]time.Time, 0, len(counts))
	for d, c := range counts {
		if c == len(series) {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return nil, nil, fmt.Errorf("%w: series share no dates", ErrInsufficientHistory)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}
	closes := make([][]float64, len(series))
	for k, s := range series {
		closes[k] = make([]float64, len(dates))
		for _, p := range s.Prices {
			if i, ok := index[p.Date]; ok {
				closes[k][i] = p.Close
			}
		}
	}
	return dates, closes, nil
}

// DailyReturns converts closes to simple percentage changes.
func DailyReturns(closes []float64) ([]float64, error) {
	if len(closes) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 prices, got %d", ErrInsufficientHistory, len(closes))
	}
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			return nil, fmt.Errorf("non-positive price %g at index %d", closes[i-1], i-1)
		}
		returns[i-1] = (closes[i] - closes[i-1]) / closes[i-1]
	}
	return returns, nil
}

// AnnualizedMeanReturn is the mean daily return scaled by periodsPerYear.
func AnnualizedMeanReturn(closes []float64, periodsPerYear float64) (float64, error) {
	returns, err := DailyReturns(closes)
	if err != nil {
		return 0, err
	}
	return stat.Mean(returns, nil) * periodsPerYear, nil
}

// AnnualizedCovariance is the sample covariance (n-1 denominator) of the
// daily returns of aligned close vectors, scaled by periodsPerYear.
func AnnualizedCovariance(closes [][]float64, periodsPerYear float64) ([][]float64, int, error) {
	n := len(closes)
	if n == 0 {
		return nil, 0, fmt.Errorf("%w: no series", ErrInsufficientHistory)
	}

	var observations int
	columns := make([][]float64, n)
	for k, c := range closes {
		r, err := DailyReturns(c)
		if err != nil {
			return nil, 0, fmt.Errorf("series %d: %w", k, err)
		}
		if k > 0 && len(r) != observations {
			return nil, 0, fmt.Errorf("series %d has %d returns, expected %d", k, len(r), observations)
		}
		observations = len(r)
		columns[k] = r
	}
	if observations < 2 {
		return nil, 0, fmt.Errorf("%w: need at least 2 aligned returns, got %d", ErrInsufficientHistory, observations)
	}

	x := mat.NewDense(observations, n, nil)
	for k, r := range columns {
		x.SetCol(k, r)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	cov.ScaleSym(periodsPerYear, &cov)

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = cov.At(i, j)
		}
	}
	return out, observations, nil
}

// EstimateFrom computes per-symbol mean returns on each symbol's own history and
// the covariance on the dates all symbols share.
func EstimateFrom(series []Series, periodsPerYear float64) (*Estimate, error) {
	est := &Estimate{
		Symbols: make([]string, len(series)),
		Returns: make([]float64, len(series)),
	}
	for k, s := range series {
		est.Symbols[k] = s.Symbol
		mean, err := AnnualizedMeanReturn(s.Closes(), periodsPerYear)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Symbol, err)
		}
		est.Returns[k] = mean
	}

	dates, closes, err := Align(series)
	if err != nil {
		return nil, err
	}
	cov, observations, err := AnnualizedCovariance(closes, periodsPerYear)
	if err != nil {
		return nil, err
	}
	est.Covariance = cov
	est.Observations = observations
	est.Start = dates[0]
	est.End = dates[len(dates)-1]
	return est, nil
}
