package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
)

// CSVSource reads <dir>/<symbol>.csv files with a header row naming a date
// column and an "adj close" or "close" column, as exported by Yahoo Finance.
type CSVSource struct {
	dir string
}

// NewCSVSource creates a source reading from dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// History implements Source.
func (c *CSVSource) History(ctx context.Context, symbol string, start, end time.Time) ([]stats.Price, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(c.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoData, path)
		}
		return nil, err
	}
	defer f.Close()

	all, err := ReadPrices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	prices := window(all, start, end)
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s between %s and %s", ErrNoData, symbol,
			start.Format(constants.DateLayout), end.Format(constants.DateLayout))
	}
	return prices, nil
}

// ReadPrices parses a price CSV. Rows with an empty or "null" price are skipped.
func ReadPrices(r io.Reader) ([]stats.Price, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	dateCol, closeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "adj close", "adj_close", "adjclose":
			closeCol = i
		case "close":
			if closeCol < 0 {
				closeCol = i
			}
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("header %v must name a date and a close column", header)
	}

	var prices []stats.Price
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raw := strings.TrimSpace(record[closeCol])
		if raw == "" || strings.EqualFold(raw, "null") {
			continue
		}
		date, err := datetime.ParseDate(strings.TrimSpace(record[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price %q", line, raw)
		}
		prices = append(prices, stats.Price{Date: date, Close: value})
	}
	return prices, nil
}
