package marketdata

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"github.com/iwvelando/portfolio-optimizer/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnjoon/go-yfinance/pkg/models"
)

func date(s string) time.Time {
	return datetime.MustParseTime(datetime.DateLayout, s)
}

type countingSource struct {
	calls  atomic.Int32
	prices []stats.Price
	err    error
}

func (c *countingSource) History(_ context.Context, _ string, start, end time.Time) ([]stats.Price, error) {
	c.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	if c.err != nil {
		return nil, c.err
	}
	return window(c.prices, start, end), nil
}

type gatedSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	prices  []stats.Price
}

func (g *gatedSource) History(ctx context.Context, _ string, start, end time.Time) ([]stats.Price, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return window(g.prices, start, end), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReadPrices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float64
		wantErr bool
	}{
		{
			name:  "Yahoo export prefers adjusted close",
			input: "Date,Open,High,Low,Close,Adj Close,Volume\n2020-01-02,1,1,1,10,9.5,100\n2020-01-03,1,1,1,11,10.5,100\n",
			want:  []float64{9.5, 10.5},
		},
		{
			name:  "Close only with null rows",
			input: "date,close\n2020-01-02,10\n2020-01-03,null\n2020-01-06,\n2020-01-07,12\n",
			want:  []float64{10, 12},
		},
		{
			name:    "Missing close column",
			input:   "Date,Volume\n2020-01-02,100\n",
			wantErr: true,
		},
		{
			name:    "Bad date",
			input:   "Date,Close\n01/02/2020,10\n",
			wantErr: true,
		},
		{
			name:    "Bad price",
			input:   "Date,Close\n2020-01-02,ten\n",
			wantErr: true,
		},
		{
			name:    "Empty file",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices, err := ReadPrices(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got := make([]float64, len(prices))
			for i, p := range prices {
				got[i] = p.Close
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCSVSourceWindow(t *testing.T) {
	dir := t.TempDir()
	prices := testutil.SyntheticPrices(1, date("2020-01-01"), 40, 0.05, 0.1)
	require.NoError(t, testutil.WritePriceCSV(dir, "VTI", prices))

	src := NewCSVSource(dir)
	got, err := src.History(context.Background(), "VTI", date("2020-01-06"), date("2020-01-13"))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, date("2020-01-06"), got[0].Date)
	assert.Equal(t, date("2020-01-10"), got[4].Date)

	_, err = src.History(context.Background(), "MISSING", date("2020-01-01"), date("2021-01-01"))
	assert.ErrorIs(t, err, ErrNoData)

	_, err = src.History(context.Background(), "VTI", date("2030-01-01"), date("2031-01-01"))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestCSVSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSVSource(t.TempDir()).History(ctx, "VTI", date("2020-01-01"), date("2021-01-01"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBarPrices(t *testing.T) {
	bars := []models.Bar{
		{Date: date("2020-01-02"), Close: 10, AdjClose: 9},
		{Date: date("2020-01-03"), Close: 11},
		{Date: date("2020-01-06")},
	}
	prices := barPrices(bars)
	require.Len(t, prices, 2)
	assert.Equal(t, 9.0, prices[0].Close)
	assert.Equal(t, 11.0, prices[1].Close)
}

func TestWindowNormalizesDates(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	prices := []stats.Price{
		{Date: time.Date(2020, 1, 3, 9, 30, 0, 0, time.UTC), Close: 2},
		{Date: time.Date(2020, 1, 2, 9, 30, 0, 0, loc), Close: 1},
		{Date: time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC), Close: 3},
	}
	got := window(prices, date("2020-01-01"), date("2020-01-10"))
	require.Len(t, got, 2)
	assert.Equal(t, date("2020-01-02"), got[0].Date)
	assert.Equal(t, date("2020-01-03"), got[1].Date)
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	prices := testutil.SyntheticPrices(2, date("2020-01-01"), 10, 0.05, 0.1)
	start, end := date("2020-01-01"), date("2020-02-01")

	covered, err := cache.Covered(ctx, "GLD", start, end)
	require.NoError(t, err)
	assert.False(t, covered)

	require.NoError(t, cache.Store(ctx, "GLD", start, end, prices))

	covered, err = cache.Covered(ctx, "GLD", date("2020-01-05"), date("2020-01-20"))
	require.NoError(t, err)
	assert.True(t, covered, "sub-window should be covered")

	covered, err = cache.Covered(ctx, "GLD", date("2019-12-01"), end)
	require.NoError(t, err)
	assert.False(t, covered, "wider window should not be covered")

	loaded, err := cache.Load(ctx, "GLD", start, end)
	require.NoError(t, err)
	require.Len(t, loaded, len(prices))
	for i := range prices {
		assert.True(t, prices[i].Date.Equal(loaded[i].Date))
		assert.InDelta(t, prices[i].Close, loaded[i].Close, 1e-12)
	}
}

func TestCachedSourceFetchesOnce(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	defer cache.Close()

	inner := &countingSource{prices: testutil.SyntheticPrices(3, date("2020-01-01"), 30, 0.05, 0.1)}
	src := NewCachedSource(inner, cache, nil)
	start, end := date("2020-01-01"), date("2020-02-01")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prices, err := src.History(context.Background(), "TLT", start, end)
			assert.NoError(t, err)
			assert.NotEmpty(t, prices)
		}()
	}
	wg.Wait()

	prices, err := src.History(context.Background(), "TLT", start, end)
	require.NoError(t, err)
	assert.NotEmpty(t, prices)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedSourceCancelledCallerDoesNotFailOthers(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	defer cache.Close()

	inner := &gatedSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
		prices:  testutil.SyntheticPrices(4, date("2020-01-01"), 30, 0.05, 0.1),
	}
	src := NewCachedSource(inner, cache, nil)
	start, end := date("2020-01-01"), date("2020-02-01")

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := src.History(ctx, "GLD", start, end)
		firstErr <- err
	}()
	<-inner.started

	type outcome struct {
		prices []stats.Price
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		prices, err := src.History(context.Background(), "GLD", start, end)
		second <- outcome{prices, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(inner.release)
	got := <-second
	require.NoError(t, got.err)
	assert.NotEmpty(t, got.prices)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedSourcePropagatesErrors(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	defer cache.Close()

	boom := errors.New("upstream down")
	src := NewCachedSource(&countingSource{err: boom}, cache, nil)
	_, err = src.History(context.Background(), "TLT", date("2020-01-01"), date("2020-02-01"))
	assert.ErrorIs(t, err, boom)
}

func TestNew(t *testing.T) {
	src, closeFn, err := New(Options{Provider: "csv", CSVDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CSVSource{}, src)
	assert.NoError(t, closeFn())

	src, closeFn, err = New(Options{Provider: "csv", CSVDir: t.TempDir(), CachePath: filepath.Join(t.TempDir(), "c.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedSource{}, src)
	assert.NoError(t, closeFn())

	src, _, err = New(Options{Provider: "yahoo"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &YahooSource{}, src)

	_, _, err = New(Options{Provider: "bloomberg"}, nil)
	assert.Error(t, err)
}
