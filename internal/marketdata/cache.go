package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS prices (
	symbol TEXT NOT NULL,
	date   TEXT NOT NULL,
	close  REAL NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE TABLE IF NOT EXISTS coverage (
	symbol     TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (symbol, start_date, end_date)
);
`

// Cache stores fetched price windows in SQLite. A window is served from the
// cache only if a single earlier fetch covered all of it.
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening price cache: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing price cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Covered reports whether [start, end) for symbol was fetched before.
func (c *Cache) Covered(ctx context.Context, symbol string, start, end time.Time) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coverage WHERE symbol = ? AND start_date <= ? AND end_date >= ?`,
		symbol, start.Format(constants.DateLayout), end.Format(constants.DateLayout),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying coverage for %s: %w", symbol, err)
	}
	return n > 0, nil
}

// Load returns cached prices for symbol with start <= date < end.
func (c *Cache) Load(ctx context.Context, symbol string, start, end time.Time) ([]stats.Price, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT date, close FROM prices WHERE symbol = ? AND date >= ? AND date < ? ORDER BY date`,
		symbol, start.Format(constants.DateLayout), end.Format(constants.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("loading %s from cache: %w", symbol, err)
	}
	defer rows.Close()

	var prices []stats.Price
	for rows.Next() {
		var date string
		var p stats.Price
		if err := rows.Scan(&date, &p.Close); err != nil {
			return nil, err
		}
		if p.Date, err = datetime.ParseDate(date); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// Store saves prices and records [start, end) as covered for symbol.
func (c *Cache) Store(ctx context.Context, symbol string, start, end time.Time, prices []stats.Price) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO prices (symbol, date, close) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range prices {
		if _, err := stmt.ExecContext(ctx, symbol, p.Date.Format(constants.DateLayout), p.Close); err != nil {
			return fmt.Errorf("caching %s: %w", symbol, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO coverage (symbol, start_date, end_date, fetched_at) VALUES (?, ?, ?, ?)`,
		symbol, start.Format(constants.DateLayout), end.Format(constants.DateLayout), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording coverage for %s: %w", symbol, err)
	}
	return tx.Commit()
}
