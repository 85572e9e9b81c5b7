// Package history provides access to stored historical price data and
// derived series statistics.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/domain"
	"github.com/quantfolio/montesim/internal/simulation"
)

// Repository provides access to the daily_prices table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "history_repository").Logger(),
	}
}

// UpsertBars inserts or replaces daily bars inside a single transaction
// and returns the number of rows written.
func (r *Repository) UpsertBars(bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_prices (ticker, date, open, high, low, close, adj_close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			adj_close = excluded.adj_close,
			volume = excluded.volume
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.Exec(
			bar.Ticker, bar.Date.UTC().Unix(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.AdjClose, bar.Volume,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert bar %s/%s: %w", bar.Ticker, bar.DateKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return len(bars), nil
}

// GetDailyBars fetches daily bars for a ticker over [start, end], sorted
// by date ascending.
func (r *Repository) GetDailyBars(ticker string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, open, high, low, close, adj_close, volume
		FROM daily_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var bar domain.Bar
		var dateUnix int64
		if err := rows.Scan(
			&bar.Ticker, &dateUnix,
			&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.AdjClose, &bar.Volume,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		bar.Date = time.Unix(dateUnix, 0).UTC()
		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}

	return bars, nil
}

// AdjCloseTable builds the engine's input price table: per-ticker
// adjusted-close series over [start, end], sorted by date. Tickers with
// no stored rows simply have no entry; the estimator turns that into a
// MissingTickerDataError naming the ticker.
func (r *Repository) AdjCloseTable(tickers []string, start, end time.Time) (simulation.PriceTable, error) {
	table := make(simulation.PriceTable, len(tickers))

	stmt, err := r.db.Prepare(`
		SELECT date, adj_close
		FROM daily_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare adj close query: %w", err)
	}
	defer stmt.Close()

	for _, ticker := range tickers {
		rows, err := stmt.Query(ticker, start.UTC().Unix(), end.UTC().Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to query adj close for %s: %w", ticker, err)
		}

		var series []simulation.PricePoint
		for rows.Next() {
			var dateUnix int64
			var adjClose float64
			if err := rows.Scan(&dateUnix, &adjClose); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan adj close for %s: %w", ticker, err)
			}
			series = append(series, simulation.PricePoint{
				Date:     time.Unix(dateUnix, 0).UTC().Format("2006-01-02"),
				AdjClose: adjClose,
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating adj close for %s: %w", ticker, err)
		}
		rows.Close()

		if len(series) > 0 {
			table[ticker] = series
		}
	}

	return table, nil
}

// Tickers lists the distinct tickers with stored history.
func (r *Repository) Tickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM daily_prices ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// CountBars returns the number of stored bars for a ticker.
func (r *Repository) CountBars(ticker string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM daily_prices WHERE ticker = ?`, ticker).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s: %w", ticker, err)
	}
	return count, nil
}
