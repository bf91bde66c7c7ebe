// Package history persists daily closing prices in SQLite and serves them
// back as aligned price tables for analysis.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"quantfolio/internal/modules/returns"
)

// DailyPrice is one closing price observation for one symbol.
type DailyPrice struct {
	Symbol string  `csv:"symbol" json:"symbol"`
	Date   string  `csv:"date" json:"date"` // YYYY-MM-DD
	Close  float64 `csv:"close" json:"close"`
}

// Store reads and writes daily price history.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a price history store backed by db.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "history").Logger(),
	}
}

// Init creates the price history schema if it doesn't exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS daily_prices (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			close  REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create daily_prices table: %w", err)
	}
	return nil
}

// SaveDailyPrices upserts a batch of price observations in one transaction.
func (s *Store) SaveDailyPrices(ctx context.Context, prices []DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_prices (symbol, date, close)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		if _, err := stmt.ExecContext(ctx, p.Symbol, p.Date, p.Close); err != nil {
			return fmt.Errorf("failed to upsert price for %s on %s: %w", p.Symbol, p.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price batch: %w", err)
	}

	s.log.Debug().Int("count", len(prices)).Msg("Saved daily prices")
	return nil
}

// GetDailyPrices returns one symbol's history in ascending date order,
// limited to the most recent lookbackDays observations (0 means all).
func (s *Store) GetDailyPrices(ctx context.Context, symbol string, lookbackDays int) ([]DailyPrice, error) {
	query := `
		SELECT symbol, date, close
		FROM daily_prices
		WHERE symbol = ?
		ORDER BY date DESC
	`
	args := []any{symbol}
	if lookbackDays > 0 {
		query += " LIMIT ?"
		args = append(args, lookbackDays)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		if err := rows.Scan(&p.Symbol, &p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading price rows: %w", err)
	}

	// Newest-first limit, oldest-first result.
	sort.Slice(prices, func(i, j int) bool { return prices[i].Date < prices[j].Date })
	return prices, nil
}

// PriceTable assembles the symbols' histories into one table on the union
// of their trading dates. Dates a symbol has no observation for are NaN;
// the returns engine drops those rows during alignment.
func (s *Store) PriceTable(ctx context.Context, symbols []string, lookbackDays int) (returns.PriceTable, error) {
	if len(symbols) == 0 {
		return returns.PriceTable{}, fmt.Errorf("no symbols requested")
	}

	bySymbol := make(map[string]map[string]float64, len(symbols))
	dateSet := make(map[string]struct{})

	for _, symbol := range symbols {
		prices, err := s.GetDailyPrices(ctx, symbol, lookbackDays)
		if err != nil {
			return returns.PriceTable{}, err
		}
		if len(prices) == 0 {
			return returns.PriceTable{}, fmt.Errorf("no price history for symbol %s", symbol)
		}

		series := make(map[string]float64, len(prices))
		for _, p := range prices {
			series[p.Date] = p.Close
			dateSet[p.Date] = struct{}{}
		}
		bySymbol[symbol] = series
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	table := returns.PriceTable{
		Dates:  dates,
		Prices: make(map[string][]float64, len(symbols)),
	}
	for _, symbol := range symbols {
		series := make([]float64, len(dates))
		for i, d := range dates {
			if price, ok := bySymbol[symbol][d]; ok {
				series[i] = price
			} else {
				series[i] = math.NaN()
			}
		}
		table.Prices[symbol] = series
	}

	return table, nil
}

// ImportCSV loads daily prices from a CSV file with symbol,date,close
// columns and upserts them into the store.
func (s *Store) ImportCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var prices []DailyPrice
	if err := gocsv.UnmarshalFile(f, &prices); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for _, p := range prices {
		if p.Symbol == "" || p.Date == "" {
			return 0, fmt.Errorf("invalid row in %s: symbol and date are required", path)
		}
	}

	if err := s.SaveDailyPrices(ctx, prices); err != nil {
		return 0, err
	}

	s.log.Info().Str("file", path).Int("rows", len(prices)).Msg("Imported price history")
	return len(prices), nil
}
