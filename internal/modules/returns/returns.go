// Package returns converts aligned daily price series into per-asset and
// per-portfolio return series. Alignment is the authoritative sanitizer for
// price data: rows with missing or non-positive prices are dropped across all
// assets at once so that every return column shares the same date index.
package returns

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"quantfolio/internal/domain"
)

// Method selects how periodic returns are derived from prices.
type Method string

const (
	MethodSimple Method = "simple" // r = p1/p0 - 1
	MethodLog    Method = "log"    // r = ln(p1/p0)
)

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodSimple, MethodLog:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unknown return method %q: must be 'simple' or 'log'", s)
	}
}

// PriceTable holds daily closing prices for a set of symbols.
// Dates are sorted ascending in "2006-01-02" format; math.NaN marks a missing
// price. Prices[sym] has the same length as Dates for every symbol.
type PriceTable struct {
	Dates  []string
	Prices map[string][]float64
}

// ReturnTable holds aligned daily returns for a set of symbols. Every column
// has the same length and the same date index. Symbols is sorted so the table
// has a deterministic column order.
type ReturnTable struct {
	Dates   []string
	Symbols []string
	Returns map[string][]float64
}

// Engine computes aligned return series from raw price tables.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a new return engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "returns").Logger(),
	}
}

// Align drops every date row where any symbol's price is missing or not
// strictly positive. The whole row goes, across all symbols, to keep the
// cross-asset date index identical.
func Align(pt PriceTable) PriceTable {
	symbols := sortedSymbols(pt.Prices)

	keep := make([]int, 0, len(pt.Dates))
	for t := range pt.Dates {
		valid := true
		for _, sym := range symbols {
			p := pt.Prices[sym][t]
			if math.IsNaN(p) || p <= 0 {
				valid = false
				break
			}
		}
		if valid {
			keep = append(keep, t)
		}
	}

	aligned := PriceTable{
		Dates:  make([]string, len(keep)),
		Prices: make(map[string][]float64, len(symbols)),
	}
	for i, t := range keep {
		aligned.Dates[i] = pt.Dates[t]
	}
	for _, sym := range symbols {
		col := make([]float64, len(keep))
		for i, t := range keep {
			col[i] = pt.Prices[sym][t]
		}
		aligned.Prices[sym] = col
	}

	return aligned
}

// Compute derives aligned daily returns from a price table. The first date of
// the aligned price history has no return and is dropped; any row left with a
// non-finite value in any column is dropped across all columns. Zero rows
// after sanitization is an InsufficientDataError.
func (e *Engine) Compute(pt PriceTable, method Method) (ReturnTable, error) {
	if method != MethodSimple && method != MethodLog {
		return ReturnTable{}, fmt.Errorf("unknown return method %q", method)
	}

	aligned := Align(pt)
	symbols := sortedSymbols(aligned.Prices)
	if len(symbols) == 0 {
		return ReturnTable{}, &domain.InsufficientDataError{Op: "compute returns", Need: 1, Got: 0}
	}

	dropped := len(pt.Dates) - len(aligned.Dates)
	if dropped > 0 {
		e.log.Warn().
			Int("dropped_rows", dropped).
			Int("remaining_rows", len(aligned.Dates)).
			Msg("Dropped price rows with missing or non-positive values")
	}

	numRows := len(aligned.Dates) - 1
	if numRows < 0 {
		numRows = 0
	}

	raw := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		prices := aligned.Prices[sym]
		col := make([]float64, numRows)
		for t := 1; t < len(prices); t++ {
			var r float64
			switch method {
			case MethodLog:
				r = math.Log(prices[t] / prices[t-1])
			default:
				r = prices[t]/prices[t-1] - 1
			}
			if math.IsInf(r, 0) {
				r = math.NaN()
			}
			col[t-1] = r
		}
		raw[sym] = col
	}

	// Purge any remaining non-finite rows across all columns at once.
	keep := make([]int, 0, numRows)
	for t := 0; t < numRows; t++ {
		valid := true
		for _, sym := range symbols {
			if math.IsNaN(raw[sym][t]) {
				valid = false
				break
			}
		}
		if valid {
			keep = append(keep, t)
		}
	}

	if len(keep) == 0 {
		return ReturnTable{}, &domain.InsufficientDataError{Op: "compute returns", Need: 1, Got: 0}
	}

	rt := ReturnTable{
		Dates:   make([]string, len(keep)),
		Symbols: symbols,
		Returns: make(map[string][]float64, len(symbols)),
	}
	for i, t := range keep {
		// Return at row t belongs to the later of the two price dates.
		rt.Dates[i] = aligned.Dates[t+1]
	}
	for _, sym := range symbols {
		col := make([]float64, len(keep))
		for i, t := range keep {
			col[i] = raw[sym][t]
		}
		rt.Returns[sym] = col
	}

	e.log.Debug().
		Int("num_symbols", len(symbols)).
		Int("num_rows", len(rt.Dates)).
		Str("method", string(method)).
		Msg("Computed aligned return series")

	return rt, nil
}

// PortfolioReturns computes the weighted sum of the asset return columns per
// date. Weights are looked up by symbol, so column order can never silently
// mismatch; a table symbol without a weight, or a weight for a symbol not in
// the table, is a MisalignedWeightsError.
func (e *Engine) PortfolioReturns(rt ReturnTable, weights map[string]float64) ([]float64, error) {
	for sym := range weights {
		if _, ok := rt.Returns[sym]; !ok {
			return nil, &domain.MisalignedWeightsError{Symbol: sym, Reason: "weight given for asset not in return table"}
		}
	}

	portfolio := make([]float64, len(rt.Dates))
	for _, sym := range rt.Symbols {
		w, ok := weights[sym]
		if !ok {
			return nil, &domain.MisalignedWeightsError{Symbol: sym, Reason: "no weight for asset"}
		}
		col := rt.Returns[sym]
		for t := range col {
			portfolio[t] += w * col[t]
		}
	}

	return portfolio, nil
}

func sortedSymbols(m map[string][]float64) []string {
	symbols := make([]string, 0, len(m))
	for sym := range m {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
