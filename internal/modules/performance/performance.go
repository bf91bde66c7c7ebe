// Package performance computes scalar risk/return statistics from a single
// daily return series.
package performance

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"quantfolio/internal/domain"
)

const (
	// TradingDaysPerYear is the annualization factor for daily series.
	TradingDaysPerYear = 252

	// DefaultVaRConfidence is the confidence level for historical VaR when the
	// caller does not specify one (95% -> 5th percentile of daily returns).
	DefaultVaRConfidence = 0.95

	// minDenominator guards ratio denominators so zero-variance series yield a
	// large finite ratio instead of a division blow-up.
	minDenominator = 1e-10
)

// Summary holds the full metric set for one return series. Percentage fields
// are expressed x100; every field is rounded to 2 decimal places.
type Summary struct {
	AnnualizedReturnPct     float64 `json:"annualized_return_pct"`
	AnnualizedVolatilityPct float64 `json:"annualized_volatility_pct"`
	SharpeRatio             float64 `json:"sharpe_ratio"`
	SortinoRatio            float64 `json:"sortino_ratio"`
	CalmarRatio             float64 `json:"calmar_ratio"`
	MaxDrawdownPct          float64 `json:"max_drawdown_pct"`
	DailyVaRPct             float64 `json:"daily_var_pct"`
	Skewness                float64 `json:"skewness"`
	Kurtosis                float64 `json:"kurtosis"`
}

// Summarize computes the metric set over the full series. The risk-free rate
// is annual and is compared against annualized figures (it is not de-scaled to
// a daily rate). varConfidence <= 0 selects DefaultVaRConfidence.
//
// Historical VaR is the empirical (1-confidence) quantile of the daily
// returns under stats.Percentile's convention: a whole-number rank averages
// the two adjacent sorted observations, a fractional rank takes the lower
// one. Series too short for the requested quantile fall back to the worst
// observed return.
//
// Fewer than 2 observations is an InsufficientDataError: volatility and
// drawdown are undefined on a single point.
func Summarize(series []float64, riskFreeRate float64, varConfidence float64) (Summary, error) {
	if len(series) < 2 {
		return Summary{}, &domain.InsufficientDataError{Op: "performance summary", Need: 2, Got: len(series)}
	}
	if varConfidence <= 0 {
		varConfidence = DefaultVaRConfidence
	}

	annReturn := annualizedReturn(series)
	annVol := annualizedVolatility(series)
	maxDD := MaxDrawdown(series)

	excess := annReturn - riskFreeRate
	sharpe := excess / math.Max(annVol, minDenominator)
	sortino := excess / math.Max(downsideDeviation(series), minDenominator)
	calmar := annReturn / math.Max(math.Abs(maxDD), minDenominator)

	varDaily, err := stats.Percentile(series, (1-varConfidence)*100)
	if err != nil {
		// Too few observations for the requested quantile; the worst
		// observed return is the empirical loss threshold.
		varDaily, _ = stats.Min(series)
	}

	return Summary{
		AnnualizedReturnPct:     round2(annReturn * 100),
		AnnualizedVolatilityPct: round2(annVol * 100),
		SharpeRatio:             round2(sharpe),
		SortinoRatio:            round2(sortino),
		CalmarRatio:             round2(calmar),
		MaxDrawdownPct:          round2(maxDD * 100),
		DailyVaRPct:             round2(varDaily * 100),
		Skewness:                round2(stat.Skew(series, nil)),
		Kurtosis:                round2(stat.ExKurtosis(series, nil)),
	}, nil
}

// annualizedReturn is the compound annual growth rate assuming 252 trading
// periods per year.
func annualizedReturn(series []float64) float64 {
	total := 1.0
	for _, r := range series {
		total *= 1 + r
	}
	if total <= 0 {
		// Capital wiped out; CAGR floor.
		return -1.0
	}
	years := float64(len(series)) / TradingDaysPerYear
	return math.Pow(total, 1/years) - 1
}

func annualizedVolatility(series []float64) float64 {
	stdev, err := stats.StandardDeviationSample(series)
	if err != nil {
		return 0
	}
	return stdev * math.Sqrt(TradingDaysPerYear)
}

// downsideDeviation is the annualized root-mean-square of returns below zero.
func downsideDeviation(series []float64) float64 {
	var sumSq float64
	for _, r := range series {
		if r < 0 {
			sumSq += r * r
		}
	}
	return math.Sqrt(sumSq/float64(len(series))) * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline of the cumulative
// return path, as a negative fraction.
func MaxDrawdown(series []float64) float64 {
	cum := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range series {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		dd := (cum - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
