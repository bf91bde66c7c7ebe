package analysis

import (
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantfolio/internal/domain"
	"quantfolio/internal/modules/returns"
)

// syntheticPrices builds a deterministic multi-asset price history with
// enough day-to-day variation to keep the covariance matrix well conditioned.
func syntheticPrices(days int) returns.PriceTable {
	table := returns.PriceTable{
		Dates:  make([]string, days),
		Prices: map[string][]float64{},
	}

	params := []struct {
		symbol string
		base   float64
		drift  float64
		amp    float64
		freq   float64
	}{
		{"AAPL", 100.0, 0.0008, 0.015, 0.9},
		{"MSFT", 200.0, 0.0005, 0.010, 1.7},
		{"NVDA", 50.0, 0.0012, 0.025, 2.3},
	}

	for _, p := range params {
		series := make([]float64, days)
		price := p.base
		for i := 0; i < days; i++ {
			price *= 1.0 + p.drift + p.amp*math.Sin(p.freq*float64(i))
			series[i] = price
		}
		table.Prices[p.symbol] = series
	}

	for i := 0; i < days; i++ {
		table.Dates[i] = fmt.Sprintf("2024-%02d-%02d", 1+i/28, 1+i%28)
	}
	return table
}

func defaultOptions() Options {
	return Options{
		RiskFreeRate:  0.02,
		ReturnMethod:  returns.MethodSimple,
		VaRConfidence: 0.95,
	}
}

func defaultWeights() map[string]float64 {
	return map[string]float64{"AAPL": 0.4, "MSFT": 0.4, "NVDA": 0.2}
}

func TestAnalyzeProducesCompleteReport(t *testing.T) {
	svc := NewService(zerolog.Nop())

	report, err := svc.Analyze(syntheticPrices(120), defaultWeights(), defaultOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.False(t, report.GeneratedAt.IsZero())
	assert.Equal(t, 119, report.TradingDays) // one row lost to differencing
	assert.Less(t, report.StartDate, report.EndDate)
	assert.Equal(t, defaultWeights(), report.Weights)

	// Both optimal allocations are long-only and fully invested.
	for name, p := range map[string]map[string]float64{
		"max_sharpe":     report.MaxSharpe.Weights,
		"min_volatility": report.MinVolatility.Weights,
	} {
		sum := 0.0
		for sym, w := range p {
			assert.GreaterOrEqual(t, w, 0.0, "%s weight for %s", name, sym)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "%s weights should sum to 1", name)
	}

	assert.Greater(t, report.Performance.AnnualizedVolatilityPct, 0.0)
}

func TestAnalyzeZeroValueOptionsUseDefaults(t *testing.T) {
	svc := NewService(zerolog.Nop())
	prices := syntheticPrices(120)

	report, err := svc.Analyze(prices, defaultWeights(), Options{})
	require.NoError(t, err)

	// The zero value means rf 0, simple returns, 95% VaR confidence.
	explicit, err := svc.Analyze(prices, defaultWeights(), Options{
		RiskFreeRate:  0.0,
		ReturnMethod:  returns.MethodSimple,
		VaRConfidence: 0.95,
	})
	require.NoError(t, err)

	assert.Equal(t, explicit.Performance, report.Performance)
	assert.Equal(t, explicit.MaxSharpe.Weights, report.MaxSharpe.Weights)
}

func TestAnalyzeRejectsBadWeightSum(t *testing.T) {
	svc := NewService(zerolog.Nop())

	_, err := svc.Analyze(syntheticPrices(120), map[string]float64{
		"AAPL": 0.5, "MSFT": 0.3, "NVDA": 0.1,
	}, defaultOptions())
	require.Error(t, err)

	var sumErr *domain.WeightSumError
	assert.ErrorAs(t, err, &sumErr)
	assert.InDelta(t, 0.9, sumErr.Sum, 1e-9)
}

func TestAnalyzeRejectsNegativeWeight(t *testing.T) {
	svc := NewService(zerolog.Nop())

	_, err := svc.Analyze(syntheticPrices(120), map[string]float64{
		"AAPL": 1.2, "MSFT": -0.2,
	}, defaultOptions())
	require.Error(t, err)

	var misErr *domain.MisalignedWeightsError
	assert.ErrorAs(t, err, &misErr)
	assert.Equal(t, "MSFT", misErr.Symbol)
}

func TestAnalyzeRejectsUnknownSymbolWeight(t *testing.T) {
	svc := NewService(zerolog.Nop())

	weights := defaultWeights()
	delete(weights, "NVDA")
	weights["GOOG"] = 0.2

	_, err := svc.Analyze(syntheticPrices(120), weights, defaultOptions())
	require.Error(t, err)

	var misErr *domain.MisalignedWeightsError
	assert.ErrorAs(t, err, &misErr)
}

func TestAnalyzeRejectsShortHistory(t *testing.T) {
	svc := NewService(zerolog.Nop())

	_, err := svc.Analyze(syntheticPrices(20), defaultWeights(), defaultOptions())
	require.Error(t, err)

	var dataErr *domain.InsufficientDataError
	assert.ErrorAs(t, err, &dataErr)
}

func TestAnalyzeLogAndSimpleReturnsDiffer(t *testing.T) {
	svc := NewService(zerolog.Nop())
	prices := syntheticPrices(120)

	simpleOpts := defaultOptions()
	logOpts := defaultOptions()
	logOpts.ReturnMethod = returns.MethodLog

	simple, err := svc.Analyze(prices, defaultWeights(), simpleOpts)
	require.NoError(t, err)
	logarithmic, err := svc.Analyze(prices, defaultWeights(), logOpts)
	require.NoError(t, err)

	// Same data, different compounding convention: close but not equal.
	assert.NotEqual(t, simple.Performance.AnnualizedReturnPct, logarithmic.Performance.AnnualizedReturnPct)
}

func TestValidateWeightsAcceptsWithinTolerance(t *testing.T) {
	assert.NoError(t, ValidateWeights(map[string]float64{"A": 0.5, "B": 0.495}))
	assert.NoError(t, ValidateWeights(map[string]float64{"A": 0.5, "B": 0.505}))
}

func TestValidateWeightsRejectsEmpty(t *testing.T) {
	for _, weights := range []map[string]float64{nil, {}} {
		err := ValidateWeights(weights)
		require.Error(t, err)

		var sumErr *domain.WeightSumError
		require.ErrorAs(t, err, &sumErr)
		assert.Equal(t, 0.0, sumErr.Sum)
	}
}

func TestValidateWeightsRejectsNonFinite(t *testing.T) {
	assert.Error(t, ValidateWeights(map[string]float64{"A": math.NaN(), "B": 1.0}))
	assert.Error(t, ValidateWeights(map[string]float64{"A": math.Inf(1), "B": 0.5}))
}
