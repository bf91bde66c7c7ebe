package optimization

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantfolio/internal/domain"
	"quantfolio/internal/modules/riskmodel"
)

func twoAssetModel() *riskmodel.Model {
	return &riskmodel.Model{
		Symbols: []string{"AAPL", "MSFT"},
		ExpectedReturns: map[string]float64{
			"AAPL": 0.12,
			"MSFT": 0.08,
		},
		Cov: [][]float64{
			{0.04, 0.01},
			{0.01, 0.03},
		},
	}
}

func TestOptimizeWeightsSumToOne(t *testing.T) {
	o := NewOptimizer(zerolog.Nop())

	result, err := o.Optimize(twoAssetModel(), 0.02)
	require.NoError(t, err)

	for name, p := range map[string]OptimalPortfolio{
		"max_sharpe":     result.MaxSharpe,
		"min_volatility": result.MinVolatility,
	} {
		sum := 0.0
		for _, w := range p.Weights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "%s weights should sum to 1", name)
	}
}

func TestOptimizeWeightsNonNegative(t *testing.T) {
	o := NewOptimizer(zerolog.Nop())

	result, err := o.Optimize(twoAssetModel(), 0.02)
	require.NoError(t, err)

	for sym, w := range result.MaxSharpe.Weights {
		assert.GreaterOrEqual(t, w, 0.0, "max_sharpe weight for %s", sym)
	}
	for sym, w := range result.MinVolatility.Weights {
		assert.GreaterOrEqual(t, w, 0.0, "min_volatility weight for %s", sym)
	}
}

func TestMinVolatilityNotRiskierThanMaxSharpe(t *testing.T) {
	o := NewOptimizer(zerolog.Nop())

	result, err := o.Optimize(twoAssetModel(), 0.02)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.MinVolatility.Volatility, result.MaxSharpe.Volatility+1e-6)
	assert.Greater(t, result.MinVolatility.Volatility, 0.0)
}

func TestOptimizeIdenticalAssetsSplitEvenly(t *testing.T) {
	// Three identical, uncorrelated assets: both objectives should land
	// near an equal split.
	model := &riskmodel.Model{
		Symbols: []string{"A", "B", "C"},
		ExpectedReturns: map[string]float64{
			"A": 0.10, "B": 0.10, "C": 0.10,
		},
		Cov: [][]float64{
			{0.04, 0.00, 0.00},
			{0.00, 0.04, 0.00},
			{0.00, 0.00, 0.04},
		},
	}

	o := NewOptimizer(zerolog.Nop())
	result, err := o.Optimize(model, 0.02)
	require.NoError(t, err)

	for _, sym := range model.Symbols {
		assert.InDelta(t, 1.0/3.0, result.MinVolatility.Weights[sym], 0.05, "min_volatility weight for %s", sym)
		assert.InDelta(t, 1.0/3.0, result.MaxSharpe.Weights[sym], 0.05, "max_sharpe weight for %s", sym)
	}
}

func TestOptimizeFavorsHigherSharpeAsset(t *testing.T) {
	o := NewOptimizer(zerolog.Nop())

	result, err := o.Optimize(twoAssetModel(), 0.02)
	require.NoError(t, err)

	// AAPL has the higher excess return; max-Sharpe should tilt toward it
	// relative to min-volatility, which prefers the lower-variance MSFT.
	assert.Greater(t, result.MaxSharpe.Weights["AAPL"], result.MinVolatility.Weights["AAPL"])
	assert.GreaterOrEqual(t, result.MaxSharpe.SharpeRatio, result.MinVolatility.SharpeRatio-1e-9)
}

func TestOptimizePerformanceMatchesWeights(t *testing.T) {
	model := twoAssetModel()
	o := NewOptimizer(zerolog.Nop())

	result, err := o.Optimize(model, 0.02)
	require.NoError(t, err)

	// Recompute expected return from the reported weights; it must agree
	// with the reported performance.
	expected := 0.0
	for sym, w := range result.MaxSharpe.Weights {
		expected += w * model.ExpectedReturns[sym]
	}
	assert.InDelta(t, expected, result.MaxSharpe.ExpectedReturn, 1e-9)
}

func TestOptimizeRejectsSingleAsset(t *testing.T) {
	model := &riskmodel.Model{
		Symbols:         []string{"AAPL"},
		ExpectedReturns: map[string]float64{"AAPL": 0.12},
		Cov:             [][]float64{{0.04}},
	}

	o := NewOptimizer(zerolog.Nop())
	_, err := o.Optimize(model, 0.02)
	require.Error(t, err)

	var optErr *domain.OptimizationError
	assert.ErrorAs(t, err, &optErr)
}

func TestOptimizeRejectsMissingExpectedReturn(t *testing.T) {
	model := twoAssetModel()
	delete(model.ExpectedReturns, "MSFT")

	o := NewOptimizer(zerolog.Nop())
	_, err := o.Optimize(model, 0.02)
	require.Error(t, err)

	var optErr *domain.OptimizationError
	assert.ErrorAs(t, err, &optErr)
}

func TestCleanWeightsSnapsDust(t *testing.T) {
	weights := CleanWeights([]float64{0.99995, 0.00005}, []string{"A", "B"})

	assert.Equal(t, 0.0, weights["B"])
	assert.InDelta(t, 1.0, weights["A"], 1e-12)
}

func TestCleanWeightsClipsNegatives(t *testing.T) {
	weights := CleanWeights([]float64{1.1, -0.1}, []string{"A", "B"})

	assert.Equal(t, 0.0, weights["B"])
	assert.InDelta(t, 1.0, weights["A"], 1e-12)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestCleanWeightsRenormalizes(t *testing.T) {
	weights := CleanWeights([]float64{0.3, 0.3, 0.3}, []string{"A", "B", "C"})

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	for _, sym := range []string{"A", "B", "C"} {
		assert.InDelta(t, 1.0/3.0, weights[sym], 1e-12)
	}
}
