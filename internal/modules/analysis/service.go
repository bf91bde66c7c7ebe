// Package analysis orchestrates the full portfolio analysis pipeline:
// price alignment, return computation, performance metrics, covariance
// modelling and mean-variance optimization, assembled into one report.
package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quantfolio/internal/domain"
	"quantfolio/internal/modules/optimization"
	"quantfolio/internal/modules/performance"
	"quantfolio/internal/modules/returns"
	"quantfolio/internal/modules/riskmodel"
)

const (
	// WeightSumTolerance is how far from 1.0 the supplied weights may sum.
	WeightSumTolerance = 0.01

	// highCorrelationThreshold flags asset pairs reported as concentrated.
	highCorrelationThreshold = 0.80
)

// Options controls one analysis run. The zero value selects the defaults: a
// risk-free rate of 0, simple returns, and 95% VaR confidence.
type Options struct {
	RiskFreeRate  float64
	ReturnMethod  returns.Method
	VaRConfidence float64
}

// Report is the complete output of one portfolio analysis.
type Report struct {
	ID               string                        `json:"id"`
	GeneratedAt      time.Time                     `json:"generated_at"`
	StartDate        string                        `json:"start_date"`
	EndDate          string                        `json:"end_date"`
	TradingDays      int                           `json:"trading_days"`
	Weights          map[string]float64            `json:"weights"`
	Performance      performance.Summary           `json:"performance"`
	MaxSharpe        optimization.OptimalPortfolio `json:"max_sharpe"`
	MinVolatility    optimization.OptimalPortfolio `json:"min_volatility"`
	CovarianceFixed  bool                          `json:"covariance_fixed"`
	HighCorrelations []riskmodel.CorrelationPair   `json:"high_correlations"`
}

// Service runs portfolio analyses.
type Service struct {
	returns   *returns.Engine
	risk      *riskmodel.Builder
	optimizer *optimization.Optimizer
	log       zerolog.Logger
}

// NewService creates an analysis service with all pipeline stages wired.
func NewService(log zerolog.Logger) *Service {
	return &Service{
		returns:   returns.NewEngine(log),
		risk:      riskmodel.NewBuilder(log),
		optimizer: optimization.NewOptimizer(log),
		log:       log.With().Str("component", "analysis").Logger(),
	}
}

// ValidateWeights checks that the supplied allocation is long-only and sums
// to 1.0 within WeightSumTolerance. Invalid allocations are rejected rather
// than silently renormalized. An empty allocation sums to 0 and fails the
// same check.
func ValidateWeights(weights map[string]float64) error {
	sum := 0.0
	for symbol, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return &domain.MisalignedWeightsError{Symbol: symbol, Reason: "weight is not a finite number"}
		}
		if w < 0 {
			return &domain.MisalignedWeightsError{Symbol: symbol, Reason: "negative weight in a long-only portfolio"}
		}
		sum += w
	}

	if math.Abs(sum-1.0) > WeightSumTolerance {
		return &domain.WeightSumError{Sum: sum, Tolerance: WeightSumTolerance}
	}
	return nil
}

// Analyze runs the full pipeline over the price table for the given
// allocation and returns the assembled report.
func (s *Service) Analyze(prices returns.PriceTable, weights map[string]float64, opts Options) (*Report, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}

	if opts.ReturnMethod == "" {
		opts.ReturnMethod = returns.MethodSimple
	}

	rt, err := s.returns.Compute(prices, opts.ReturnMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to compute returns: %w", err)
	}

	series, err := s.returns.PortfolioReturns(rt, weights)
	if err != nil {
		return nil, err
	}

	summary, err := performance.Summarize(series, opts.RiskFreeRate, opts.VaRConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize performance: %w", err)
	}

	model, err := s.risk.Build(rt)
	if err != nil {
		return nil, fmt.Errorf("failed to build risk model: %w", err)
	}

	result, err := s.optimizer.Optimize(model, opts.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:               uuid.New().String(),
		GeneratedAt:      time.Now().UTC(),
		StartDate:        rt.Dates[0],
		EndDate:          rt.Dates[len(rt.Dates)-1],
		TradingDays:      len(rt.Dates),
		Weights:          weights,
		Performance:      summary,
		MaxSharpe:        result.MaxSharpe,
		MinVolatility:    result.MinVolatility,
		CovarianceFixed:  model.Repaired,
		HighCorrelations: model.HighCorrelations(highCorrelationThreshold),
	}

	s.log.Info().
		Str("report_id", report.ID).
		Int("trading_days", report.TradingDays).
		Int("num_assets", len(rt.Symbols)).
		Str("start", report.StartDate).
		Str("end", report.EndDate).
		Msg("Portfolio analysis complete")

	return report, nil
}
