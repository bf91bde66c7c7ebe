// Package optimization solves long-only, fully-invested mean-variance
// allocation problems over a regularized covariance model.
package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"quantfolio/internal/domain"
	"quantfolio/internal/modules/riskmodel"
)

const (
	// ObjectiveMaxSharpe maximizes (w·mu - rf) / sqrt(w' Sigma w).
	ObjectiveMaxSharpe = "max_sharpe"
	// ObjectiveMinVolatility minimizes w' Sigma w, ignoring expected return.
	ObjectiveMinVolatility = "min_volatility"

	// penaltyWeight scales the quadratic penalty on the sum(w)=1 constraint.
	penaltyWeight = 1000.0

	// cleanThreshold snaps dust allocations to zero after solving.
	cleanThreshold = 1e-4

	// minDenominator guards divisions on degenerate (zero-variance) models.
	minDenominator = 1e-10
)

// OptimalPortfolio is one objective's solution: cleaned weights plus the
// performance those exact weights realize under the covariance model.
type OptimalPortfolio struct {
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
}

// Result holds both optimal reallocations for one covariance model.
type Result struct {
	MaxSharpe     OptimalPortfolio `json:"max_sharpe"`
	MinVolatility OptimalPortfolio `json:"min_volatility"`
}

// Optimizer performs mean-variance portfolio optimization.
type Optimizer struct {
	log zerolog.Logger
}

// NewOptimizer creates a new mean-variance optimizer.
func NewOptimizer(log zerolog.Logger) *Optimizer {
	return &Optimizer{
		log: log.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize solves both objectives over the model. Constraints for each:
//   - sum(w) = 1 (quadratic penalty, final renormalization)
//   - 0 <= w_i <= 1 (projection)
//
// Reported performance is recomputed from the cleaned weights, never taken
// from the raw solver output, so weights and performance always agree.
func (o *Optimizer) Optimize(model *riskmodel.Model, riskFreeRate float64) (Result, error) {
	n := len(model.Symbols)
	if n < 2 {
		return Result{}, &domain.OptimizationError{
			Objective: ObjectiveMaxSharpe,
			Err:       fmt.Errorf("need at least 2 assets, got %d", n),
		}
	}
	if len(model.Cov) != n {
		return Result{}, &domain.OptimizationError{
			Objective: ObjectiveMaxSharpe,
			Err:       fmt.Errorf("covariance matrix size %d doesn't match symbol count %d", len(model.Cov), n),
		}
	}

	mu := make([]float64, n)
	for i, sym := range model.Symbols {
		ret, ok := model.ExpectedReturns[sym]
		if !ok {
			return Result{}, &domain.OptimizationError{
				Objective: ObjectiveMaxSharpe,
				Err:       fmt.Errorf("missing expected return for symbol %s", sym),
			}
		}
		mu[i] = ret
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, model.Cov[i][j])
		}
	}

	sharpeRaw, err := o.solve(o.maxSharpeProblem(mu, sigma, riskFreeRate), n, ObjectiveMaxSharpe)
	if err != nil {
		return Result{}, err
	}
	maxSharpe := o.finalize(sharpeRaw, model, riskFreeRate)

	volRaw, err := o.solve(o.minVolatilityProblem(sigma), n, ObjectiveMinVolatility)
	if err != nil {
		return Result{}, err
	}
	minVol := o.finalize(volRaw, model, riskFreeRate)

	o.log.Info().
		Int("num_assets", n).
		Float64("max_sharpe_vol", maxSharpe.Volatility).
		Float64("min_vol_vol", minVol.Volatility).
		Msg("Solved both optimization objectives")

	return Result{
		MaxSharpe:     maxSharpe,
		MinVolatility: minVol,
	}, nil
}

// maxSharpeProblem builds the penalized ratio objective
// -(w·mu - rf)/sqrt(w' Sigma w) + penalty * (sum(w) - 1)^2.
func (o *Optimizer) maxSharpeProblem(mu []float64, sigma *mat.Dense, riskFreeRate float64) optimize.Problem {
	n := len(mu)

	return optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := projectToBounds(x)

			var excess, variance float64
			for i := 0; i < n; i++ {
				excess += mu[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			excess -= riskFreeRate
			stdDev := math.Sqrt(math.Max(variance, minDenominator))

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}

			return -excess/stdDev + penaltyWeight*(sum-1.0)*(sum-1.0)
		},
		Grad: func(grad, x []float64) {
			xProj := projectToBounds(x)

			var excess, variance float64
			for i := 0; i < n; i++ {
				excess += mu[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			excess -= riskFreeRate
			stdDev := math.Sqrt(math.Max(variance, minDenominator))

			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * xProj[j]
				}
				grad[i] = -mu[i]/stdDev + excess*dVariance/(2*stdDev*stdDev*stdDev)
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		},
	}
}

// minVolatilityProblem builds the penalized variance objective
// w' Sigma w + penalty * (sum(w) - 1)^2.
func (o *Optimizer) minVolatilityProblem(sigma *mat.Dense) optimize.Problem {
	n, _ := sigma.Dims()

	return optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := projectToBounds(x)

			var variance float64
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}

			return variance + penaltyWeight*(sum-1.0)*(sum-1.0)
		},
		Grad: func(grad, x []float64) {
			xProj := projectToBounds(x)

			for i := 0; i < n; i++ {
				grad[i] = 0
				for j := 0; j < n; j++ {
					grad[i] += 2 * sigma.At(i, j) * xProj[j]
				}
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		},
	}
}

// solve runs the problem from an equal-weight start, trying BFGS first and
// falling back to Nelder-Mead. Non-convergence on both surfaces as an
// OptimizationError carrying the solver status.
func (o *Optimizer) solve(problem optimize.Problem, n int, objective string) ([]float64, error) {
	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		var status string
		if result != nil {
			status = result.Status.String()
		}
		o.log.Debug().
			Str("objective", objective).
			Str("bfgs_status", status).
			Msg("BFGS did not converge, retrying with Nelder-Mead")

		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, &domain.OptimizationError{Objective: objective, Err: err}
		}
		if !converged(result.Status) {
			return nil, &domain.OptimizationError{Objective: objective, Status: result.Status.String()}
		}
	}

	return projectToBounds(result.X), nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	default:
		return false
	}
}

// finalize cleans the raw solver weights and recomputes the solution's
// performance from the cleaned weights against the same model.
func (o *Optimizer) finalize(raw []float64, model *riskmodel.Model, riskFreeRate float64) OptimalPortfolio {
	weights := CleanWeights(raw, model.Symbols)

	w := make([]float64, len(model.Symbols))
	for i, sym := range model.Symbols {
		w[i] = weights[sym]
	}

	var expectedReturn, variance float64
	for i := range w {
		expectedReturn += w[i] * model.ExpectedReturns[model.Symbols[i]]
		for j := range w {
			variance += w[i] * w[j] * model.Cov[i][j]
		}
	}
	volatility := math.Sqrt(math.Max(variance, 0))
	sharpe := (expectedReturn - riskFreeRate) / math.Max(volatility, minDenominator)

	return OptimalPortfolio{
		Weights:        weights,
		ExpectedReturn: expectedReturn,
		Volatility:     volatility,
		SharpeRatio:    sharpe,
	}
}

// CleanWeights clips negatives, snaps allocations below cleanThreshold to
// zero, and renormalizes to sum exactly 1.0.
func CleanWeights(raw []float64, symbols []string) map[string]float64 {
	clipped := make([]float64, len(raw))
	sum := 0.0
	for i, v := range raw {
		clipped[i] = math.Max(0, v)
		sum += clipped[i]
	}
	if sum <= 0 {
		// Solver collapsed to the zero vector; no sensible normalization.
		weights := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			weights[sym] = 0
		}
		return weights
	}

	snappedSum := 0.0
	for i := range clipped {
		if clipped[i]/sum < cleanThreshold {
			clipped[i] = 0
		}
		snappedSum += clipped[i]
	}

	weights := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		weights[sym] = clipped[i] / snappedSum
	}
	return weights
}

// projectToBounds clamps each weight into [0, 1].
func projectToBounds(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(0.0, math.Min(1.0, x[i]))
	}
	return proj
}
