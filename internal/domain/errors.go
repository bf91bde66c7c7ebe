// Package domain holds the shared types and error taxonomy of the analysis
// pipeline. The error types here are the only failure kinds the core surfaces;
// callers match them with errors.As and decide what (if anything) to retry.
package domain

import "fmt"

// InsufficientDataError reports that a computation had fewer aligned
// observations than its minimum. It is never downgraded to a default value.
type InsufficientDataError struct {
	Op   string // computation that failed, e.g. "covariance model"
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need at least %d observations, got %d", e.Op, e.Need, e.Got)
}

// MisalignedWeightsError reports a mismatch between a weight map and the asset
// columns it is applied to.
type MisalignedWeightsError struct {
	Symbol string
	Reason string
}

func (e *MisalignedWeightsError) Error() string {
	return fmt.Sprintf("misaligned weights: %s: %s", e.Symbol, e.Reason)
}

// WeightSumError reports portfolio weights that do not sum to 1.0 within
// tolerance. Weights are rejected, never silently renormalized.
type WeightSumError struct {
	Sum       float64
	Tolerance float64
}

func (e *WeightSumError) Error() string {
	return fmt.Sprintf("portfolio weights sum to %.4f, expected 1.0 within %.2f", e.Sum, e.Tolerance)
}

// OptimizationError reports solver non-convergence or infeasibility, carrying
// the solver's diagnostic. Equal weights are never substituted on failure.
type OptimizationError struct {
	Objective string // "max_sharpe" or "min_volatility"
	Status    string // solver status, empty when Err carries the detail
	Err       error
}

func (e *OptimizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("optimization failed (%s): %v", e.Objective, e.Err)
	}
	return fmt.Sprintf("optimization did not converge (%s): status=%s", e.Objective, e.Status)
}

func (e *OptimizationError) Unwrap() error { return e.Err }
