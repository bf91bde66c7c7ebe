// Package riskmodel derives annualized expected returns and a regularized
// covariance matrix from aligned daily return series.
package riskmodel

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"quantfolio/internal/domain"
	"quantfolio/internal/modules/returns"
)

const (
	// MinObservations is the floor for a stable covariance estimate.
	MinObservations = 30

	// TradingDaysPerYear is the annualization factor for daily series.
	TradingDaysPerYear = 252

	// PSDTolerance is how negative an eigenvalue may be before the matrix
	// counts as non-positive-semidefinite and gets repaired.
	PSDTolerance = 1e-8

	// HighCorrelationThreshold flags asset pairs worth surfacing in reports.
	HighCorrelationThreshold = 0.80
)

// Model holds the optimization inputs for one analysis run: annualized
// expected returns keyed by symbol and the annualized covariance matrix in
// Symbols order. The matrix is positive semidefinite by construction; Build
// never returns one that is not.
type Model struct {
	Symbols         []string
	ExpectedReturns map[string]float64
	Cov             [][]float64

	// Repaired reports whether the covariance matrix needed a PSD repair.
	Repaired bool
}

// CorrelationPair represents a pair of highly correlated assets.
type CorrelationPair struct {
	Symbol1     string  `json:"symbol_1"`
	Symbol2     string  `json:"symbol_2"`
	Correlation float64 `json:"correlation"`
}

// Builder builds covariance models for optimization.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a new risk model builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{
		log: log.With().Str("component", "risk_model").Logger(),
	}
}

// Build derives a covariance model from aligned daily returns. Fewer than
// MinObservations rows is an InsufficientDataError: short windows produce
// covariance estimates too noisy to optimize against.
func (b *Builder) Build(rt returns.ReturnTable) (*Model, error) {
	numObs := len(rt.Dates)
	if numObs < MinObservations {
		return nil, &domain.InsufficientDataError{Op: "covariance model", Need: MinObservations, Got: numObs}
	}

	symbols := rt.Symbols
	n := len(symbols)
	if n == 0 {
		return nil, fmt.Errorf("no symbols in return table")
	}

	expectedReturns := make(map[string]float64, n)
	for _, sym := range symbols {
		expectedReturns[sym] = stat.Mean(rt.Returns[sym], nil) * TradingDaysPerYear
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Sample covariance (N-1 denominator), annualized.
			c := stat.Covariance(rt.Returns[symbols[i]], rt.Returns[symbols[j]], nil) * TradingDaysPerYear
			cov[i][j] = c
			cov[j][i] = c
		}
	}

	fixed, repaired, err := FixNonPositiveSemidefinite(cov)
	if err != nil {
		return nil, fmt.Errorf("failed to regularize covariance matrix: %w", err)
	}

	b.log.Debug().
		Int("num_symbols", n).
		Int("num_observations", numObs).
		Bool("psd_repaired", repaired).
		Msg("Built covariance model")

	return &Model{
		Symbols:         symbols,
		ExpectedReturns: expectedReturns,
		Cov:             fixed,
		Repaired:        repaired,
	}, nil
}

// FixNonPositiveSemidefinite repairs a symmetric matrix whose smallest
// eigenvalue is below -PSDTolerance by clipping negative eigenvalues to zero
// and reconstructing from the spectral decomposition. The returned bool
// reports whether a repair was performed.
func FixNonPositiveSemidefinite(cov [][]float64) ([][]float64, bool, error) {
	n := len(cov)
	if n == 0 {
		return nil, false, fmt.Errorf("empty covariance matrix")
	}
	for i := range cov {
		if len(cov[i]) != n {
			return nil, false, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(cov[i]), n)
		}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Average the off-diagonal pair so tiny asymmetries cannot leak in.
			sym.SetSym(i, j, (cov[i][j]+cov[j][i])/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, false, fmt.Errorf("symmetric eigendecomposition failed")
	}

	vals := eig.Values(nil)
	minEig := vals[0]
	for _, v := range vals {
		if v < minEig {
			minEig = v
		}
	}
	if minEig >= -PSDTolerance {
		return cov, false, nil
	}

	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
		}
	}

	var q mat.Dense
	eig.VectorsTo(&q)

	// Rebuild Q * diag(clipped) * Q^T.
	var qd mat.Dense
	qd.Mul(&q, mat.NewDiagDense(n, vals))
	var rebuilt mat.Dense
	rebuilt.Mul(&qd, q.T())

	fixed := make([][]float64, n)
	for i := 0; i < n; i++ {
		fixed[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (rebuilt.At(i, j) + rebuilt.At(j, i)) / 2
			fixed[i][j] = v
			fixed[j][i] = v
		}
	}

	return fixed, true, nil
}

// HighCorrelations extracts asset pairs whose absolute correlation meets the
// threshold, derived from the model's covariance matrix.
func (m *Model) HighCorrelations(threshold float64) []CorrelationPair {
	n := len(m.Symbols)
	pairs := make([]CorrelationPair, 0)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi := m.Cov[i][i]
			vj := m.Cov[j][j]
			if vi <= 0 || vj <= 0 {
				continue
			}
			correlation := m.Cov[i][j] / math.Sqrt(vi*vj)
			if math.Abs(correlation) >= threshold {
				pairs = append(pairs, CorrelationPair{
					Symbol1:     m.Symbols[i],
					Symbol2:     m.Symbols[j],
					Correlation: correlation,
				})
			}
		}
	}

	return pairs
}
