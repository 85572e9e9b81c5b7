package simulation

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// PathSimulator draws simulated daily log-return paths from a ReturnModel.
//
// Draws within the same day are correlated across tickers per the model
// covariance; draws across days are independent and identically
// distributed. This preserves cross-asset historical correlation while
// deliberately ignoring autocorrelation and volatility clustering.
//
// Non-positive-definite covariance policy: reject. The Cholesky
// factorization inside gonum's multivariate normal must succeed; a matrix
// that is singular or indefinite (for example from perfectly collinear
// tickers or a degenerate window) yields ErrInvalidCovariance rather than
// a silent nearest-PSD repair, surfacing the data-quality root cause.
type PathSimulator struct {
	model   *ReturnModel
	numDays int
	seed    uint64
}

// NewPathSimulator validates the model covariance and returns a simulator
// for paths of numDays daily return vectors.
func NewPathSimulator(model *ReturnModel, numDays int, seed uint64) (*PathSimulator, error) {
	if numDays <= 0 {
		return nil, InvalidParameterError{Field: "num_days", Reason: "must be positive"}
	}

	// Probe factorization once up front so callers fail before spawning
	// workers. Per-simulation distributions repeat this cheaply (N is the
	// ticker count, so the Cholesky is tiny next to the draws).
	if _, ok := distmv.NewNormal(model.Mean, model.Cov, rand.NewPCG(seed, 0)); !ok {
		return nil, ErrInvalidCovariance
	}

	return &PathSimulator{
		model:   model,
		numDays: numDays,
		seed:    seed,
	}, nil
}

// SimulatePath draws the numDays x N log-return matrix for one simulation
// index. Each index owns its own PCG stream seeded (seed, simIndex), so
// output is byte-identical no matter how simulations are distributed
// across workers.
func (s *PathSimulator) SimulatePath(simIndex int) *mat.Dense {
	src := rand.NewPCG(s.seed, uint64(simIndex))
	normal, _ := distmv.NewNormal(s.model.Mean, s.model.Cov, src)

	n := len(s.model.Tickers)
	path := mat.NewDense(s.numDays, n, nil)
	x := make([]float64, n)
	for day := 0; day < s.numDays; day++ {
		normal.Rand(x)
		path.SetRow(day, x)
	}
	return path
}

// NumDays returns the path length in trading days.
func (s *PathSimulator) NumDays() int {
	return s.numDays
}
