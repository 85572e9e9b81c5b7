package simulation

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// TradingDaysPerYear is the simulated trading-day count per horizon year,
// also used to annualize daily volatility.
const TradingDaysPerYear = 252

// Params configures one simulation run.
type Params struct {
	Tickers        []string
	PortfolioValue float64
	Years          int
	NumSimulations int
	Seed           uint64 // run seed; per-simulation streams derive from it
	Workers        int    // 0 means GOMAXPROCS
}

// Validate rejects invalid parameters before any computation starts.
func (p Params) Validate() error {
	if len(p.Tickers) == 0 {
		return InvalidParameterError{Field: "tickers", Reason: "must not be empty"}
	}
	if p.PortfolioValue <= 0 {
		return InvalidParameterError{Field: "portfolio_value", Reason: "must be positive"}
	}
	if p.Years <= 0 {
		return InvalidParameterError{Field: "years", Reason: "must be positive"}
	}
	if p.NumSimulations <= 0 {
		return InvalidParameterError{Field: "num_simulations", Reason: "must be positive"}
	}
	return nil
}

// OutcomeRow is the atomic output unit: one row per (simulation, ticker).
// Column order matches the output contract.
type OutcomeRow struct {
	ID               int     `json:"id"`
	Ticker           string  `json:"ticker"`
	SimulationID     int     `json:"simulation_id"`
	Year             int     `json:"year"`
	StartingValue    float64 `json:"starting_value"`
	EndingValue      float64 `json:"ending_value"`
	AnnualReturn     float64 `json:"annual_return"`
	CumulativeReturn float64 `json:"cumulative_return"`
	Volatility       float64 `json:"volatility"`
	Probability      float64 `json:"probability"`
}

// ProgressFunc reports completed simulation counts. It is invoked from
// worker goroutines and must be safe for concurrent use.
type ProgressFunc func(completed, total int)

// Engine orchestrates a full simulation run: parameter validation, return
// model estimation, parallel path sampling, and outcome aggregation.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a simulation engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "simulation_engine").Logger(),
	}
}

// Run estimates the return model from the price table and executes the
// simulations, returning exactly NumSimulations * len(Tickers) rows in
// emission order (simulation-major, ticker-minor). On any error no rows
// are returned.
func (e *Engine) Run(ctx context.Context, params Params, prices PriceTable) ([]OutcomeRow, error) {
	return e.RunWithProgress(ctx, params, prices, nil)
}

// RunWithProgress is Run with a progress callback invoked after each
// completed simulation.
func (e *Engine) RunWithProgress(ctx context.Context, params Params, prices PriceTable, progress ProgressFunc) ([]OutcomeRow, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	model, err := EstimateReturnModel(params.Tickers, prices)
	if err != nil {
		return nil, err
	}

	return e.RunModel(ctx, params, model, progress)
}

// RunModel executes the simulations against an already estimated return
// model. The model is shared read-only by all workers.
func (e *Engine) RunModel(ctx context.Context, params Params, model *ReturnModel, progress ProgressFunc) ([]OutcomeRow, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	numDays := params.Years * TradingDaysPerYear
	sim, err := NewPathSimulator(model, numDays, params.Seed)
	if err != nil {
		return nil, err
	}

	n := len(params.Tickers)
	workers := params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > params.NumSimulations {
		workers = params.NumSimulations
	}

	e.log.Debug().
		Int("tickers", n).
		Int("num_days", numDays).
		Int("num_simulations", params.NumSimulations).
		Int("workers", workers).
		Uint64("seed", params.Seed).
		Msg("Starting simulation run")
	started := time.Now()

	// Rows are written directly into their final slot: each simulation
	// owns rows[s*n : (s+1)*n], so id assignment stays deterministic
	// under parallel execution without a shared counter.
	rows := make([]OutcomeRow, params.NumSimulations*n)

	indices := make(chan int)
	var wg sync.WaitGroup
	var completed atomic.Int64

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range indices {
				path := sim.SimulatePath(s)
				aggregateOutcomes(rows[s*n:(s+1)*n], path, params, s)
				done := int(completed.Add(1))
				if progress != nil {
					progress(done, params.NumSimulations)
				}
			}
		}()
	}

	var runErr error
feed:
	for s := 0; s < params.NumSimulations; s++ {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break feed
		case indices <- s:
		}
	}
	close(indices)
	wg.Wait()

	if runErr != nil {
		// No partial results on cancellation.
		return nil, runErr
	}

	e.log.Debug().
		Int("rows", len(rows)).
		Dur("elapsed", time.Since(started)).
		Msg("Simulation run complete")

	return rows, nil
}

// aggregateOutcomes converts one simulated path into its n outcome rows.
// dst is the simulation's slice of the output table.
func aggregateOutcomes(dst []OutcomeRow, path *mat.Dense, params Params, simIndex int) {
	n := len(params.Tickers)
	numDays, _ := path.Dims()
	startingValue := params.PortfolioValue / float64(n)
	probability := 1.0 / float64(params.NumSimulations)

	col := make([]float64, numDays)
	for i, ticker := range params.Tickers {
		mat.Col(col, i, path)

		sum := 0.0
		for _, r := range col {
			sum += r
		}
		// Log returns are additive, so the compounded growth factor is
		// exp of the path sum.
		endingValue := startingValue * math.Exp(sum)
		cumulativeReturn := endingValue/startingValue - 1
		annualReturn := math.Pow(endingValue/startingValue, 1/float64(params.Years)) - 1

		// Population standard deviation (divide by numDays). Financial
		// convention often prefers the sample estimator; the difference
		// is negligible at 252+ observations.
		meanDaily := sum / float64(numDays)
		ss := 0.0
		for _, r := range col {
			d := r - meanDaily
			ss += d * d
		}
		volatility := math.Sqrt(ss/float64(numDays)) * math.Sqrt(TradingDaysPerYear)

		dst[i] = OutcomeRow{
			ID:               simIndex*n + i,
			Ticker:           ticker,
			SimulationID:     simIndex,
			Year:             params.Years,
			StartingValue:    startingValue,
			EndingValue:      endingValue,
			AnnualReturn:     annualReturn,
			CumulativeReturn: cumulativeReturn,
			Volatility:       volatility,
			Probability:      probability,
		}
	}
}
