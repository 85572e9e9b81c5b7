// Package runs orchestrates simulation runs: request validation, price
// table assembly, engine execution on a background worker, result
// persistence, and progress reporting.
package runs

import "time"

// Status is the lifecycle state of a simulation run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is the persisted record of one simulation run.
type Run struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	Tickers        []string   `json:"tickers"`
	PortfolioValue float64    `json:"portfolio_value"`
	Years          int        `json:"years"`
	NumSimulations int        `json:"num_simulations"`
	StartDate      string     `json:"start_date"`
	EndDate        string     `json:"end_date"`
	Seed           uint64     `json:"seed"`
	RowCount       int        `json:"row_count"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Request is the caller-facing run request. Zero-valued fields fall back
// to configured defaults; Seed defaults to a time-derived value so each
// run is independent unless reproducibility is requested.
type Request struct {
	Tickers        []string `json:"tickers"`
	PortfolioValue float64  `json:"portfolio_value"`
	Years          int      `json:"years"`
	NumSimulations int      `json:"num_simulations"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	Seed           *uint64  `json:"seed,omitempty"`
}

// Defaults holds the configured fallback parameters for run requests.
type Defaults struct {
	Tickers        []string
	PortfolioValue float64
	Years          int
	NumSimulations int
	StartDate      string
	EndDate        string
	Workers        int
}
