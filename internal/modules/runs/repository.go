package runs

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/simulation"
)

// ErrRunNotFound indicates no run exists with the requested id.
var ErrRunNotFound = errors.New("simulation run not found")

// resultColumns is the fixed output column order of the result table.
var resultColumns = []string{
	"id", "ticker", "simulation_id", "year", "starting_value", "ending_value",
	"annual_return", "cumulative_return", "volatility", "probability",
}

// Repository persists simulation runs and their outcome rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new runs repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "runs_repository").Logger(),
	}
}

// Create inserts a new run record.
func (r *Repository) Create(run *Run) error {
	_, err := r.db.Exec(`
		INSERT INTO simulation_runs
			(id, status, tickers, portfolio_value, years, num_simulations,
			 start_date, end_date, seed, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		run.ID, string(run.Status), strings.Join(run.Tickers, ","),
		run.PortfolioValue, run.Years, run.NumSimulations,
		run.StartDate, run.EndDate, int64(run.Seed), run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// MarkRunning transitions a run to running.
func (r *Repository) MarkRunning(id string, at time.Time) error {
	return r.updateStatus(`
		UPDATE simulation_runs SET status = ?, started_at = ? WHERE id = ?
	`, string(StatusRunning), at.Unix(), id)
}

// MarkCompleted transitions a run to completed with its final row count.
func (r *Repository) MarkCompleted(id string, rowCount int, at time.Time) error {
	return r.updateStatus(`
		UPDATE simulation_runs SET status = ?, row_count = ?, completed_at = ? WHERE id = ?
	`, string(StatusCompleted), rowCount, at.Unix(), id)
}

// MarkFailed transitions a run to failed with its error message.
func (r *Repository) MarkFailed(id string, runErr error, at time.Time) error {
	return r.updateStatus(`
		UPDATE simulation_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`, string(StatusFailed), runErr.Error(), at.Unix(), id)
}

func (r *Repository) updateStatus(query string, args ...interface{}) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get fetches a single run by id.
func (r *Repository) Get(id string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, status, tickers, portfolio_value, years, num_simulations,
		       start_date, end_date, seed, row_count, error,
		       created_at, started_at, completed_at
		FROM simulation_runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// List returns the most recent runs, newest first.
func (r *Repository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT id, status, tickers, portfolio_value, years, num_simulations,
		       start_date, end_date, seed, row_count, error,
		       created_at, started_at, completed_at
		FROM simulation_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var status, tickers string
	var seed, createdAt int64
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullInt64

	err := s.Scan(
		&run.ID, &status, &tickers, &run.PortfolioValue, &run.Years,
		&run.NumSimulations, &run.StartDate, &run.EndDate, &seed,
		&run.RowCount, &errMsg, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.Tickers = strings.Split(tickers, ",")
	run.Seed = uint64(seed)
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		run.CompletedAt = &t
	}
	return &run, nil
}

// InsertResults stores a run's outcome rows in one transaction.
func (r *Repository) InsertResults(runID string, rows []simulation.OutcomeRow) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO simulation_results
			(run_id, id, ticker, simulation_id, year, starting_value, ending_value,
			 annual_return, cumulative_return, volatility, probability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(
			runID, row.ID, row.Ticker, row.SimulationID, row.Year,
			row.StartingValue, row.EndingValue, row.AnnualReturn,
			row.CumulativeReturn, row.Volatility, row.Probability,
		); err != nil {
			return fmt.Errorf("failed to insert result row %d: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// GetResults returns a page of a run's outcome rows in id order.
func (r *Repository) GetResults(runID string, limit, offset int) ([]simulation.OutcomeRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(`
		SELECT id, ticker, simulation_id, year, starting_value, ending_value,
		       annual_return, cumulative_return, volatility, probability
		FROM simulation_results
		WHERE run_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []simulation.OutcomeRow
	for rows.Next() {
		var row simulation.OutcomeRow
		if err := rows.Scan(
			&row.ID, &row.Ticker, &row.SimulationID, &row.Year,
			&row.StartingValue, &row.EndingValue, &row.AnnualReturn,
			&row.CumulativeReturn, &row.Volatility, &row.Probability,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// WriteCSV streams a run's full result table as CSV in the fixed column
// order.
func (r *Repository) WriteCSV(w io.Writer, runID string) error {
	rows, err := r.db.Query(`
		SELECT id, ticker, simulation_id, year, starting_value, ending_value,
		       annual_return, cumulative_return, volatility, probability
		FROM simulation_results
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to query results for export: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(resultColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for rows.Next() {
		var row simulation.OutcomeRow
		if err := rows.Scan(
			&row.ID, &row.Ticker, &row.SimulationID, &row.Year,
			&row.StartingValue, &row.EndingValue, &row.AnnualReturn,
			&row.CumulativeReturn, &row.Volatility, &row.Probability,
		); err != nil {
			return fmt.Errorf("failed to scan result row for export: %w", err)
		}

		record := []string{
			strconv.Itoa(row.ID),
			row.Ticker,
			strconv.Itoa(row.SimulationID),
			strconv.Itoa(row.Year),
			formatFloat(row.StartingValue),
			formatFloat(row.EndingValue),
			formatFloat(row.AnnualReturn),
			formatFloat(row.CumulativeReturn),
			formatFloat(row.Volatility),
			formatFloat(row.Probability),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
