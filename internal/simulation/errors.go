package simulation

import (
	"errors"
	"fmt"
)

// Sentinel errors for fatal data-shape failures. Runs either complete fully
// or return one of these with no partial results.
var (
	// ErrInsufficientData indicates fewer than 2 aligned return rows remain
	// after cross-ticker alignment, leaving the covariance undefined.
	ErrInsufficientData = errors.New("insufficient aligned price history: need at least 2 return rows")

	// ErrInvalidCovariance indicates the estimated covariance matrix is not
	// positive definite within numerical tolerance. The simulator rejects
	// such matrices instead of repairing them; see NewPathSimulator.
	ErrInvalidCovariance = errors.New("covariance matrix is not positive definite")
)

// MissingTickerDataError indicates a requested ticker has no usable price
// history in the requested window. A joint return model cannot be built
// with a missing dimension, so this aborts the run.
type MissingTickerDataError struct {
	Ticker string
}

func (e MissingTickerDataError) Error() string {
	return fmt.Sprintf("no usable price history for ticker %s", e.Ticker)
}

// InvalidParameterError indicates a run parameter failed validation.
// Parameters are rejected before any computation starts.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}
