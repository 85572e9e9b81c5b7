package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSimulatePathDims(t *testing.T) {
	tickers := []string{"AAA", "BBB"}
	model, err := EstimateReturnModel(tickers, syntheticPrices(tickers, 90))
	require.NoError(t, err)

	sim, err := NewPathSimulator(model, 30, 7)
	require.NoError(t, err)

	path := sim.SimulatePath(0)
	rows, cols := path.Dims()
	assert.Equal(t, 30, rows)
	assert.Equal(t, 2, cols)
}

func TestSimulatePathDeterministic(t *testing.T) {
	tickers := []string{"AAA", "BBB", "CCC"}
	model, err := EstimateReturnModel(tickers, syntheticPrices(tickers, 120))
	require.NoError(t, err)

	sim, err := NewPathSimulator(model, 50, 42)
	require.NoError(t, err)

	first := sim.SimulatePath(3)
	second := sim.SimulatePath(3)
	assert.True(t, mat.Equal(first, second), "same seed and index must reproduce the path")

	other := sim.SimulatePath(4)
	assert.False(t, mat.Equal(first, other), "different indices must draw different paths")
}

func TestSimulatePathSeedIndependence(t *testing.T) {
	tickers := []string{"AAA", "BBB"}
	model, err := EstimateReturnModel(tickers, syntheticPrices(tickers, 90))
	require.NoError(t, err)

	simA, err := NewPathSimulator(model, 20, 1)
	require.NoError(t, err)
	simB, err := NewPathSimulator(model, 20, 2)
	require.NoError(t, err)

	assert.False(t, mat.Equal(simA.SimulatePath(0), simB.SimulatePath(0)))
}

func TestNewPathSimulatorRejectsSingularCovariance(t *testing.T) {
	// BBB is a scaled copy of AAA, so the log returns are perfectly
	// collinear and the covariance matrix is singular.
	base := syntheticPrices([]string{"AAA"}, 60)
	scaled := make([]PricePoint, len(base["AAA"]))
	for i, p := range base["AAA"] {
		scaled[i] = PricePoint{Date: p.Date, AdjClose: p.AdjClose * 2}
	}
	prices := PriceTable{"AAA": base["AAA"], "BBB": scaled}

	model, err := EstimateReturnModel([]string{"AAA", "BBB"}, prices)
	require.NoError(t, err)

	_, err = NewPathSimulator(model, 252, 9)
	require.ErrorIs(t, err, ErrInvalidCovariance)
}

func TestNewPathSimulatorRejectsNonPositiveDays(t *testing.T) {
	tickers := []string{"AAA"}
	model, err := EstimateReturnModel(tickers, syntheticPrices(tickers, 60))
	require.NoError(t, err)

	_, err = NewPathSimulator(model, 0, 1)
	require.Error(t, err)
}
