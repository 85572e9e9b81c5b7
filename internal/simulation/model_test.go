package simulation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticPrices builds a deterministic price table with distinct drift
// and oscillation per ticker so the resulting covariance is well
// conditioned.
func syntheticPrices(tickers []string, days int) PriceTable {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	table := make(PriceTable, len(tickers))
	for i, ticker := range tickers {
		price := 100.0 * float64(i+1)
		series := make([]PricePoint, 0, days)
		for d := 0; d < days; d++ {
			date := start.AddDate(0, 0, d).Format("2006-01-02")
			r := 0.0005*float64(i+1) +
				0.01*math.Sin(float64(d)*(0.7+0.31*float64(i))) +
				0.004*math.Cos(float64(d)*1.3+float64(i))
			price *= math.Exp(r)
			series = append(series, PricePoint{Date: date, AdjClose: price})
		}
		table[ticker] = series
	}
	return table
}

func TestEstimateReturnModelKnownValues(t *testing.T) {
	prices := PriceTable{
		"AAA": {
			{Date: "2024-01-02", AdjClose: 100},
			{Date: "2024-01-03", AdjClose: 110},
			{Date: "2024-01-04", AdjClose: 121},
		},
	}

	model, err := EstimateReturnModel([]string{"AAA"}, prices)
	require.NoError(t, err)

	require.Equal(t, 2, model.Rows)
	require.Len(t, model.Mean, 1)
	// Both returns are ln(1.1), so the mean is exactly ln(1.1).
	assert.InDelta(t, math.Log(1.1), model.Mean[0], 1e-12)
	// Identical returns have zero sample variance.
	assert.InDelta(t, 0.0, model.Cov.At(0, 0), 1e-15)
}

func TestEstimateReturnModelAlignment(t *testing.T) {
	// BBB is missing 2024-01-03, so that date must be dropped for both
	// tickers (inner join, no forward fill).
	prices := PriceTable{
		"AAA": {
			{Date: "2024-01-02", AdjClose: 100},
			{Date: "2024-01-03", AdjClose: 101},
			{Date: "2024-01-04", AdjClose: 102},
			{Date: "2024-01-05", AdjClose: 103},
		},
		"BBB": {
			{Date: "2024-01-02", AdjClose: 50},
			{Date: "2024-01-04", AdjClose: 52},
			{Date: "2024-01-05", AdjClose: 51},
		},
	}

	model, err := EstimateReturnModel([]string{"AAA", "BBB"}, prices)
	require.NoError(t, err)

	// Three common dates yield two return rows.
	require.Equal(t, 2, model.Rows)
	// The first aligned AAA return spans 01-02 -> 01-04, so the log
	// returns telescope to ln(103/100) over two rows.
	assert.InDelta(t, math.Log(103.0/100.0)/2, model.Mean[0], 1e-12)
	assert.InDelta(t, (math.Log(52.0/50.0)+math.Log(51.0/52.0))/2, model.Mean[1], 1e-12)
}

func TestEstimateReturnModelCovarianceSymmetric(t *testing.T) {
	tickers := []string{"AAA", "BBB", "CCC"}
	model, err := EstimateReturnModel(tickers, syntheticPrices(tickers, 120))
	require.NoError(t, err)

	n := len(tickers)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.InDelta(t, model.Cov.At(i, j), model.Cov.At(j, i), 1e-9)
		}
	}
}

func TestEstimateReturnModelMissingTicker(t *testing.T) {
	prices := syntheticPrices([]string{"AAA"}, 30)

	_, err := EstimateReturnModel([]string{"AAA", "ZZZ"}, prices)
	require.Error(t, err)

	var missing MissingTickerDataError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "ZZZ", missing.Ticker)
}

func TestEstimateReturnModelInsufficientData(t *testing.T) {
	// Two aligned dates produce a single return row, so the covariance is
	// undefined.
	prices := PriceTable{
		"AAA": {
			{Date: "2024-01-02", AdjClose: 100},
			{Date: "2024-01-03", AdjClose: 101},
		},
	}

	_, err := EstimateReturnModel([]string{"AAA"}, prices)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimateReturnModelEmptyTickers(t *testing.T) {
	_, err := EstimateReturnModel(nil, PriceTable{})
	require.Error(t, err)

	var invalid InvalidParameterError
	assert.True(t, errors.As(err, &invalid))
}
