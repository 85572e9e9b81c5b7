package history

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"
)

// SeriesStats summarizes a stored price series for diagnostics before a
// simulation run.
type SeriesStats struct {
	Ticker               string   `json:"ticker"`
	Observations         int      `json:"observations"`
	FirstDate            string   `json:"first_date"`
	LastDate             string   `json:"last_date"`
	LastAdjClose         float64  `json:"last_adj_close"`
	SMA20                *float64 `json:"sma_20,omitempty"`
	SMA200               *float64 `json:"sma_200,omitempty"`
	RSI14                *float64 `json:"rsi_14,omitempty"`
	AnnualizedVolatility *float64 `json:"annualized_volatility,omitempty"`
}

// tradingDaysPerYear mirrors the engine's annualization convention.
const tradingDaysPerYear = 252

// SeriesStats computes indicator-based diagnostics for a ticker over
// [start, end]. Indicators with insufficient data are left nil.
func (r *Repository) SeriesStats(ticker string, start, end time.Time) (*SeriesStats, error) {
	bars, err := r.GetDailyBars(ticker, start, end)
	if err != nil {
		return nil, err
	}

	stats := &SeriesStats{
		Ticker:       ticker,
		Observations: len(bars),
	}
	if len(bars) == 0 {
		return stats, nil
	}

	stats.FirstDate = bars[0].DateKey()
	stats.LastDate = bars[len(bars)-1].DateKey()
	stats.LastAdjClose = bars[len(bars)-1].AdjClose

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.AdjClose
	}

	stats.SMA20 = lastIndicator(talibSafe(closes, 20, talib.Sma))
	stats.SMA200 = lastIndicator(talibSafe(closes, 200, talib.Sma))
	if len(closes) >= 15 {
		stats.RSI14 = lastIndicator(talib.Rsi(closes, 14))
	}
	stats.AnnualizedVolatility = annualizedVolatility(closes, 20)

	return stats, nil
}

// talibSafe guards a talib call against series shorter than its period.
func talibSafe(closes []float64, period int, fn func([]float64, int) []float64) []float64 {
	if len(closes) < period {
		return nil
	}
	return fn(closes, period)
}

// lastIndicator extracts the most recent non-NaN indicator value.
func lastIndicator(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	last := values[len(values)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

// annualizedVolatility computes the rolling standard deviation of daily
// log returns over the given window, annualized by sqrt(252).
func annualizedVolatility(closes []float64, window int) *float64 {
	if len(closes) < window+1 {
		return nil
	}

	logReturns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		logReturns[i-1] = math.Log(closes[i] / closes[i-1])
	}

	stdDevs := talib.StdDev(logReturns, window, 1.0)
	last := lastIndicator(stdDevs)
	if last == nil {
		return nil
	}
	vol := *last * math.Sqrt(tradingDaysPerYear)
	return &vol
}
