// Package simulation implements the Monte Carlo portfolio simulation engine:
// return-model estimation from historical prices, correlated multivariate
// normal path sampling, and per-simulation outcome aggregation.
package simulation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PricePoint is one (trading day, adjusted close) observation.
// Dates use YYYY-MM-DD form so they sort chronologically as strings.
type PricePoint struct {
	Date     string
	AdjClose float64
}

// PriceTable maps a ticker to its adjusted-close series, sorted by date.
// Upstream cleaning guarantees strictly positive prices and no duplicate
// dates per ticker.
type PriceTable map[string][]PricePoint

// ReturnModel holds the joint daily return distribution estimated from
// historical prices: per-ticker mean log returns and their covariance.
// It is immutable once computed and shared read-only by all simulation
// workers, which preserves the historical correlation structure across
// every draw.
type ReturnModel struct {
	Tickers []string
	Mean    []float64
	Cov     *mat.SymDense
	Rows    int // aligned return rows the estimate is based on
}

// EstimateReturnModel computes the daily log-return model for the given
// tickers from a price table:
//
//  1. Series are aligned on their common date index; dates where any
//     ticker lacks a value are dropped (inner join, no forward-fill).
//  2. Log returns r[t] = ln(P[t]/P[t-1]) are computed per ticker; the
//     first aligned date has no return and is dropped.
//  3. Column means and the unbiased (N-1) sample covariance matrix are
//     estimated with gonum.
//
// A ticker with no data in the table yields MissingTickerDataError; fewer
// than 2 aligned return rows yields ErrInsufficientData.
func EstimateReturnModel(tickers []string, prices PriceTable) (*ReturnModel, error) {
	n := len(tickers)
	if n == 0 {
		return nil, InvalidParameterError{Field: "tickers", Reason: "must not be empty"}
	}

	byDate := make([]map[string]float64, n)
	for i, ticker := range tickers {
		series := prices[ticker]
		if len(series) == 0 {
			return nil, MissingTickerDataError{Ticker: ticker}
		}
		m := make(map[string]float64, len(series))
		for _, p := range series {
			m[p.Date] = p.AdjClose
		}
		byDate[i] = m
	}

	// Intersect date sets, seeded from the first ticker.
	dates := make([]string, 0, len(byDate[0]))
	for date := range byDate[0] {
		common := true
		for i := 1; i < n; i++ {
			if _, ok := byDate[i][date]; !ok {
				common = false
				break
			}
		}
		if common {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	// T aligned dates yield T-1 return rows; the covariance needs >= 2.
	if len(dates) < 3 {
		return nil, ErrInsufficientData
	}

	rows := len(dates) - 1
	returns := mat.NewDense(rows, n, nil)
	for i := range tickers {
		prev := byDate[i][dates[0]]
		for t := 1; t < len(dates); t++ {
			cur := byDate[i][dates[t]]
			returns.Set(t-1, i, math.Log(cur/prev))
			prev = cur
		}
	}

	mean := make([]float64, n)
	col := make([]float64, rows)
	for i := 0; i < n; i++ {
		mat.Col(col, i, returns)
		mean[i] = stat.Mean(col, nil)
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns, nil)

	model := &ReturnModel{
		Tickers: append([]string(nil), tickers...),
		Mean:    mean,
		Cov:     cov,
		Rows:    rows,
	}
	return model, nil
}
