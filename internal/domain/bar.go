// Package domain contains the core data types shared across modules.
// Types here are pure data carriers with no infrastructure dependencies.
package domain

import "time"

// Bar represents one daily OHLCV row for a single ticker.
// This is the canonical shape produced by market-data clients, cleaned by
// the ingest module, and stored by the history module. Dates are trading
// days at UTC midnight.
type Bar struct {
	Ticker   string    `json:"ticker"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// DateKey returns the bar's date in YYYY-MM-DD form, the key used for
// cross-ticker alignment.
func (b Bar) DateKey() string {
	return b.Date.UTC().Format("2006-01-02")
}
