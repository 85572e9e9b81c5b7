// Package ingest validates and normalizes raw provider bars into the
// clean price table the simulation engine consumes: one row per
// (ticker, trading day), strictly positive prices, non-negative volume,
// consistent high/low bounds, no duplicates, sorted by ticker then date.
package ingest

import (
	"sort"

	"github.com/quantfolio/montesim/internal/domain"
)

// Report summarizes a cleaning pass.
type Report struct {
	Received         int `json:"received"`
	Kept             int `json:"kept"`
	DroppedInvalid   int `json:"dropped_invalid"`
	DroppedDuplicate int `json:"dropped_duplicate"`
}

// Clean filters and normalizes raw bars. Rows with missing or
// non-positive prices, negative volume, or inconsistent high/low bounds
// are dropped; duplicate (ticker, date) pairs keep the first occurrence.
// The result is sorted by ticker then date.
func Clean(bars []domain.Bar) ([]domain.Bar, Report) {
	report := Report{Received: len(bars)}

	seen := make(map[string]struct{}, len(bars))
	kept := make([]domain.Bar, 0, len(bars))
	for _, bar := range bars {
		if !valid(bar) {
			report.DroppedInvalid++
			continue
		}
		key := bar.Ticker + "|" + bar.DateKey()
		if _, dup := seen[key]; dup {
			report.DroppedDuplicate++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, bar)
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Ticker != kept[j].Ticker {
			return kept[i].Ticker < kept[j].Ticker
		}
		return kept[i].Date.Before(kept[j].Date)
	})

	report.Kept = len(kept)
	return kept, report
}

// valid checks a single bar against the upstream data contract.
func valid(bar domain.Bar) bool {
	if bar.Ticker == "" || bar.Date.IsZero() {
		return false
	}
	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 || bar.AdjClose <= 0 {
		return false
	}
	if bar.Volume < 0 {
		return false
	}
	// High must bound low/open/close from above, low from below.
	if bar.High < bar.Low || bar.High < bar.Open || bar.High < bar.Close {
		return false
	}
	if bar.Low > bar.Open || bar.Low > bar.Close {
		return false
	}
	return true
}
