package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/domain"
)

// PriceFetcher downloads raw daily bars from a market-data provider.
type PriceFetcher interface {
	GetDailyBars(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)
}

// PriceStore persists cleaned bars.
type PriceStore interface {
	UpsertBars(bars []domain.Bar) (int, error)
}

// SyncSummary reports the outcome of one sync pass over the universe.
type SyncSummary struct {
	Tickers  int               `json:"tickers"`
	Stored   int               `json:"stored"`
	Report   Report            `json:"report"`
	Failures map[string]string `json:"failures,omitempty"`
}

// SyncService runs the fetch -> clean -> store pipeline for the
// configured universe. Per-ticker fetch failures are collected rather
// than aborting the pass, so one delisted symbol cannot starve the rest
// of the universe of fresh prices.
type SyncService struct {
	fetcher PriceFetcher
	store   PriceStore
	log     zerolog.Logger
}

// NewSyncService creates a new price sync service.
func NewSyncService(fetcher PriceFetcher, store PriceStore, log zerolog.Logger) *SyncService {
	return &SyncService{
		fetcher: fetcher,
		store:   store,
		log:     log.With().Str("component", "price_sync").Logger(),
	}
}

// SyncTickers fetches, cleans, and stores daily bars for every ticker
// over [start, end].
func (s *SyncService) SyncTickers(ctx context.Context, tickers []string, start, end time.Time) (*SyncSummary, error) {
	summary := &SyncSummary{
		Tickers:  len(tickers),
		Failures: make(map[string]string),
	}

	var raw []domain.Bar
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := s.fetcher.GetDailyBars(ctx, ticker, start, end)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to fetch daily bars")
			summary.Failures[ticker] = err.Error()
			continue
		}
		raw = append(raw, bars...)
	}

	cleaned, report := Clean(raw)
	summary.Report = report

	stored, err := s.store.UpsertBars(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to store cleaned bars: %w", err)
	}
	summary.Stored = stored

	s.log.Info().
		Int("tickers", len(tickers)).
		Int("received", report.Received).
		Int("kept", report.Kept).
		Int("dropped_invalid", report.DroppedInvalid).
		Int("dropped_duplicate", report.DroppedDuplicate).
		Int("failures", len(summary.Failures)).
		Msg("Price sync complete")

	return summary, nil
}
