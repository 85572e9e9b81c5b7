package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/modules/ingest"
)

// PriceSyncJob refreshes the configured universe's daily bars. It extends
// the stored window up to yesterday so the nightly run picks up the most
// recent close.
type PriceSyncJob struct {
	sync      *ingest.SyncService
	tickers   []string
	startDate string
	timeout   time.Duration
	log       zerolog.Logger
}

// NewPriceSyncJob creates the nightly price sync job.
func NewPriceSyncJob(sync *ingest.SyncService, tickers []string, startDate string, log zerolog.Logger) *PriceSyncJob {
	return &PriceSyncJob{
		sync:      sync,
		tickers:   tickers,
		startDate: startDate,
		timeout:   10 * time.Minute,
		log:       log.With().Str("component", "price_sync_job").Logger(),
	}
}

// Name implements Job.
func (j *PriceSyncJob) Name() string {
	return "price_sync"
}

// Run implements Job.
func (j *PriceSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start, err := time.Parse("2006-01-02", j.startDate)
	if err != nil {
		return err
	}
	end := time.Now().UTC().AddDate(0, 0, -1)

	summary, err := j.sync.SyncTickers(ctx, j.tickers, start, end)
	if err != nil {
		return err
	}

	j.log.Info().
		Int("tickers", summary.Tickers).
		Int("stored", summary.Stored).
		Int("failures", len(summary.Failures)).
		Msg("Nightly price sync finished")
	return nil
}
