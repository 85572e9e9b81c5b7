// Package main is the entry point for the Monte Carlo portfolio
// simulation service. The service keeps a local store of daily price
// history, estimates a multivariate return model from it, and runs
// correlated Monte Carlo simulations over the configured universe.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantfolio/montesim/internal/clients/yahoo"
	"github.com/quantfolio/montesim/internal/config"
	"github.com/quantfolio/montesim/internal/database"
	"github.com/quantfolio/montesim/internal/modules/history"
	"github.com/quantfolio/montesim/internal/modules/ingest"
	"github.com/quantfolio/montesim/internal/modules/runs"
	"github.com/quantfolio/montesim/internal/reliability"
	"github.com/quantfolio/montesim/internal/scheduler"
	"github.com/quantfolio/montesim/internal/server"
	"github.com/quantfolio/montesim/internal/simulation"
	"github.com/quantfolio/montesim/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting montesim")

	// History holds durable price data, results holds run records and
	// their outcome tables. Separate files keep result churn out of the
	// price database's WAL.
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()

	if err := historyDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}
	if err := resultsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate results database")
	}

	// Repositories and services.
	historyRepo := history.NewRepository(historyDB.Conn(), log)
	modelCache := history.NewModelCache(historyDB.Conn(), log)
	runRepo := runs.NewRepository(resultsDB.Conn(), log)

	yahooClient := yahoo.NewClient(log)
	syncService := ingest.NewSyncService(yahooClient, historyRepo, log)

	hub := runs.NewProgressHub()
	engine := simulation.NewEngine(log)
	runService := runs.NewService(engine, historyRepo, modelCache, runRepo, hub, runs.Defaults{
		Tickers:        cfg.Tickers,
		PortfolioValue: cfg.PortfolioValue,
		Years:          cfg.Years,
		NumSimulations: cfg.NumSimulations,
		StartDate:      cfg.StartDate,
		EndDate:        cfg.EndDate,
		Workers:        cfg.Workers,
	}, log)
	defer runService.Shutdown()

	// Background jobs.
	sched := scheduler.New(log)
	syncJob := scheduler.NewPriceSyncJob(syncService, cfg.Tickers, cfg.StartDate, log)
	if err := sched.AddJob(cfg.SyncSchedule, syncJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.SyncSchedule).Msg("Failed to register price sync job")
	}

	// An empty store syncs immediately instead of waiting for the
	// nightly schedule.
	if stored, err := historyRepo.Tickers(); err == nil && len(stored) == 0 {
		go func() {
			if err := sched.RunNow(syncJob); err != nil {
				log.Error().Err(err).Msg("Initial price sync failed")
			}
		}()
	}

	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		backupService := reliability.NewBackupService(
			s3Client, []*database.DB{historyDB, resultsDB}, cfg.DataDir, log)
		backupJob := reliability.NewBackupJob(backupService, cfg.Backup.RetentionDays, log)
		// Backups run an hour after the nightly sync.
		if err := sched.AddJob("0 30 3 * * *", backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	} else {
		log.Info().Msg("S3 backups disabled (no bucket configured)")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:         log,
		Config:      cfg,
		HistoryDB:   historyDB,
		ResultsDB:   resultsDB,
		RunService:  runService,
		RunRepo:     runRepo,
		ProgressHub: hub,
		HistoryRepo: historyRepo,
		SyncService: syncService,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
