package runs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/modules/history"
	"github.com/quantfolio/montesim/internal/simulation"
)

// Service orchestrates the full run lifecycle: request validation,
// persistence, background execution, and progress fan-out.
type Service struct {
	engine     *simulation.Engine
	history    *history.Repository
	modelCache *history.ModelCache
	repo       *Repository
	hub        *ProgressHub
	defaults   Defaults
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a run service. Call Shutdown to stop background
// executions and wait for them to finish.
func NewService(
	engine *simulation.Engine,
	historyRepo *history.Repository,
	modelCache *history.ModelCache,
	repo *Repository,
	hub *ProgressHub,
	defaults Defaults,
	log zerolog.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		engine:     engine,
		history:    historyRepo,
		modelCache: modelCache,
		repo:       repo,
		hub:        hub,
		defaults:   defaults,
		log:        log.With().Str("component", "run_service").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start validates a request, persists a pending run, and launches its
// execution in the background. Validation errors are returned
// synchronously so callers can reject bad requests before anything is
// stored.
func (s *Service) Start(req Request) (*Run, error) {
	run, params, window, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(run); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Strs("tickers", run.Tickers).
		Int("num_simulations", run.NumSimulations).
		Int("years", run.Years).
		Msg("Simulation run accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(run, params, window)
	}()

	return run, nil
}

// dateWindow is the resolved estimation window of a run.
type dateWindow struct {
	start, end time.Time
	startStr   string
	endStr     string
}

// resolve applies defaults and validates the request, producing the
// pending run record and engine parameters.
func (s *Service) resolve(req Request) (*Run, simulation.Params, dateWindow, error) {
	var zero dateWindow

	tickers := req.Tickers
	if len(tickers) == 0 {
		tickers = s.defaults.Tickers
	}
	portfolioValue := req.PortfolioValue
	if portfolioValue == 0 {
		portfolioValue = s.defaults.PortfolioValue
	}
	years := req.Years
	if years == 0 {
		years = s.defaults.Years
	}
	numSimulations := req.NumSimulations
	if numSimulations == 0 {
		numSimulations = s.defaults.NumSimulations
	}
	startDate := req.StartDate
	if startDate == "" {
		startDate = s.defaults.StartDate
	}
	endDate := req.EndDate
	if endDate == "" {
		endDate = s.defaults.EndDate
	}

	var seed uint64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = uint64(time.Now().UnixNano())
	}

	params := simulation.Params{
		Tickers:        tickers,
		PortfolioValue: portfolioValue,
		Years:          years,
		NumSimulations: numSimulations,
		Seed:           seed,
		Workers:        s.defaults.Workers,
	}
	if err := params.Validate(); err != nil {
		return nil, params, zero, err
	}

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, params, zero, simulation.InvalidParameterError{
			Field: "start_date", Reason: "must be YYYY-MM-DD",
		}
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, params, zero, simulation.InvalidParameterError{
			Field: "end_date", Reason: "must be YYYY-MM-DD",
		}
	}
	if !end.After(start) {
		return nil, params, zero, simulation.InvalidParameterError{
			Field: "end_date", Reason: "must be after start_date",
		}
	}

	run := &Run{
		ID:             uuid.New().String(),
		Status:         StatusPending,
		Tickers:        tickers,
		PortfolioValue: portfolioValue,
		Years:          years,
		NumSimulations: numSimulations,
		StartDate:      startDate,
		EndDate:        endDate,
		Seed:           seed,
		CreatedAt:      time.Now().UTC(),
	}
	window := dateWindow{start: start, end: end, startStr: startDate, endStr: endDate}
	return run, params, window, nil
}

// execute runs one simulation to completion, persisting results and
// publishing progress. Failures are recorded on the run, never returned.
func (s *Service) execute(run *Run, params simulation.Params, window dateWindow) {
	log := s.log.With().Str("run_id", run.ID).Logger()

	if err := s.repo.MarkRunning(run.ID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to mark run as running")
		return
	}
	s.hub.Publish(ProgressEvent{
		RunID:     run.ID,
		Status:    StatusRunning,
		Total:     run.NumSimulations,
		Timestamp: time.Now(),
	})

	model, err := s.returnModel(params.Tickers, window, log)
	if err != nil {
		s.fail(run, err, log)
		return
	}

	reporter := newProgressReporter(s.hub, run.ID)
	started := time.Now()
	rows, err := s.engine.RunModel(s.ctx, params, model, reporter.report)
	if err != nil {
		s.fail(run, err, log)
		return
	}

	if err := s.repo.InsertResults(run.ID, rows); err != nil {
		s.fail(run, fmt.Errorf("failed to persist results: %w", err), log)
		return
	}
	if err := s.repo.MarkCompleted(run.ID, len(rows), time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to mark run as completed")
		return
	}

	s.hub.Publish(ProgressEvent{
		RunID:     run.ID,
		Status:    StatusCompleted,
		Completed: run.NumSimulations,
		Total:     run.NumSimulations,
		Timestamp: time.Now(),
	})
	log.Info().
		Int("rows", len(rows)).
		Dur("elapsed", time.Since(started)).
		Msg("Simulation run completed")
}

// returnModel loads the run's return model from cache or estimates it
// from stored prices.
func (s *Service) returnModel(tickers []string, window dateWindow, log zerolog.Logger) (*simulation.ReturnModel, error) {
	key := history.CacheKey(tickers, window.startStr, window.endStr)
	if s.modelCache != nil {
		if model, ok := s.modelCache.Get(key); ok {
			log.Debug().Str("cache_key", key).Msg("Using cached return model")
			return model, nil
		}
	}

	prices, err := s.history.AdjCloseTable(tickers, window.start, window.end)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	model, err := simulation.EstimateReturnModel(tickers, prices)
	if err != nil {
		return nil, err
	}

	if s.modelCache != nil {
		if err := s.modelCache.Set(key, model); err != nil {
			log.Warn().Err(err).Msg("Failed to cache return model")
		}
	}
	return model, nil
}

func (s *Service) fail(run *Run, runErr error, log zerolog.Logger) {
	log.Error().Err(runErr).Msg("Simulation run failed")
	if err := s.repo.MarkFailed(run.ID, runErr, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to mark run as failed")
	}
	s.hub.Publish(ProgressEvent{
		RunID:     run.ID,
		Status:    StatusFailed,
		Total:     run.NumSimulations,
		Message:   runErr.Error(),
		Timestamp: time.Now(),
	})
}

// Get returns a run by id.
func (s *Service) Get(id string) (*Run, error) {
	return s.repo.Get(id)
}

// List returns recent runs, newest first.
func (s *Service) List(limit int) ([]*Run, error) {
	return s.repo.List(limit)
}

// Results returns a page of a run's outcome rows.
func (s *Service) Results(id string, limit, offset int) ([]simulation.OutcomeRow, error) {
	if _, err := s.repo.Get(id); err != nil {
		return nil, err
	}
	return s.repo.GetResults(id, limit, offset)
}

// Shutdown cancels in-flight runs and waits for their goroutines.
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
