package runs

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/montesim/internal/domain"
	"github.com/quantfolio/montesim/internal/modules/history"
	"github.com/quantfolio/montesim/internal/simulation"
)

func seedPrices(t *testing.T, repo *history.Repository, tickers []string, days int) {
	t.Helper()
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for ti, ticker := range tickers {
		price := 100.0 * float64(ti+1)
		for d := 0; d < days; d++ {
			// Distinct drift and cycle per ticker keeps the covariance
			// matrix positive definite.
			price *= math.Exp(0.0005*float64(ti+1) + 0.01*math.Sin(float64(d)*0.7+float64(ti)))
			bars = append(bars, domain.Bar{
				Ticker:   ticker,
				Date:     start.AddDate(0, 0, d),
				Open:     price,
				High:     price * 1.01,
				Low:      price * 0.99,
				Close:    price,
				AdjClose: price,
				Volume:   1000,
			})
		}
	}
	_, err := repo.UpsertBars(bars)
	require.NoError(t, err)
}

func newTestService(t *testing.T, name string) (*Service, *Repository) {
	t.Helper()
	historyDB := newTestDB(t, name+"_history", "history")
	resultsDB := newTestDB(t, name+"_results", "results")

	historyRepo := history.NewRepository(historyDB.Conn(), zerolog.Nop())
	seedPrices(t, historyRepo, []string{"AAA", "BBB"}, 40)

	repo := NewRepository(resultsDB.Conn(), zerolog.Nop())
	svc := NewService(
		simulation.NewEngine(zerolog.Nop()),
		historyRepo,
		history.NewModelCache(historyDB.Conn(), zerolog.Nop()),
		repo,
		NewProgressHub(),
		Defaults{
			Tickers:        []string{"AAA", "BBB"},
			PortfolioValue: 100000,
			Years:          1,
			NumSimulations: 20,
			StartDate:      "2020-01-01",
			EndDate:        "2020-12-31",
			Workers:        2,
		},
		zerolog.Nop(),
	)
	t.Cleanup(svc.Shutdown)
	return svc, repo
}

func waitForTerminal(t *testing.T, svc *Service, id string) *Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.Get(id)
		require.NoError(t, err)
		if run.Status == StatusCompleted || run.Status == StatusFailed {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", id)
	return nil
}

func TestStartRunsToCompletion(t *testing.T) {
	svc, repo := newTestService(t, "svc_complete")

	seed := uint64(42)
	run, err := svc.Start(Request{Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)
	assert.Equal(t, []string{"AAA", "BBB"}, run.Tickers)

	final := waitForTerminal(t, svc, run.ID)
	require.Equal(t, StatusCompleted, final.Status, "run error: %s", final.Error)
	assert.Equal(t, 40, final.RowCount) // 20 simulations x 2 tickers

	rows, err := repo.GetResults(run.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 40)
	assert.Equal(t, 0, rows[0].ID)
	assert.Equal(t, 39, rows[39].ID)
	assert.InDelta(t, 50000.0, rows[0].StartingValue, 1e-9)
	assert.InDelta(t, 0.05, rows[0].Probability, 1e-12)
}

func TestStartIsDeterministicForFixedSeed(t *testing.T) {
	svc, repo := newTestService(t, "svc_determinism")

	seed := uint64(99)
	first, err := svc.Start(Request{Seed: &seed})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitForTerminal(t, svc, first.ID).Status)

	second, err := svc.Start(Request{Seed: &seed})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitForTerminal(t, svc, second.ID).Status)

	a, err := repo.GetResults(first.ID, 0, 0)
	require.NoError(t, err)
	b, err := repo.GetResults(second.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestStartRejectsInvalidRequest(t *testing.T) {
	svc, _ := newTestService(t, "svc_invalid")

	_, err := svc.Start(Request{Years: -1})
	var invalid simulation.InvalidParameterError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "years", invalid.Field)

	_, err = svc.Start(Request{StartDate: "01/02/2020"})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "start_date", invalid.Field)

	// Nothing persisted for rejected requests.
	runs, err := svc.List(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStartFailsWhenHistoryMissing(t *testing.T) {
	svc, _ := newTestService(t, "svc_missing")

	seed := uint64(1)
	run, err := svc.Start(Request{Tickers: []string{"AAA", "GONE"}, Seed: &seed})
	require.NoError(t, err)

	final := waitForTerminal(t, svc, run.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "GONE")
}

func TestProgressHubFanOut(t *testing.T) {
	hub := NewProgressHub()

	ch, cancel := hub.Subscribe("run-x")
	defer cancel()
	other, cancelOther := hub.Subscribe("run-y")
	defer cancelOther()

	hub.Publish(ProgressEvent{RunID: "run-x", Status: StatusRunning, Completed: 3, Total: 10})

	select {
	case ev := <-ch:
		assert.Equal(t, 3, ev.Completed)
		assert.Equal(t, StatusRunning, ev.Status)
	default:
		t.Fatal("expected an event for run-x")
	}
	select {
	case <-other:
		t.Fatal("run-y subscriber must not receive run-x events")
	default:
	}
}

func TestProgressReporterThrottlesButAlwaysReportsCompletion(t *testing.T) {
	hub := NewProgressHub()
	ch, cancel := hub.Subscribe("run-t")
	defer cancel()

	reporter := newProgressReporter(hub, "run-t")
	for i := 1; i <= 100; i++ {
		reporter.report(i, 100)
	}

	var events []ProgressEvent
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
			continue
		default:
		}
		break
	}

	// The throttle collapses a fast burst to the first update plus the
	// completion event, which always bypasses the interval check.
	require.NotEmpty(t, events)
	assert.Less(t, len(events), 100)
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Completed)
	assert.Equal(t, 100, last.Total)
}
