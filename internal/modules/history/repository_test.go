package history

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/montesim/internal/database"
	"github.com/quantfolio/montesim/internal/domain"
	"github.com/quantfolio/montesim/internal/simulation"
)

func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Profile: database.ProfileCache,
		Name:    "history",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func testBars(ticker string, days int) []domain.Bar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 0, days)
	price := 100.0
	for d := 0; d < days; d++ {
		price *= math.Exp(0.001 + 0.01*math.Sin(float64(d)*0.9))
		bars = append(bars, domain.Bar{
			Ticker:   ticker,
			Date:     start.AddDate(0, 0, d),
			Open:     price * 0.99,
			High:     price * 1.01,
			Low:      price * 0.98,
			Close:    price,
			AdjClose: price,
			Volume:   1000 + int64(d),
		})
	}
	return bars
}

func TestUpsertAndGetDailyBars(t *testing.T) {
	db := newTestDB(t, "history_upsert")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	bars := testBars("AAA", 5)
	n, err := repo.UpsertBars(bars)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := repo.GetDailyBars("AAA",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, bars[0].DateKey(), got[0].DateKey())
	assert.InDelta(t, bars[4].AdjClose, got[4].AdjClose, 1e-12)

	// Upserting the same dates replaces rather than duplicates.
	bars[0].AdjClose = 42
	_, err = repo.UpsertBars(bars[:1])
	require.NoError(t, err)

	got, err = repo.GetDailyBars("AAA",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 42.0, got[0].AdjClose)
}

func TestAdjCloseTable(t *testing.T) {
	db := newTestDB(t, "history_table")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	_, err := repo.UpsertBars(append(testBars("AAA", 4), testBars("BBB", 4)...))
	require.NoError(t, err)

	table, err := repo.AdjCloseTable([]string{"AAA", "BBB", "ZZZ"},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, table["AAA"], 4)
	require.Len(t, table["BBB"], 4)
	// Absent tickers get no entry so the estimator can name them.
	_, ok := table["ZZZ"]
	assert.False(t, ok)

	assert.Equal(t, "2024-01-02", table["AAA"][0].Date)
	assert.True(t, table["AAA"][0].Date < table["AAA"][1].Date)
}

func TestTickersAndCount(t *testing.T) {
	db := newTestDB(t, "history_tickers")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	_, err := repo.UpsertBars(append(testBars("BBB", 3), testBars("AAA", 2)...))
	require.NoError(t, err)

	tickers, err := repo.Tickers()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, tickers)

	count, err := repo.CountBars("BBB")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSeriesStats(t *testing.T) {
	db := newTestDB(t, "history_stats")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	_, err := repo.UpsertBars(testBars("AAA", 60))
	require.NoError(t, err)

	stats, err := repo.SeriesStats("AAA",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 60, stats.Observations)
	assert.Equal(t, "2024-01-02", stats.FirstDate)
	require.NotNil(t, stats.SMA20)
	assert.Greater(t, *stats.SMA20, 0.0)
	// 60 observations cannot fill a 200-day average.
	assert.Nil(t, stats.SMA200)
	require.NotNil(t, stats.RSI14)
	require.NotNil(t, stats.AnnualizedVolatility)
	assert.Greater(t, *stats.AnnualizedVolatility, 0.0)
}

func TestModelCacheRoundTrip(t *testing.T) {
	db := newTestDB(t, "history_cache")
	cache := NewModelCache(db.Conn(), zerolog.Nop())

	prices := simulation.PriceTable{
		"AAA": {
			{Date: "2024-01-02", AdjClose: 100},
			{Date: "2024-01-03", AdjClose: 101},
			{Date: "2024-01-04", AdjClose: 99},
			{Date: "2024-01-05", AdjClose: 103},
		},
		"BBB": {
			{Date: "2024-01-02", AdjClose: 50},
			{Date: "2024-01-03", AdjClose: 52},
			{Date: "2024-01-04", AdjClose: 51},
			{Date: "2024-01-05", AdjClose: 50},
		},
	}
	model, err := simulation.EstimateReturnModel([]string{"AAA", "BBB"}, prices)
	require.NoError(t, err)

	key := CacheKey([]string{"AAA", "BBB"}, "2024-01-01", "2024-02-01")
	require.NoError(t, cache.Set(key, model))

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, model.Tickers, got.Tickers)
	assert.Equal(t, model.Rows, got.Rows)
	for i := 0; i < 2; i++ {
		assert.InDelta(t, model.Mean[i], got.Mean[i], 1e-12)
		for j := 0; j < 2; j++ {
			assert.InDelta(t, model.Cov.At(i, j), got.Cov.At(i, j), 1e-12)
		}
	}

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	a := CacheKey([]string{"AAA", "BBB"}, "2024-01-01", "2024-02-01")
	b := CacheKey([]string{"BBB", "AAA"}, "2024-01-01", "2024-02-01")
	c := CacheKey([]string{"AAA", "BBB"}, "2024-01-01", "2024-03-01")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
