package history

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfolio/montesim/internal/simulation"
)

// modelCacheTTL bounds how long an estimated return model is reused.
// Price history only changes on sync, so a day is plenty.
const modelCacheTTL = 24 * time.Hour

// ModelCache caches estimated return models in the return_model_cache
// table, keyed by ticker set and estimation window. Entries are encoded
// with msgpack.
type ModelCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewModelCache creates a return-model cache over the history database.
func NewModelCache(db *sql.DB, log zerolog.Logger) *ModelCache {
	return &ModelCache{
		db:  db,
		log: log.With().Str("component", "model_cache").Logger(),
	}
}

// cachedReturnModel is the msgpack wire form of a ReturnModel.
type cachedReturnModel struct {
	Tickers []string    `msgpack:"tickers"`
	Mean    []float64   `msgpack:"mean"`
	Cov     [][]float64 `msgpack:"cov"`
	Rows    int         `msgpack:"rows"`
}

// CacheKey builds a deterministic key from the ticker set and window.
// Tickers are sorted so request order does not affect the key.
func CacheKey(tickers []string, startDate, endDate string) string {
	sorted := make([]string, len(tickers))
	copy(sorted, tickers)
	sort.Strings(sorted)

	keyData := fmt.Sprintf("%s|%s|%s", strings.Join(sorted, ","), startDate, endDate)
	h := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(h[:16])
}

// Get returns the cached model for a key, or false when absent, expired,
// or undecodable.
func (c *ModelCache) Get(key string) (*simulation.ReturnModel, bool) {
	var payload []byte
	var createdAt int64
	err := c.db.QueryRow(`
		SELECT payload, created_at FROM return_model_cache WHERE cache_key = ?
	`, key).Scan(&payload, &createdAt)
	if err != nil {
		return nil, false
	}

	if time.Since(time.Unix(createdAt, 0)) > modelCacheTTL {
		return nil, false
	}

	var cached cachedReturnModel
	if err := msgpack.Unmarshal(payload, &cached); err != nil {
		c.log.Warn().Err(err).Msg("Failed to decode cached return model, recalculating")
		return nil, false
	}

	n := len(cached.Tickers)
	if len(cached.Mean) != n || len(cached.Cov) != n {
		return nil, false
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cached.Cov[i]) != n {
			return nil, false
		}
		for j := i; j < n; j++ {
			cov.SetSym(i, j, cached.Cov[i][j])
		}
	}

	return &simulation.ReturnModel{
		Tickers: cached.Tickers,
		Mean:    cached.Mean,
		Cov:     cov,
		Rows:    cached.Rows,
	}, true
}

// Set stores a model under the given key, replacing any previous entry.
func (c *ModelCache) Set(key string, model *simulation.ReturnModel) error {
	n := len(model.Tickers)
	cov := make([][]float64, n)
	for i := 0; i < n; i++ {
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			cov[i][j] = model.Cov.At(i, j)
		}
	}

	payload, err := msgpack.Marshal(cachedReturnModel{
		Tickers: model.Tickers,
		Mean:    model.Mean,
		Cov:     cov,
		Rows:    model.Rows,
	})
	if err != nil {
		return fmt.Errorf("failed to encode return model: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO return_model_cache (cache_key, payload, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at
	`, key, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store return model: %w", err)
	}

	return nil
}
