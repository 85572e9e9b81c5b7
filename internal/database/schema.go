package database

// schemas maps database names to their DDL. Each statement is idempotent
// so Migrate can run on every startup.
var schemas = map[string]string{
	"history": historySchema,
	"results": resultsSchema,
}

const historySchema = `
CREATE TABLE IF NOT EXISTS daily_prices (
    ticker    TEXT    NOT NULL,
    date      INTEGER NOT NULL, -- unix seconds, UTC midnight of the trading day
    open      REAL    NOT NULL,
    high      REAL    NOT NULL,
    low       REAL    NOT NULL,
    close     REAL    NOT NULL,
    adj_close REAL    NOT NULL,
    volume    INTEGER NOT NULL,
    PRIMARY KEY (ticker, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);

CREATE TABLE IF NOT EXISTS return_model_cache (
    cache_key  TEXT    PRIMARY KEY,
    payload    BLOB    NOT NULL,
    created_at INTEGER NOT NULL
);
`

const resultsSchema = `
CREATE TABLE IF NOT EXISTS simulation_runs (
    id              TEXT    PRIMARY KEY,
    status          TEXT    NOT NULL,
    tickers         TEXT    NOT NULL, -- comma-separated, in request order
    portfolio_value REAL    NOT NULL,
    years           INTEGER NOT NULL,
    num_simulations INTEGER NOT NULL,
    start_date      TEXT    NOT NULL,
    end_date        TEXT    NOT NULL,
    seed            INTEGER NOT NULL,
    row_count       INTEGER NOT NULL DEFAULT 0,
    error           TEXT,
    created_at      INTEGER NOT NULL,
    started_at      INTEGER,
    completed_at    INTEGER
);

CREATE TABLE IF NOT EXISTS simulation_results (
    run_id            TEXT    NOT NULL,
    id                INTEGER NOT NULL,
    ticker            TEXT    NOT NULL,
    simulation_id     INTEGER NOT NULL,
    year              INTEGER NOT NULL,
    starting_value    REAL    NOT NULL,
    ending_value      REAL    NOT NULL,
    annual_return     REAL    NOT NULL,
    cumulative_return REAL    NOT NULL,
    volatility        REAL    NOT NULL,
    probability       REAL    NOT NULL,
    PRIMARY KEY (run_id, id),
    FOREIGN KEY (run_id) REFERENCES simulation_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_simulation_results_run ON simulation_results(run_id);
`
