package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/config"
	"github.com/quantfolio/montesim/internal/domain"
	"github.com/quantfolio/montesim/internal/modules/history"
	"github.com/quantfolio/montesim/internal/modules/ingest"
)

// HistoryHandlers exposes stored price history and the sync trigger.
type HistoryHandlers struct {
	repo *history.Repository
	sync *ingest.SyncService
	cfg  *config.Config
	log  zerolog.Logger
}

// NewHistoryHandlers creates history handlers.
func NewHistoryHandlers(repo *history.Repository, sync *ingest.SyncService, cfg *config.Config, log zerolog.Logger) *HistoryHandlers {
	return &HistoryHandlers{
		repo: repo,
		sync: sync,
		cfg:  cfg,
		log:  log.With().Str("component", "history_handlers").Logger(),
	}
}

// barResponse is the JSON shape of one daily bar.
type barResponse struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
	Volume   int64   `json:"volume"`
}

// HandleGetBars returns a ticker's daily bars within an optional window.
func (h *HistoryHandlers) HandleGetBars(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))

	start, end, ok := h.window(w, r)
	if !ok {
		return
	}

	bars, err := h.repo.GetDailyBars(ticker, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to load daily bars")
		writeError(h.log, w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := make([]barResponse, 0, len(bars))
	for _, b := range bars {
		out = append(out, toBarResponse(b))
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"ticker": ticker,
		"bars":   out,
		"count":  len(out),
	})
}

// HandleGetStats returns derived indicator statistics for one ticker.
func (h *HistoryHandlers) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))

	start, end, ok := h.window(w, r)
	if !ok {
		return
	}

	stats, err := h.repo.SeriesStats(ticker, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to compute series stats")
		writeError(h.log, w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	if stats.Observations == 0 {
		writeError(h.log, w, http.StatusNotFound, "no history for ticker")
		return
	}

	writeJSON(h.log, w, http.StatusOK, stats)
}

// syncRequest optionally narrows a manual sync trigger.
type syncRequest struct {
	Tickers   []string `json:"tickers"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

// HandleSync triggers a price sync for the configured (or requested)
// universe and waits for it to finish.
func (h *HistoryHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(h.log, w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	tickers := req.Tickers
	if len(tickers) == 0 {
		tickers = h.cfg.Tickers
	}
	startStr := req.StartDate
	if startStr == "" {
		startStr = h.cfg.StartDate
	}
	endStr := req.EndDate
	if endStr == "" {
		endStr = h.cfg.EndDate
	}

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	summary, err := h.sync.SyncTickers(r.Context(), tickers, start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("Price sync failed")
		writeError(h.log, w, http.StatusInternalServerError, "sync failed")
		return
	}

	writeJSON(h.log, w, http.StatusOK, summary)
}

// window parses optional start/end query parameters, defaulting to the
// configured estimation window.
func (h *HistoryHandlers) window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	startStr := r.URL.Query().Get("start")
	if startStr == "" {
		startStr = h.cfg.StartDate
	}
	endStr := r.URL.Query().Get("end")
	if endStr == "" {
		endStr = h.cfg.EndDate
	}

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func toBarResponse(b domain.Bar) barResponse {
	return barResponse{
		Date:     b.DateKey(),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		AdjClose: b.AdjClose,
		Volume:   b.Volume,
	}
}
