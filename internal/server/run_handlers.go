package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quantfolio/montesim/internal/modules/runs"
	"github.com/quantfolio/montesim/internal/simulation"
)

// RunHandlers exposes the simulation run lifecycle over HTTP.
type RunHandlers struct {
	service *runs.Service
	repo    *runs.Repository
	hub     *runs.ProgressHub
	log     zerolog.Logger
}

// NewRunHandlers creates run handlers.
func NewRunHandlers(service *runs.Service, repo *runs.Repository, hub *runs.ProgressHub, log zerolog.Logger) *RunHandlers {
	return &RunHandlers{
		service: service,
		repo:    repo,
		hub:     hub,
		log:     log.With().Str("component", "run_handlers").Logger(),
	}
}

// HandleCreateRun accepts a run request and starts it in the background.
// Responds 202 with the pending run record.
func (h *RunHandlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runs.Request
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(h.log, w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	run, err := h.service.Start(req)
	if err != nil {
		var invalid simulation.InvalidParameterError
		if errors.As(err, &invalid) {
			writeError(h.log, w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to start simulation run")
		writeError(h.log, w, http.StatusInternalServerError, "failed to start run")
		return
	}

	writeJSON(h.log, w, http.StatusAccepted, run)
}

// HandleListRuns returns recent runs, newest first.
func (h *RunHandlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	list, err := h.service.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		writeError(h.log, w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []*runs.Run{}
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"runs":  list,
		"count": len(list),
	})
}

// HandleGetRun returns one run by id.
func (h *RunHandlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.service.Get(id)
	if err != nil {
		h.writeRunError(w, id, err)
		return
	}

	writeJSON(h.log, w, http.StatusOK, run)
}

// HandleGetResults returns a page of a run's outcome rows.
func (h *RunHandlers) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 1000)
	offset := queryInt(r, "offset", 0)

	rows, err := h.service.Results(id, limit, offset)
	if err != nil {
		h.writeRunError(w, id, err)
		return
	}
	if rows == nil {
		rows = []simulation.OutcomeRow{}
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"run_id":  id,
		"results": rows,
		"count":   len(rows),
		"offset":  offset,
	})
}

// HandleExportCSV streams a run's full result table as a CSV download.
func (h *RunHandlers) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.service.Get(id)
	if err != nil {
		h.writeRunError(w, id, err)
		return
	}
	if run.Status != runs.StatusCompleted {
		writeError(h.log, w, http.StatusConflict,
			fmt.Sprintf("run is %s, export requires a completed run", run.Status))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=simulation_%s.csv", id))

	if err := h.repo.WriteCSV(w, id); err != nil {
		// Headers are already sent, all we can do is log.
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to stream CSV export")
	}
}

// HandleProgressStream upgrades to a websocket and forwards the run's
// progress events until the run reaches a terminal state or the client
// disconnects.
func (h *RunHandlers) HandleProgressStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.service.Get(id)
	if err != nil {
		h.writeRunError(w, id, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()

	// Terminal runs get a single snapshot event.
	if run.Status == runs.StatusCompleted || run.Status == runs.StatusFailed {
		_ = wsjson.Write(ctx, conn, runs.ProgressEvent{
			RunID:     run.ID,
			Status:    run.Status,
			Completed: run.NumSimulations,
			Total:     run.NumSimulations,
			Message:   run.Error,
			Timestamp: time.Now(),
		})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	events, cancel := h.hub.Subscribe(id)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			writeCancel()
			if err != nil {
				return
			}
			if ev.Status == runs.StatusCompleted || ev.Status == runs.StatusFailed {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func (h *RunHandlers) writeRunError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, runs.ErrRunNotFound) {
		writeError(h.log, w, http.StatusNotFound, "run not found")
		return
	}
	h.log.Error().Err(err).Str("run_id", id).Msg("Run lookup failed")
	writeError(h.log, w, http.StatusInternalServerError, "internal error")
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
