package monitor

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/banshee-data/omnilaser/internal/recorder"
)

// defaultTickLimit caps /api/history/ticks when no limit is given.
const defaultTickLimit = 100

func (ws *WebServer) requireHistory(w http.ResponseWriter, r *http.Request) bool {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return false
	}
	if ws.history == nil {
		ws.writeJSONError(w, http.StatusNotFound, "recorder disabled")
		return false
	}
	return true
}

func (ws *WebServer) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w, r) {
		return
	}
	runs, err := ws.history.Runs(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []recorder.Run{}
	}
	ws.writeJSON(w, http.StatusOK, runs)
}

func (ws *WebServer) handleHistoryTicks(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w, r) {
		return
	}
	limit := defaultTickLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			ws.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	ticks, err := ws.history.RecentTicks(r.Context(), limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "failed to load ticks: "+err.Error())
		return
	}
	if ticks == nil {
		ticks = []recorder.TickRecord{}
	}
	ws.writeJSON(w, http.StatusOK, ticks)
}

func (ws *WebServer) handleHistoryScan(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w, r) {
		return
	}
	seq, err := strconv.ParseUint(r.URL.Query().Get("seq"), 10, 64)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "seq must be an unsigned integer")
		return
	}
	dist, err := ws.history.LoadScan(r.Context(), seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ws.writeJSONError(w, http.StatusNotFound, "no scan recorded at that seq")
		return
	case err != nil:
		ws.writeJSONError(w, http.StatusInternalServerError, "failed to load scan: "+err.Error())
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{"seq": seq, "distances": dist})
}
