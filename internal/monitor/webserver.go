// Package monitor serves the loop's debug HTTP surface: JSON accessors for
// the latest scan and base state, velocity intake, and quick charts.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/recorder"
	"github.com/banshee-data/omnilaser/internal/robot"
)

// maxBodyBytes bounds POST bodies; commands are tiny.
const maxBodyBytes = 64 << 10

// Loop is the control-loop surface the web server uses.
type Loop interface {
	LatestScan() *fusion.Scan
	LatestState() (robot.BaseState, bool)
	ScanInfo() fusion.ScanInfo
	SetSpeedBase(cmd robot.VelocityCommand)
	StopBase()
	Joystick(data robot.JoystickData)
	PendingCommand() robot.VelocityCommand
}

// Stats is the tick statistics source.
type Stats interface {
	Snapshot() monitoring.StatsSnapshot
	Recent() []monitoring.TickPoint
}

// History reads back what the recorder stored.
type History interface {
	Runs(ctx context.Context) ([]recorder.Run, error)
	RecentTicks(ctx context.Context, limit int) ([]recorder.TickRecord, error)
	LoadScan(ctx context.Context, seq uint64) ([]int32, error)
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Loop    Loop
	Stats   Stats
	// History is optional; without it the /api/history routes return 404.
	History History
}

// WebServer provides health, JSON and chart endpoints.
type WebServer struct {
	address string
	loop    Loop
	stats   Stats
	history History
	mux     *http.ServeMux
	server  *http.Server
	logf    func(format string, v ...interface{})
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		loop:    config.Loop,
		stats:   config.Stats,
		history: config.History,
		logf:    monitoring.Component("Monitor"),
	}
	ws.mux = ws.setupRoutes()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Mux exposes the route table so other packages can attach debug routes.
func (ws *WebServer) Mux() *http.ServeMux { return ws.mux }

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns early with the listen error if the server cannot start.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		ws.logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	ws.logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		ws.logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			ws.logf("HTTP server force close error: %v", err)
		}
	}
	ws.logf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/laser", ws.handleLaser)
	mux.HandleFunc("/api/laser/conf", ws.handleLaserConf)
	mux.HandleFunc("/api/base/state", ws.handleBaseState)
	mux.HandleFunc("/api/base/pose", ws.handleBasePose)
	mux.HandleFunc("/api/base/speed", ws.handleSpeed)
	mux.HandleFunc("/api/base/stop", ws.handleStop)
	mux.HandleFunc("/api/joystick", ws.handleJoystick)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/history/runs", ws.handleHistoryRuns)
	mux.HandleFunc("/api/history/ticks", ws.handleHistoryTicks)
	mux.HandleFunc("/api/history/scan", ws.handleHistoryScan)
	mux.HandleFunc("/charts/scan", ws.handleScanChart)
	mux.HandleFunc("/charts/ticks", ws.handleTickChart)
	mux.HandleFunc("/charts/scan.png", ws.handleScanPNG)
	return mux
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logf("JSON encoding error: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

func (ws *WebServer) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"have_scan": ws.loop.LatestScan() != nil,
	})
}

// scanResponse is the /api/laser payload.
type scanResponse struct {
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Bins      []fusion.ScanBin `json:"bins"`
}

func (ws *WebServer) handleLaser(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	scan := ws.loop.LatestScan()
	if scan == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no scan fused yet")
		return
	}
	ws.writeJSON(w, http.StatusOK, scanResponse{Seq: scan.Seq(), Timestamp: scan.Timestamp(), Bins: scan.Bins()})
}

func (ws *WebServer) handleLaserConf(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	ws.writeJSON(w, http.StatusOK, ws.loop.ScanInfo())
}

func (ws *WebServer) handleBaseState(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	state, ok := ws.loop.LatestState()
	if !ok {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no base state yet")
		return
	}
	ws.writeJSON(w, http.StatusOK, state)
}

func (ws *WebServer) handleBasePose(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	state, ok := ws.loop.LatestState()
	if !ok {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no base state yet")
		return
	}
	x, z, alpha := state.Pose()
	ws.writeJSON(w, http.StatusOK, map[string]float64{"x": x, "z": z, "alpha": alpha})
}

func (ws *WebServer) handleSpeed(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.writeJSON(w, http.StatusOK, ws.loop.PendingCommand())
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var cmd robot.VelocityCommand
	if err := decodeBody(w, r, &cmd); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, v := range []float64{cmd.AdvX, cmd.AdvZ, cmd.Rot} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			ws.writeJSONError(w, http.StatusBadRequest, "velocity must be finite")
			return
		}
	}
	ws.loop.SetSpeedBase(cmd)
	ws.writeJSON(w, http.StatusAccepted, cmd)
}

func (ws *WebServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodPost) {
		return
	}
	ws.loop.StopBase()
	ws.writeJSON(w, http.StatusAccepted, robot.StopCommand)
}

func (ws *WebServer) handleJoystick(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodPost) {
		return
	}
	var data robot.JoystickData
	if err := decodeBody(w, r, &data); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ws.loop.Joystick(data)
	w.WriteHeader(http.StatusAccepted)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.stats == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no tick stats available")
		return
	}
	ws.writeJSON(w, http.StatusOK, ws.stats.Snapshot())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
