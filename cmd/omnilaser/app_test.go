package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/omnilaser/internal/config"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestAppTicksAndRecords(t *testing.T) {
	cfg := config.Empty()
	db := filepath.Join(t.TempDir(), "runs.db")
	cfg.DBPath = &db

	ctx := context.Background()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	a, err := newApp(ctx, cfg, appOptions{clock: clock, withCamera: true})
	require.NoError(t, err)
	t.Cleanup(a.close)

	for i := 0; i < 3; i++ {
		report := a.loop.Tick(ctx)
		require.Equal(t, monitoring.TickOK, report.Status, "tick %d: %v", i, report.Err)
	}
	assert.Equal(t, uint64(3), a.stats.Snapshot().Ticks)

	ticks, err := a.store.RecentTicks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ticks, 3)

	rec := httptest.NewRecorder()
	a.web.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/laser", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.web.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/ticks?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var recorded []struct {
		Seq uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recorded))
	require.Len(t, recorded, 2)
	assert.Equal(t, uint64(3), recorded[0].Seq)

	rec = httptest.NewRecorder()
	a.web.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/", nil))
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestAppAppliesSpeedOnNextTick(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, config.Empty(), appOptions{clock: timeutil.NewMockClock(time.Unix(0, 0))})
	require.NoError(t, err)
	t.Cleanup(a.close)

	start := a.world.Pose()
	a.loop.SetSpeedBase(robot.VelocityCommand{AdvZ: 500})
	a.loop.Tick(ctx)
	a.loop.Tick(ctx)

	moved := a.world.Pose()
	assert.Greater(t, moved.Y, start.Y, "default start faces +y so advancing increases y")
	state, ok := a.loop.LatestState()
	require.True(t, ok)
	assert.True(t, state.IsMoving)

	rec := httptest.NewRecorder()
	a.web.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no recorder without a db path")
}

func TestLoadConfigFlags(t *testing.T) {
	*listen, *dbFile, *grpcListen = ":9999", "x.db", ":7000"
	t.Cleanup(func() { *listen, *dbFile, *grpcListen = "", "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.GetHTTPAddress())
	assert.Equal(t, "x.db", cfg.GetDBPath())
	assert.Equal(t, ":7000", cfg.GetGRPC().ListenAddr)
}
