package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/laserrpc"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/robot"
)

func init() {
	monitoring.SetLogger(nil)
}

type backend struct {
	mu    sync.Mutex
	scan  *fusion.Scan
	cmds  []robot.VelocityCommand
	stops int
}

func (b *backend) LatestScan() *fusion.Scan { return b.scan }

func (b *backend) LatestState() (robot.BaseState, bool) {
	return robot.BaseState{X: 12, Z: 34, Alpha: 0.5, IsMoving: true}, true
}

func (b *backend) ScanInfo() fusion.ScanInfo {
	return fusion.ScanInfo{Sensors: 4, Bins: fusion.BinCount, FallbackMM: 200}
}

func (b *backend) SetSpeedBase(cmd robot.VelocityCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = append(b.cmds, cmd)
}

func (b *backend) StopBase() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
}

func startServer(t *testing.T) (string, *backend) {
	t.Helper()
	grid := fusion.NewGrid()
	bins := make([]fusion.ScanBin, grid.Len())
	for i := range bins {
		bins[i] = fusion.ScanBin{Angle: grid.Angle(i), DistanceMM: 3000}
	}
	bins[90].DistanceMM = 450
	scan, err := fusion.NewScan(5, time.Unix(10, 0), bins)
	require.NoError(t, err)

	b := &backend{scan: scan}
	p := laserrpc.NewPublisher(laserrpc.DefaultConfig())
	p.Register(b)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)
	return lis.Addr().String(), b
}

func TestCommands(t *testing.T) {
	addr, b := startServer(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, addr, "scan", nil, &out))
	assert.Contains(t, out.String(), "seq=5")
	assert.Contains(t, out.String(), "nearest=450mm")

	out.Reset()
	require.NoError(t, run(ctx, addr, "conf", nil, &out))
	assert.Contains(t, out.String(), "sensors=4 bins=360")

	out.Reset()
	require.NoError(t, run(ctx, addr, "state", nil, &out))
	assert.Contains(t, out.String(), "moving=true")

	out.Reset()
	require.NoError(t, run(ctx, addr, "pose", nil, &out))
	assert.Contains(t, out.String(), "x=12.0 z=34.0")

	require.NoError(t, run(ctx, addr, "speed", []string{"-adv-z", "250", "-rot", "0.1"}, &out))
	require.NoError(t, run(ctx, addr, "stop", nil, &out))
	b.mu.Lock()
	assert.Equal(t, []robot.VelocityCommand{{AdvZ: 250, Rot: 0.1}}, b.cmds)
	assert.Equal(t, 1, b.stops)
	b.mu.Unlock()

	png := filepath.Join(t.TempDir(), "scan.png")
	out.Reset()
	require.NoError(t, run(ctx, addr, "png", []string{"-out", png}, &out))
	assert.FileExists(t, png)
}

func TestUnknownCommand(t *testing.T) {
	addr, _ := startServer(t)
	err := run(context.Background(), addr, "dance", nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestVersionNeedsNoServer(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), "unused:1", "version", nil, &out))
	assert.Contains(t, out.String(), "laser-client")
}
