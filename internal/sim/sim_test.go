package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/timeutil"
)

func newTestRig(t *testing.T) (*World, *Rig, *fusion.Fuser) {
	t.Helper()
	world, err := NewWorld(DefaultWorldConfig())
	require.NoError(t, err)
	registry, err := fusion.NewRegistry(DefaultSensors()...)
	require.NoError(t, err)
	rig, err := NewRig(world, registry, timeutil.NewMockClock(time.Unix(100, 0)), 0)
	require.NoError(t, err)
	fuser, err := fusion.NewFuser(registry, fusion.Options{})
	require.NoError(t, err)
	return world, rig, fuser
}

func TestNewWorld_Rejects(t *testing.T) {
	cfg := DefaultWorldConfig()
	cfg.Room = Box{}
	_, err := NewWorld(cfg)
	assert.Error(t, err)

	cfg = DefaultWorldConfig()
	cfg.StepDt = 0
	_, err = NewWorld(cfg)
	assert.Error(t, err)

	cfg = DefaultWorldConfig()
	cfg.Start = robot.Pose2D{X: 2, Y: 1.5}
	_, err = NewWorld(cfg)
	assert.Error(t, err, "start inside a box")
}

func TestCastRay(t *testing.T) {
	world, err := NewWorld(DefaultWorldConfig())
	require.NoError(t, err)

	assert.InDelta(t, 4.0, world.castRay(Vec2{}, Vec2{0, 1}), 1e-9)
	assert.InDelta(t, 5.0, world.castRay(Vec2{}, Vec2{1, 0}), 1e-9)
	// Half-length direction doubles the multiple.
	assert.InDelta(t, 10.0, world.castRay(Vec2{}, Vec2{-0.5, 0}), 1e-9)
	// Box face at x=1.5 along y=1.5.
	assert.InDelta(t, 1.5, world.castRay(Vec2{0, 1.5}, Vec2{1, 0}), 1e-9)
}

func TestWorldStep_MovesAndBlocks(t *testing.T) {
	world, err := NewWorld(DefaultWorldConfig())
	require.NoError(t, err)
	ctx := context.Background()

	// Heading π/2: forward is world +y.
	require.NoError(t, world.SetVelocity(robot.VelocityCommand{AdvZ: 1000}))
	require.NoError(t, world.Step(ctx))
	p := world.Pose()
	assert.InDelta(t, 0.0, p.X, 1e-9)
	assert.InDelta(t, 0.08, p.Y, 1e-9)

	state, err := world.State()
	require.NoError(t, err)
	assert.True(t, state.IsMoving)

	world.SetPose(robot.Pose2D{X: 0, Y: 3.6, Heading: math.Pi / 2})
	require.NoError(t, world.Step(ctx))
	assert.InDelta(t, 3.6, world.Pose().Y, 1e-9, "wall blocks the move")
	state, err = world.State()
	require.NoError(t, err)
	assert.False(t, state.IsMoving)
	assert.Equal(t, uint64(2), world.Steps())

	assert.Error(t, world.SetVelocity(robot.VelocityCommand{Rot: math.NaN()}))
}

func TestRig_FusedScanMatchesRoom(t *testing.T) {
	_, rig, fuser := newTestRig(t)

	frames, err := rig.CaptureFrames(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 4)
	for _, f := range frames {
		assert.Len(t, f.Depths, 240)
		assert.False(t, f.Mount.IsZero())
	}

	scan, err := fuser.Fuse(1, time.Unix(100, 0), frames)
	require.NoError(t, err)
	require.Equal(t, fusion.BinCount, scan.Len())

	grid := fuser.Grid()
	cases := []struct {
		name  string
		angle float64
		want  float64
	}{
		{"ahead", 0.01, 4000},
		{"right", math.Pi / 2, 5000},
		{"left", -math.Pi / 2, 5000},
		{"box", 0.9, 1916},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := scan.At(grid.Index(tc.angle)).DistanceMM
			assert.InDelta(t, tc.want, float64(got), 120)
		})
	}
}

func TestRig_FailSensor(t *testing.T) {
	_, rig, _ := newTestRig(t)
	boom := errors.New("usb reset")

	rig.FailSensor(2, boom)
	_, err := rig.CaptureFrames(context.Background())
	assert.ErrorIs(t, err, boom)

	rig.FailSensor(2, nil)
	_, err = rig.CaptureFrames(context.Background())
	assert.NoError(t, err)
}

func TestRig_FailSensorWhileCapturing(t *testing.T) {
	_, rig, _ := newTestRig(t)
	boom := errors.New("usb reset")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = rig.CaptureFrames(context.Background())
		}
	}()
	for i := 0; i < 50; i++ {
		rig.FailSensor(1, boom)
		rig.FailSensor(1, nil)
	}
	wg.Wait()

	_, err := rig.CaptureFrames(context.Background())
	assert.NoError(t, err)
}

func TestRig_ClipsAtMaxDepth(t *testing.T) {
	world, err := NewWorld(DefaultWorldConfig())
	require.NoError(t, err)
	registry, err := fusion.NewRegistry(DefaultSensors()...)
	require.NoError(t, err)
	rig, err := NewRig(world, registry, nil, 1.0)
	require.NoError(t, err)

	frames, err := rig.CaptureFrames(context.Background())
	require.NoError(t, err)
	for _, f := range frames {
		for _, d := range f.Depths {
			assert.LessOrEqual(t, d, 1.0)
		}
	}
}

func TestCamera_CaptureRGBD(t *testing.T) {
	world, err := NewWorld(DefaultWorldConfig())
	require.NoError(t, err)
	cam, err := NewCamera(world, DefaultCameraConfig(), timeutil.NewMockClock(time.Unix(5, 0)))
	require.NoError(t, err)

	frame, err := cam.CaptureRGBD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 160*120*3, len(frame.RGB))
	require.Equal(t, 160*120*4, len(frame.Depth))
	assert.Equal(t, time.Unix(5, 0), frame.Timestamp)

	depth := decodeDepth(frame.Depth)
	// Centre pixel looks straight at the front wall from 0.1 m ahead.
	assert.InDelta(t, 3.9, depth[80], 0.01)

	_, err = NewCamera(world, CameraConfig{Width: 10}, nil)
	assert.Error(t, err)
}
