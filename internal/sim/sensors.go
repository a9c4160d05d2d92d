package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/timeutil"
)

// DefaultMaxDepth is the far clipping plane of simulated sensors, metres.
const DefaultMaxDepth = 10.0

// scanline ray-casts one horizontal row for a sensor with the given
// geometry. Pixel i looks along the sensor-frame direction
// (-(i - res/2)/focal, 0, 1); the returned depth is the z component of the
// hit, clipped to maxDepth.
func (w *World) scanline(cfg fusion.SensorConfig, mount fusion.Transform, pose robot.Pose2D, maxDepth float64) []float64 {
	forward, right := axes(pose.Heading)
	toWorld := func(rx, ry float64) Vec2 {
		return right.scale(rx).add(forward.scale(ry))
	}

	ox, oy, _ := mount.Apply(0, 0, 0)
	origin := Vec2{pose.X, pose.Y}.add(toWorld(ox, oy))

	semiwidth := float64(cfg.Resolution) / 2
	depths := make([]float64, cfg.Resolution)
	for i := range depths {
		// Rotate only: subtract the translation picked up by Apply.
		dx, dy, _ := mount.Apply(-(float64(i)-semiwidth)/cfg.Focal, 0, 1)
		dir := toWorld(dx-ox, dy-oy)
		z := w.castRay(origin, dir)
		if z > maxDepth {
			z = maxDepth
		}
		depths[i] = z
	}
	return depths
}

// Rig is the set of base range sensors. It implements the control loop's
// FrameSource.
type Rig struct {
	world    *World
	registry *fusion.Registry
	clock    timeutil.Clock
	maxDepth float64

	mu      sync.Mutex
	failing map[fusion.SensorID]error
}

// NewRig binds every registered sensor to world.
func NewRig(world *World, registry *fusion.Registry, clock timeutil.Clock, maxDepth float64) (*Rig, error) {
	if world == nil || registry == nil {
		return nil, errors.New("sim: rig needs a world and a registry")
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Rig{world: world, registry: registry, clock: clock, maxDepth: maxDepth}, nil
}

// CaptureFrames reads every sensor's mount and scanline together at the
// current pose.
func (r *Rig) CaptureFrames(ctx context.Context) ([]fusion.SensorFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pose := r.world.Pose()
	now := r.clock.Now()

	sensors := r.registry.Sensors()
	frames := make([]fusion.SensorFrame, 0, len(sensors))
	for _, cfg := range sensors {
		if err := r.failure(cfg.ID); err != nil {
			return nil, fmt.Errorf("sensor %d (%s): %w", cfg.ID, cfg.Name, err)
		}
		frames = append(frames, fusion.SensorFrame{
			SensorID:   cfg.ID,
			Mount:      cfg.Mount,
			Depths:     r.world.scanline(cfg, cfg.Mount, pose, r.maxDepth),
			CapturedAt: now,
		})
	}
	return frames, nil
}

// FailSensor makes every capture of id fail with err until cleared with a
// nil err. It is safe to call while the loop is capturing.
func (r *Rig) FailSensor(id fusion.SensorID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failing, id)
		return
	}
	if r.failing == nil {
		r.failing = make(map[fusion.SensorID]error)
	}
	r.failing[id] = err
}

func (r *Rig) failure(id fusion.SensorID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failing[id]
}

// CameraConfig describes the simulated RGB-D head camera.
type CameraConfig struct {
	ID        int     `json:"id" yaml:"id"`
	Width     int     `json:"width" yaml:"width"`
	Height    int     `json:"height" yaml:"height"`
	HalfAngle float64 `json:"half_angle" yaml:"half_angle"`

	// Forward is the camera's offset along the robot's forward axis and
	// MountHeight its height above the floor, metres.
	Forward     float64 `json:"forward" yaml:"forward"`
	MountHeight float64 `json:"mount_height" yaml:"mount_height"`
}

// DefaultCameraConfig is a 160x120 head camera with a 60° field of view.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{ID: 0, Width: 160, Height: 120, HalfAngle: math.Pi / 6, Forward: 0.1, MountHeight: 1.2}
}

// Camera is the simulated RGB-D head camera.
type Camera struct {
	world  *World
	cfg    CameraConfig
	sensor fusion.SensorConfig
	clock  timeutil.Clock
}

// NewCamera validates the camera geometry.
func NewCamera(world *World, cfg CameraConfig, clock timeutil.Clock) (*Camera, error) {
	if cfg.Height <= 0 {
		return nil, fmt.Errorf("sim: camera height must be positive, got %d", cfg.Height)
	}
	sensor, err := fusion.NewSensorConfig(fusion.SensorID(cfg.ID), "camera", cfg.Width, cfg.HalfAngle,
		fusion.YawMount(0, 0, cfg.Forward, cfg.MountHeight))
	if err != nil {
		return nil, fmt.Errorf("sim: camera: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Camera{world: world, cfg: cfg, sensor: sensor, clock: clock}, nil
}

// CaptureRGBD implements the control loop's Camera. Every image row sees
// the same horizontal slice; RGB is a grey ramp that brightens with
// proximity.
func (c *Camera) CaptureRGBD(ctx context.Context) (robot.RGBDFrame, error) {
	if err := ctx.Err(); err != nil {
		return robot.RGBDFrame{}, err
	}
	row := c.world.scanline(c.sensor, c.sensor.Mount, c.world.Pose(), DefaultMaxDepth)

	w, h := c.cfg.Width, c.cfg.Height
	rgb := make([]byte, 0, w*h*3)
	depth := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		for _, d := range row {
			grey := byte(255 * (1 - math.Min(d, DefaultMaxDepth)/DefaultMaxDepth))
			rgb = append(rgb, grey, grey, grey)
			depth = binary.LittleEndian.AppendUint32(depth, math.Float32bits(float32(d)))
		}
	}
	return robot.RGBDFrame{
		CameraID:  c.cfg.ID,
		Width:     w,
		Height:    h,
		FocalX:    c.sensor.Focal,
		FocalY:    c.sensor.Focal,
		RGB:       rgb,
		Depth:     depth,
		Timestamp: c.clock.Now(),
	}, nil
}

// decodeDepth unpacks an RGBDFrame depth buffer into metres.
func decodeDepth(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// DefaultSensors is the four-camera rig: one sensor per base corner, each
// looking diagonally outwards with a 120° field of view.
func DefaultSensors() []fusion.SensorConfig {
	const (
		res       = 240
		halfAngle = math.Pi / 3
		dx, dy    = 0.19, 0.29
		height    = 0.1
	)
	corners := []struct {
		name   string
		yaw    float64
		tx, ty float64
	}{
		{"front-left", -math.Pi / 4, -dx, dy},
		{"front-right", math.Pi / 4, dx, dy},
		{"back-right", 3 * math.Pi / 4, dx, -dy},
		{"back-left", -3 * math.Pi / 4, -dx, -dy},
	}
	out := make([]fusion.SensorConfig, 0, len(corners))
	for i, c := range corners {
		cfg, err := fusion.NewSensorConfig(fusion.SensorID(i), c.name, res, halfAngle,
			fusion.YawMount(c.yaw, c.tx, c.ty, height))
		if err != nil {
			panic(err) // constant geometry
		}
		out = append(out, cfg)
	}
	return out
}
