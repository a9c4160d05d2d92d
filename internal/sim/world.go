package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/omnilaser/internal/robot"
)

// Vec2 is a planar world coordinate in metres.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (a Vec2) add(b Vec2) Vec2      { return Vec2{a.X + b.X, a.Y + b.Y} }
func (a Vec2) sub(b Vec2) Vec2      { return Vec2{a.X - b.X, a.Y - b.Y} }
func (a Vec2) scale(k float64) Vec2 { return Vec2{a.X * k, a.Y * k} }
func (a Vec2) cross(b Vec2) float64 { return a.X*b.Y - a.Y*b.X }

// Box is an axis-aligned obstacle.
type Box struct {
	Min Vec2 `json:"min" yaml:"min"`
	Max Vec2 `json:"max" yaml:"max"`
}

func (b Box) contains(p Vec2, margin float64) bool {
	return p.X > b.Min.X-margin && p.X < b.Max.X+margin &&
		p.Y > b.Min.Y-margin && p.Y < b.Max.Y+margin
}

func (b Box) segments() [4]segment {
	a := b.Min
	c := b.Max
	return [4]segment{
		{Vec2{a.X, a.Y}, Vec2{c.X, a.Y}},
		{Vec2{c.X, a.Y}, Vec2{c.X, c.Y}},
		{Vec2{c.X, c.Y}, Vec2{a.X, c.Y}},
		{Vec2{a.X, c.Y}, Vec2{a.X, a.Y}},
	}
}

type segment struct {
	a, b Vec2
}

// WorldConfig describes the simulated scene.
type WorldConfig struct {
	// Room is the walled area; the base starts inside it.
	Room  Box   `json:"room" yaml:"room"`
	Boxes []Box `json:"boxes" yaml:"boxes"`
	// Start is the initial base pose.
	Start robot.Pose2D `json:"start" yaml:"start"`
	// BaseRadius keeps the base this far from walls and boxes.
	BaseRadius float64 `json:"base_radius" yaml:"base_radius"`
	// StepDt is the simulated time advanced by each Step.
	StepDt time.Duration `json:"step_dt" yaml:"step_dt"`
}

// DefaultWorldConfig is a 10 m x 8 m room with two boxes.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Room: Box{Min: Vec2{-5, -4}, Max: Vec2{5, 4}},
		Boxes: []Box{
			{Min: Vec2{1.5, 1.0}, Max: Vec2{2.5, 2.0}},
			{Min: Vec2{-3.0, -2.5}, Max: Vec2{-2.2, -1.2}},
		},
		Start:      robot.Pose2D{X: 0, Y: 0, Heading: math.Pi / 2},
		BaseRadius: 0.35,
		StepDt:     80 * time.Millisecond,
	}
}

// World holds the scene and the base. It is safe for concurrent use.
type World struct {
	mu       sync.RWMutex
	cfg      WorldConfig
	segments []segment
	pose     robot.Pose2D
	cmd      robot.VelocityCommand
	vel      robot.Twist
	simTime  time.Duration
	steps    uint64
}

// NewWorld validates cfg and places the base at the start pose.
func NewWorld(cfg WorldConfig) (*World, error) {
	if cfg.Room.Max.X <= cfg.Room.Min.X || cfg.Room.Max.Y <= cfg.Room.Min.Y {
		return nil, errors.New("sim: room must have positive extent")
	}
	if cfg.StepDt <= 0 {
		return nil, fmt.Errorf("sim: step dt must be positive, got %v", cfg.StepDt)
	}
	w := &World{cfg: cfg, pose: cfg.Start}
	start := Vec2{cfg.Start.X, cfg.Start.Y}
	if w.blocked(start) {
		return nil, fmt.Errorf("sim: start pose (%.2f, %.2f) is blocked", start.X, start.Y)
	}
	for _, s := range cfg.Room.segments() {
		w.segments = append(w.segments, s)
	}
	for _, b := range cfg.Boxes {
		for _, s := range b.segments() {
			w.segments = append(w.segments, s)
		}
	}
	return w, nil
}

func (w *World) blocked(p Vec2) bool {
	if !w.cfg.Room.contains(p, -w.cfg.BaseRadius) {
		return true
	}
	for _, b := range w.cfg.Boxes {
		if b.contains(p, w.cfg.BaseRadius) {
			return true
		}
	}
	return false
}

// forward and right are the robot's +y and +x axes in world coordinates.
func axes(heading float64) (forward, right Vec2) {
	s, c := math.Sincos(heading)
	return Vec2{c, s}, Vec2{s, -c}
}

// Step advances the simulation by StepDt, moving the base with the current
// command. A move that would hit a wall or box is refused and the base
// reports zero linear velocity for that step.
func (w *World) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	dt := w.cfg.StepDt.Seconds()
	forward, right := axes(w.pose.Heading)
	v := forward.scale(w.cmd.AdvZ / 1000).add(right.scale(w.cmd.AdvX / 1000))

	next := Vec2{w.pose.X, w.pose.Y}.add(v.scale(dt))
	if w.blocked(next) {
		v = Vec2{}
		next = Vec2{w.pose.X, w.pose.Y}
	}
	w.pose.X, w.pose.Y = next.X, next.Y
	w.pose.Heading = normalizeAngle(w.pose.Heading + w.cmd.Rot*dt)
	w.vel = robot.Twist{VX: v.X, VY: v.Y, Omega: w.cmd.Rot}
	w.simTime += w.cfg.StepDt
	w.steps++
	return nil
}

// SetVelocity implements the control loop's Base.
func (w *World) SetVelocity(cmd robot.VelocityCommand) error {
	for _, v := range []float64{cmd.AdvX, cmd.AdvZ, cmd.Rot} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sim: non-finite velocity %+v", cmd)
		}
	}
	w.mu.Lock()
	w.cmd = cmd
	w.mu.Unlock()
	return nil
}

// State implements the control loop's Base.
func (w *World) State() (robot.BaseState, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return robot.BaseStateFrom(w.pose, w.vel, time.Unix(0, 0).Add(w.simTime)), nil
}

// Pose returns the current base pose.
func (w *World) Pose() robot.Pose2D {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pose
}

// SetPose teleports the base. It is meant for tests and scenario setup.
func (w *World) SetPose(p robot.Pose2D) {
	w.mu.Lock()
	w.pose = p
	w.mu.Unlock()
}

// Steps returns the number of completed steps.
func (w *World) Steps() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.steps
}

// castRay returns the distance along dir (not normalised) to the first
// segment hit, as a multiple of dir, or +Inf when nothing is hit.
func (w *World) castRay(origin, dir Vec2) float64 {
	best := math.Inf(1)
	for _, s := range w.segments {
		edge := s.b.sub(s.a)
		denom := dir.cross(edge)
		if math.Abs(denom) < 1e-12 {
			continue
		}
		diff := s.a.sub(origin)
		t := diff.cross(edge) / denom
		u := diff.cross(dir) / denom
		if t > 0 && u >= 0 && u <= 1 && t < best {
			best = t
		}
	}
	return best
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
