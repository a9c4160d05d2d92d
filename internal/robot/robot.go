// Package robot holds the types exchanged with the mobile base and its
// camera: velocity commands, base state telemetry, RGB-D frames, and the
// handoff cell that carries commands from inbound interfaces to the loop.
package robot

import (
	"math"
	"time"
)

// movingThreshold is the speed (m/s or rad/s) above which the base is
// reported as moving.
const movingThreshold = 0.01

// VelocityCommand is a requested base velocity. AdvX is the lateral and
// AdvZ the forward component in mm/s; Rot is rad/s.
type VelocityCommand struct {
	AdvX float64 `json:"adv_x"`
	AdvZ float64 `json:"adv_z"`
	Rot  float64 `json:"rot"`
}

// StopCommand is the zero velocity.
var StopCommand = VelocityCommand{}

// IsZero reports whether the command asks the base to stand still.
func (c VelocityCommand) IsZero() bool { return c == StopCommand }

// Pose2D is the base pose from the simulator in metres and radians, with
// the simulator's own x/y axes.
type Pose2D struct {
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`
	Heading float64 `json:"heading" yaml:"heading"`
}

// Twist is the simulator's base velocity: linear m/s in the world x/y
// plane and angular rad/s about the vertical axis.
type Twist struct {
	VX    float64
	VY    float64
	Omega float64
}

// BaseState is the pose/velocity telemetry pushed every tick. Positions
// are millimetres, velocities mm/s and rad/s.
type BaseState struct {
	X        float64   `json:"x"`
	Z        float64   `json:"z"`
	Alpha    float64   `json:"alpha"`
	AdvVx    float64   `json:"adv_vx"`
	AdvVz    float64   `json:"adv_vz"`
	RotV     float64   `json:"rot_v"`
	IsMoving bool      `json:"is_moving"`
	At       time.Time `json:"at"`
}

// BaseStateFrom maps a simulator pose and velocity onto the base state
// convention: x = -y, z = x (both in mm), alpha = -heading - π/2.
func BaseStateFrom(pose Pose2D, vel Twist, at time.Time) BaseState {
	return BaseState{
		X:     -pose.Y * 1000,
		Z:     pose.X * 1000,
		Alpha: -pose.Heading - math.Pi/2,
		AdvVx: -vel.VY * 1000,
		AdvVz: vel.VX * 1000,
		RotV:  vel.Omega,
		IsMoving: math.Abs(vel.VX) > movingThreshold ||
			math.Abs(vel.VY) > movingThreshold ||
			math.Abs(vel.Omega) > movingThreshold,
		At: at,
	}
}

// Pose returns the (x, z, alpha) triple.
func (s BaseState) Pose() (x, z, alpha float64) {
	return s.X, s.Z, s.Alpha
}

// RGBDFrame is one camera capture. Depth holds little-endian float32
// metres, row-major.
type RGBDFrame struct {
	CameraID  int       `json:"camera_id"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FocalX    float64   `json:"focal_x"`
	FocalY    float64   `json:"focal_y"`
	RGB       []byte    `json:"rgb"`
	Depth     []byte    `json:"depth"`
	Timestamp time.Time `json:"timestamp"`
}
