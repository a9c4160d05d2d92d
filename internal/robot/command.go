package robot

import (
	"math"
	"sync"
)

// CommandCell hands the latest velocity command from an inbound interface
// to the control loop. Writers overwrite; the loop takes the value once per
// tick together with a flag saying whether it changed since the last take.
type CommandCell struct {
	mu      sync.Mutex
	cmd     VelocityCommand
	applied VelocityCommand
	pending bool
}

// Write stores cmd as the pending command.
func (c *CommandCell) Write(cmd VelocityCommand) {
	c.mu.Lock()
	c.cmd = cmd
	c.pending = true
	c.mu.Unlock()
}

// Take returns the latest command and whether it differs from the one
// returned by the previous changed Take. Writing the same value twice does
// not count as a change.
func (c *CommandCell) Take() (VelocityCommand, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return c.cmd, false
	}
	c.pending = false
	if c.cmd == c.applied {
		return c.cmd, false
	}
	c.applied = c.cmd
	return c.cmd, true
}

// Peek returns the latest command without consuming it.
func (c *CommandCell) Peek() VelocityCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd
}

// Joystick axis names understood by JoystickCommand.
const (
	AxisAdvance = "advance"
	AxisRotate  = "rotate"
	AxisSide    = "side"
)

// AxisParams is one named joystick axis reading in [-1, 1].
type AxisParams struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// JoystickData is one joystick adapter sample.
type JoystickData struct {
	Axes []AxisParams `json:"axes"`
}

// Dead zones below which an axis reads as zero.
const (
	advanceDeadZone = 0.4
	sideDeadZone    = 0.4
	rotateDeadZone  = 0.1
)

// JoystickScale converts normalised axis values to base velocities.
type JoystickScale struct {
	MaxAdvanceMMs float64
	MaxSideMMs    float64
	MaxRotRads    float64
}

// DefaultJoystickScale matches a small omni base.
func DefaultJoystickScale() JoystickScale {
	return JoystickScale{MaxAdvanceMMs: 500, MaxSideMMs: 500, MaxRotRads: 1.0}
}

// JoystickCommand maps named axes to a velocity command, zeroing readings
// inside each axis's dead zone. Unknown axes are ignored.
func JoystickCommand(data JoystickData, scale JoystickScale) VelocityCommand {
	var adv, rot, side float64
	for _, a := range data.Axes {
		switch a.Name {
		case AxisAdvance:
			adv = deadZone(a.Value, advanceDeadZone)
		case AxisRotate:
			rot = deadZone(a.Value, rotateDeadZone)
		case AxisSide:
			side = deadZone(a.Value, sideDeadZone)
		}
	}
	return VelocityCommand{
		AdvX: side * scale.MaxSideMMs,
		AdvZ: adv * scale.MaxAdvanceMMs,
		Rot:  rot * scale.MaxRotRads,
	}
}

func deadZone(v, zone float64) float64 {
	if math.Abs(v) > zone {
		return v
	}
	return 0
}
