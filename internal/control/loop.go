package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/publish"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/timeutil"
)

// DefaultPeriod is the target inter-tick interval.
const DefaultPeriod = 80 * time.Millisecond

// FrameSource captures one matched transform+scanline per registered
// sensor. It blocks until every capture is available.
type FrameSource interface {
	CaptureFrames(ctx context.Context) ([]fusion.SensorFrame, error)
}

// FrameSourceFunc adapts a plain function to FrameSource.
type FrameSourceFunc func(ctx context.Context) ([]fusion.SensorFrame, error)

// CaptureFrames calls f.
func (f FrameSourceFunc) CaptureFrames(ctx context.Context) ([]fusion.SensorFrame, error) {
	return f(ctx)
}

// Base is the mobile base driven by velocity commands.
type Base interface {
	SetVelocity(cmd robot.VelocityCommand) error
	State() (robot.BaseState, error)
}

// Camera captures RGB-D frames.
type Camera interface {
	CaptureRGBD(ctx context.Context) (robot.RGBDFrame, error)
}

// Stepper advances an external simulation by one step.
type Stepper interface {
	Step(ctx context.Context) error
}

// Config tunes the loop.
type Config struct {
	Period time.Duration
	// AbortOnCaptureError stops Run on the first failed tick instead of
	// keeping the previous scan and carrying on.
	AbortOnCaptureError bool
	// JoystickScale maps joystick axes to base velocities.
	JoystickScale robot.JoystickScale
}

// Deps are the loop's collaborators. Only Fuser and Source are required.
type Deps struct {
	Fuser     *fusion.Fuser
	Source    FrameSource
	Base      Base
	Camera    Camera
	Stepper   Stepper
	Clock     timeutil.Clock
	Scans     publish.ScanPublisher
	States    publish.StatePublisher
	RGBD      publish.RGBDPublisher
	Observers []monitoring.Observer
}

// Loop is the control loop. Tick bodies never overlap; the accessors and
// command setters are safe to call from other goroutines.
type Loop struct {
	cfg   Config
	deps  Deps
	sched *Scheduler
	logf  func(format string, v ...interface{})

	commands robot.CommandCell
	seq      uint64

	latestScan  atomic.Pointer[fusion.Scan]
	latestState atomic.Pointer[robot.BaseState]

	observersMu sync.RWMutex
	observers   []monitoring.Observer
}

// New validates the configuration and wires the loop.
func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.Fuser == nil {
		return nil, errors.New("control loop needs a fuser")
	}
	if deps.Source == nil {
		return nil, errors.New("control loop needs a frame source")
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.JoystickScale == (robot.JoystickScale{}) {
		cfg.JoystickScale = robot.DefaultJoystickScale()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	sched, err := NewScheduler(deps.Clock, cfg.Period)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:       cfg,
		deps:      deps,
		sched:     sched,
		logf:      monitoring.Component("Loop"),
		observers: append([]monitoring.Observer(nil), deps.Observers...),
	}
	return l, nil
}

// AddObserver registers another tick observer.
func (l *Loop) AddObserver(o monitoring.Observer) {
	l.observersMu.Lock()
	defer l.observersMu.Unlock()
	l.observers = append(l.observers, o)
}

// Run ticks until ctx is cancelled. It returns nil on cancellation and the
// tick error when AbortOnCaptureError is set and a tick fails.
func (l *Loop) Run(ctx context.Context) error {
	l.sched.Start()
	l.logf("started: period=%v sensors=%d", l.cfg.Period, l.deps.Fuser.Registry().Len())

	missed := 0
	for {
		report := l.tick(ctx, missed)
		if report.Status == monitoring.TickFailed && l.cfg.AbortOnCaptureError {
			return fmt.Errorf("tick %d: %w", report.Seq, report.Err)
		}

		var err error
		missed, err = l.sched.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				l.logf("stopped after %d ticks", l.seq)
				return nil
			}
			return err
		}
		if missed > 0 {
			l.logf("tick %d overran: skipped %d deadline(s)", l.seq, missed)
		}
	}
}

// Tick runs one loop body without pacing.
func (l *Loop) Tick(ctx context.Context) monitoring.TickReport {
	return l.tick(ctx, 0)
}

func (l *Loop) tick(ctx context.Context, missed int) monitoring.TickReport {
	l.seq++
	start := l.deps.Clock.Now()
	report := monitoring.TickReport{
		Seq:    l.seq,
		Start:  start,
		Missed: missed,
		Status: monitoring.TickOK,
		Laser:  publish.Skipped("laser"),
		State:  publish.Skipped("base"),
		RGBD:   publish.Skipped("rgbd"),
	}

	l.applyCommand()

	if l.deps.Stepper != nil {
		if err := l.deps.Stepper.Step(ctx); err != nil {
			l.logf("simulation step failed: %v", err)
		}
	}

	scan, err := l.fuse(ctx, start)
	if err != nil {
		report.Status = monitoring.TickFailed
		report.Err = err
		l.logf("tick %d failed, keeping scan %d: %v", l.seq, l.lastSeq(), err)
	} else {
		l.latestScan.Store(scan)
		report.Distances = scan.Distances()
		if l.deps.Scans != nil {
			report.Laser = l.deps.Scans.PublishScan(ctx, scan)
			l.logPublish(report.Laser)
		}
	}

	if l.deps.Camera != nil {
		frame, err := l.deps.Camera.CaptureRGBD(ctx)
		switch {
		case err != nil:
			l.logf("camera capture failed: %v", err)
		case l.deps.RGBD != nil:
			report.RGBD = l.deps.RGBD.PublishRGBD(ctx, frame)
			l.logPublish(report.RGBD)
		}
	}

	if l.deps.Base != nil {
		state, err := l.deps.Base.State()
		if err != nil {
			l.logf("base state unavailable: %v", err)
		} else {
			l.latestState.Store(&state)
			if l.deps.States != nil {
				report.State = l.deps.States.PublishState(ctx, state)
				l.logPublish(report.State)
			}
		}
	}

	report.Duration = l.deps.Clock.Since(start)
	l.notify(report)
	return report
}

func (l *Loop) fuse(ctx context.Context, at time.Time) (*fusion.Scan, error) {
	frames, err := l.deps.Source.CaptureFrames(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	scan, err := l.deps.Fuser.Fuse(l.seq, at, frames)
	if err != nil {
		return nil, fmt.Errorf("fuse: %w", err)
	}
	return scan, nil
}

func (l *Loop) applyCommand() {
	cmd, changed := l.commands.Take()
	if !changed || l.deps.Base == nil {
		return
	}
	if err := l.deps.Base.SetVelocity(cmd); err != nil {
		l.logf("velocity command %+v rejected: %v", cmd, err)
		return
	}
	l.logf("velocities sent to base: advx=%.1f advz=%.1f rot=%.3f", cmd.AdvX, cmd.AdvZ, cmd.Rot)
}

func (l *Loop) logPublish(r publish.Result) {
	if r.Status == publish.StatusTransportFailure {
		l.logf("publish %s failed: %s", r.Sink, r.Reason)
	}
}

func (l *Loop) notify(r monitoring.TickReport) {
	l.observersMu.RLock()
	defer l.observersMu.RUnlock()
	for _, o := range l.observers {
		o.ObserveTick(r)
	}
}

func (l *Loop) lastSeq() uint64 {
	if s := l.latestScan.Load(); s != nil {
		return s.Seq()
	}
	return 0
}

// LatestScan returns the most recent scan, or nil before the first
// successful tick. A scan whose delivery failed is still returned.
func (l *Loop) LatestScan() *fusion.Scan {
	return l.latestScan.Load()
}

// LatestState returns the most recent base state.
func (l *Loop) LatestState() (robot.BaseState, bool) {
	s := l.latestState.Load()
	if s == nil {
		return robot.BaseState{}, false
	}
	return *s, true
}

// ScanInfo describes the scans produced by the loop.
func (l *Loop) ScanInfo() fusion.ScanInfo {
	return l.deps.Fuser.Info()
}

// SetSpeedBase queues a velocity command for the next tick.
func (l *Loop) SetSpeedBase(cmd robot.VelocityCommand) {
	l.commands.Write(cmd)
}

// StopBase queues a zero velocity for the next tick.
func (l *Loop) StopBase() {
	l.commands.Write(robot.StopCommand)
}

// Joystick maps a joystick sample to a velocity command and queues it.
func (l *Loop) Joystick(data robot.JoystickData) {
	l.commands.Write(robot.JoystickCommand(data, l.cfg.JoystickScale))
}

// PendingCommand returns the last queued velocity command.
func (l *Loop) PendingCommand() robot.VelocityCommand {
	return l.commands.Peek()
}
