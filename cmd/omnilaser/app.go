package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/omnilaser/internal/config"
	"github.com/banshee-data/omnilaser/internal/control"
	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/laserrpc"
	"github.com/banshee-data/omnilaser/internal/messaging"
	"github.com/banshee-data/omnilaser/internal/monitor"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/publish"
	"github.com/banshee-data/omnilaser/internal/recorder"
	"github.com/banshee-data/omnilaser/internal/sim"
	"github.com/banshee-data/omnilaser/internal/timeutil"
)

// tickHistory is how many ticks the monitor keeps for charts.
const tickHistory = 600

// app is the wired process: simulation, loop and every outbound surface.
type app struct {
	cfg       *config.Config
	clock     timeutil.Clock
	world     *sim.World
	loop      *control.Loop
	stats     *monitoring.TickStats
	publisher *laserrpc.Publisher
	broker    *messaging.Client
	topics    messaging.Topics
	store     *recorder.Store
	web       *monitor.WebServer
}

type appOptions struct {
	clock      timeutil.Clock
	withCamera bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.clock == nil {
		opts.clock = timeutil.RealClock{}
	}
	a := &app{cfg: cfg, clock: opts.clock, stats: monitoring.NewTickStats(tickHistory)}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		return nil, fmt.Errorf("sensor registry: %w", err)
	}
	fuser, err := fusion.NewFuser(registry, fusion.Options{FallbackMM: cfg.GetFallbackMM()})
	if err != nil {
		return nil, err
	}

	a.world, err = sim.NewWorld(cfg.GetWorld())
	if err != nil {
		return nil, err
	}
	rig, err := sim.NewRig(a.world, registry, a.clock, cfg.GetMaxDepth())
	if err != nil {
		return nil, err
	}
	var camera control.Camera
	if opts.withCamera {
		cam, err := sim.NewCamera(a.world, cfg.GetCamera(), a.clock)
		if err != nil {
			return nil, err
		}
		camera = cam
	}

	a.publisher = laserrpc.NewPublisher(cfg.GetGRPC())
	fan := &publish.Fanout{Scans: []publish.ScanPublisher{a.publisher}}
	if msgCfg, ok := cfg.GetMessaging(); ok {
		a.broker = messaging.NewClient(msgCfg)
		a.topics = msgCfg.Topics
		sink := messaging.NewSink(a.broker, msgCfg.Topics)
		fan.Scans = append(fan.Scans, sink)
		fan.States = append(fan.States, sink)
		fan.RGBD = append(fan.RGBD, sink)
	}

	observers := []monitoring.Observer{a.stats}
	if path := cfg.GetDBPath(); path != "" {
		a.store, err = recorder.Open(path)
		if err != nil {
			return nil, err
		}
		info := recorder.RunInfo{Sensors: registry.Len(), Period: cfg.GetPeriod(), FallbackMM: fuser.FallbackMM()}
		if _, err := a.store.StartRun(ctx, info, a.clock.Now()); err != nil {
			a.store.Close()
			return nil, err
		}
		observers = append(observers, a.store)
	}

	a.loop, err = control.New(control.Config{
		Period:              cfg.GetPeriod(),
		AbortOnCaptureError: cfg.GetAbortOnCaptureError(),
		JoystickScale:       cfg.GetJoystickScale(),
	}, control.Deps{
		Fuser:     fuser,
		Source:    rig,
		Base:      a.world,
		Camera:    camera,
		Stepper:   a.world,
		Clock:     a.clock,
		Scans:     fan,
		States:    fan,
		RGBD:      fan,
		Observers: observers,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.publisher.Register(a.loop)

	webCfg := monitor.WebServerConfig{
		Address: cfg.GetHTTPAddress(),
		Loop:    a.loop,
		Stats:   a.stats,
	}
	if a.store != nil {
		webCfg.History = a.store
	}
	a.web = monitor.NewWebServer(webCfg)
	if a.store != nil {
		if err := a.store.AttachAdminRoutes(a.web.Mux()); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// run starts every surface and drives the loop until ctx is cancelled or
// the loop aborts.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.publisher.Start(); err != nil {
		return err
	}
	defer a.publisher.Stop()

	if a.broker != nil {
		if err := a.broker.Connect(); err != nil {
			return fmt.Errorf("messaging: %w", err)
		}
		if err := a.broker.SubscribeJoystick(ctx, a.topics.Joystick, a.loop.Joystick); err != nil {
			return fmt.Errorf("joystick subscription: %w", err)
		}
	}

	var wg sync.WaitGroup
	webErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.web.Start(ctx); err != nil {
			webErr <- err
			cancel()
		}
	}()

	// Periodic one-line summary.
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logStats(ctx, 10*time.Second)
	}()

	err := a.loop.Run(ctx)
	cancel()
	wg.Wait()

	select {
	case werr := <-webErr:
		if err == nil {
			err = werr
		}
	default:
	}
	return err
}

func (a *app) logStats(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.stats.Snapshot()
			p := a.publisher.Stats()
			monitoring.Logf("[Stats] ticks=%d failed=%d publish_failed=%d missed=%d mean=%v max=%v grpc_clients=%d grpc_dropped=%d",
				s.Ticks, s.Failures, s.PublishFailures, s.MissedDeadlines, s.MeanDuration, s.MaxDuration, p.ClientCount, p.Dropped)
		}
	}
}

func (a *app) close() {
	if a.broker != nil {
		a.broker.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			monitoring.Logf("closing recorder: %v", err)
		}
	}
}
