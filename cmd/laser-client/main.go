// Command laser-client talks to a running omnilaser over gRPC: it streams
// or snapshots the fused scan, reads base telemetry and sends velocities.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/laserrpc"
	"github.com/banshee-data/omnilaser/internal/monitor"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/version"
)

var (
	target  = flag.String("target", "localhost:50061", "omnilaser gRPC address")
	timeout = flag.Duration("timeout", 5*time.Second, "Timeout for unary calls")
)

// errStop ends a stream after the requested number of scans.
var errStop = errors.New("stop")

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *target, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`laser-client - omnilaser gRPC client

Usage: laser-client [--target host:port] <command> [options]

Commands:
  scan       Print the latest fused scan
  stream     Stream scans (--count, --every)
  conf       Print the scan layout
  state      Print the base state
  pose       Print the base pose
  speed      Send a velocity (--adv-x, --adv-z, --rot)
  stop       Stop the base
  png        Save the latest scan as a PNG (--out)
  version    Show version`)
}

func run(ctx context.Context, target, command string, args []string, out io.Writer) error {
	if command == "version" {
		fmt.Fprintln(out, version.String("laser-client"))
		return nil
	}
	if command == "help" {
		printUsage()
		return nil
	}

	client, err := laserrpc.Dial(target)
	if err != nil {
		return err
	}
	defer client.Close()

	switch command {
	case "scan":
		return handleScan(ctx, client, out)
	case "stream":
		return handleStream(ctx, client, args, out)
	case "conf":
		return handleConf(ctx, client, out)
	case "state":
		return handleState(ctx, client, out)
	case "pose":
		return handlePose(ctx, client, out)
	case "speed":
		return handleSpeed(ctx, client, args, out)
	case "stop":
		return handleStop(ctx, client, out)
	case "png":
		return handlePNG(ctx, client, args, out)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func unary(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, *timeout)
}

// summarize prints one line per scan: the nearest return and the distance
// straight ahead.
func summarize(out io.Writer, scan *fusion.Scan) {
	near := scan.Nearest()
	ahead := scan.At(fusion.NewGrid().Index(0))
	fmt.Fprintf(out, "seq=%d t=%s nearest=%dmm@%.1f° ahead=%dmm\n",
		scan.Seq(), scan.Timestamp().Format(time.RFC3339Nano),
		near.DistanceMM, near.Angle*180/math.Pi, ahead.DistanceMM)
}

func handleScan(ctx context.Context, client *laserrpc.Client, out io.Writer) error {
	ctx, cancel := unary(ctx)
	defer cancel()
	scan, err := client.LaserData(ctx)
	if err != nil {
		return err
	}
	summarize(out, scan)
	for i := 0; i < scan.Len(); i++ {
		b := scan.At(i)
		fmt.Fprintf(out, "%3d %+.4f %d\n", i, b.Angle, b.DistanceMM)
	}
	return nil
}

func handleStream(ctx context.Context, client *laserrpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	count := fs.Int("count", 0, "Stop after this many scans (0 streams until interrupted)")
	every := fs.Uint("every", 1, "Forward one scan in every N")
	name := fs.String("name", "laser-client", "Client name reported to the server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n := 0
	err := client.StreamScans(ctx, &laserrpc.StreamRequest{ClientName: *name, Every: uint32(*every)}, func(scan *fusion.Scan) error {
		summarize(out, scan)
		n++
		if *count > 0 && n >= *count {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) || errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

func handleConf(ctx context.Context, client *laserrpc.Client, out io.Writer) error {
	ctx, cancel := unary(ctx)
	defer cancel()
	conf, err := client.LaserConf(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sensors=%d bins=%d angle_min=%.6f angle_max=%.6f increment=%.6f fallback=%dmm\n",
		conf.Sensors, conf.Bins, conf.AngleMin, conf.AngleMax, conf.AngleIncrement, conf.FallbackMM)
	return nil
}

func handleState(ctx context.Context, client *laserrpc.Client, out io.Writer) error {
	ctx, cancel := unary(ctx)
	defer cancel()
	s, err := client.BaseState(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "x=%.1f z=%.1f alpha=%.4f adv_vx=%.1f adv_vz=%.1f rot_v=%.4f moving=%t\n",
		s.X, s.Z, s.Alpha, s.AdvVx, s.AdvVz, s.RotV, s.IsMoving)
	return nil
}

func handlePose(ctx context.Context, client *laserrpc.Client, out io.Writer) error {
	ctx, cancel := unary(ctx)
	defer cancel()
	p, err := client.BasePose(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "x=%.1f z=%.1f alpha=%.4f\n", p.X, p.Z, p.Alpha)
	return nil
}

func handleSpeed(ctx context.Context, client *laserrpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("speed", flag.ContinueOnError)
	advX := fs.Float64("adv-x", 0, "Lateral velocity, mm/s")
	advZ := fs.Float64("adv-z", 0, "Forward velocity, mm/s")
	rot := fs.Float64("rot", 0, "Rotation, rad/s")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := unary(ctx)
	defer cancel()
	cmd := robot.VelocityCommand{AdvX: *advX, AdvZ: *advZ, Rot: *rot}
	if err := client.SetSpeedBase(ctx, cmd); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent adv_x=%.1f adv_z=%.1f rot=%.3f\n", cmd.AdvX, cmd.AdvZ, cmd.Rot)
	return nil
}

func handleStop(ctx context.Context, client *laserrpc.Client, out io.Writer) error {
	ctx, cancel := unary(ctx)
	defer cancel()
	if err := client.StopBase(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "stop sent")
	return nil
}

func handlePNG(ctx context.Context, client *laserrpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("png", flag.ContinueOnError)
	path := fs.String("out", "scan.png", "Output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := unary(ctx)
	defer cancel()
	scan, err := client.LaserData(ctx)
	if err != nil {
		return err
	}
	if err := monitor.SaveScanPNG(scan, *path); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote scan %d to %s\n", scan.Seq(), *path)
	return nil
}
