// Command omnilaser runs the omni-laser fusion loop against the built-in
// simulator and serves the fused scan over gRPC, HTTP and, optionally, a
// message broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/omnilaser/internal/config"
	"github.com/banshee-data/omnilaser/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json/.yaml config file (default: built-in defaults)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC listen address (overrides config)")
	dbFile      = flag.String("db", "", "SQLite database for tick recording (overrides config)")
	noCamera    = flag.Bool("no-camera", false, "Skip RGB-D capture")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, err
		}
	}
	if *listen != "" {
		cfg.HTTPAddress = listen
	}
	if *dbFile != "" {
		cfg.DBPath = dbFile
	}
	if *grpcListen != "" {
		if cfg.GRPC == nil {
			cfg.GRPC = &config.GRPCConfig{}
		}
		cfg.GRPC.ListenAddr = grpcListen
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("omnilaser"))
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Print(version.String("omnilaser"))
	a, err := newApp(ctx, cfg, appOptions{withCamera: !*noCamera})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	runErr := a.run(ctx)
	a.close()
	if runErr != nil {
		log.Fatalf("loop stopped: %v", runErr)
	}
	log.Print("graceful shutdown complete")
}
