package laserrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/publish"
)

// SinkName labels Results returned by the publisher.
const SinkName = "grpc"

var (
	// ErrNotRunning is reported when a scan is published before Start.
	ErrNotRunning = errors.New("grpc publisher not running")
	// ErrQueueFull is reported when the broadcast queue has no room.
	ErrQueueFull = errors.New("grpc broadcast queue full, scan dropped")
	// ErrTooManyClients is returned to a stream beyond MaxClients.
	ErrTooManyClients = errors.New("too many streaming clients")
)

// Config holds configuration for the gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "localhost:50061").
	ListenAddr string
	// MaxClients bounds concurrent StreamScans subscribers.
	MaxClients int
	// QueueSize is the broadcast queue depth.
	QueueSize int
	// ClientBuffer is the per-subscriber queue depth.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		QueueSize:    16,
		ClientBuffer: 4,
	}
}

// Publisher manages the gRPC server and scan streaming. It implements
// publish.ScanPublisher.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener
	logf     func(format string, v ...interface{})

	scanCh    chan *fusion.Scan
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	scanCount   atomic.Uint64
	clientCount atomic.Int32
	dropped     atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id     string
	name   string
	scanCh chan *fusion.Scan
}

// NewPublisher creates the gRPC server. Register the service before
// calling Start or Serve.
func NewPublisher(cfg Config, opts ...grpc.ServerOption) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	// A scan is ~4 KB; the limit only guards against garbage.
	const maxMsgSize = 1 << 20
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(codec{}),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}, opts...)
	return &Publisher{
		config:  cfg,
		server:  grpc.NewServer(opts...),
		logf:    monitoring.Component("LaserRPC"),
		scanCh:  make(chan *fusion.Scan, cfg.QueueSize),
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
}

// GRPCServer exposes the underlying server for service registration.
func (p *Publisher) GRPCServer() *grpc.Server { return p.server }

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background. Tests pass a bufconn listener.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		p.logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			p.logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.Stop()
	p.wg.Wait()
	p.logf("gRPC server stopped")
}

// PublishScan queues scan for every subscriber. The scan is accepted when
// it fits in the broadcast queue; a subscriber too slow to keep up loses
// scans without affecting the others.
func (p *Publisher) PublishScan(_ context.Context, scan *fusion.Scan) publish.Result {
	if !p.running.Load() {
		return publish.Failed(SinkName, ErrNotRunning)
	}
	if scan == nil {
		return publish.Skipped(SinkName)
	}
	select {
	case p.scanCh <- scan:
		p.scanCount.Add(1)
		return publish.Delivered(SinkName)
	default:
		dropped := p.dropped.Add(1)
		p.logf("DROPPED scan %d (total dropped: %d), queue full", scan.Seq(), dropped)
		return publish.Failed(SinkName, ErrQueueFull)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case scan := <-p.scanCh:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.scanCh <- scan:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(name string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, ErrTooManyClients
	}
	c := &clientStream{
		id:     uuid.NewString(),
		name:   name,
		scanCh: make(chan *fusion.Scan, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	p.logf("Client connected: %s %q (total: %d)", c.id, name, p.clientCount.Load())
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	p.clientCount.Add(-1)
	p.logf("Client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		ScanCount:   p.scanCount.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	ScanCount   uint64 `json:"scan_count"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"client_count"`
	Running     bool   `json:"running"`
}
