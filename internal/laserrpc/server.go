package laserrpc

import (
	"context"
	"errors"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/robot"
)

var _ LaserServer = (*Server)(nil)

// Backend is the control-loop surface the service exposes.
type Backend interface {
	LatestScan() *fusion.Scan
	LatestState() (robot.BaseState, bool)
	ScanInfo() fusion.ScanInfo
	SetSpeedBase(cmd robot.VelocityCommand)
	StopBase()
}

// Server implements the Laser service.
type Server struct {
	backend   Backend
	publisher *Publisher
	logf      func(format string, v ...interface{})
}

// NewServer creates a Server. publisher may be nil, in which case
// StreamScans is unavailable.
func NewServer(backend Backend, publisher *Publisher) *Server {
	return &Server{backend: backend, publisher: publisher, logf: monitoring.Component("LaserRPC")}
}

// Register creates a Server for backend and registers it on the
// publisher's gRPC server.
func (p *Publisher) Register(backend Backend) *Server {
	s := NewServer(backend, p)
	RegisterLaserServer(p.server, s)
	return s
}

// GetLaserData returns the latest fused scan.
func (s *Server) GetLaserData(context.Context, *Empty) (*LaserData, error) {
	scan := s.backend.LatestScan()
	if scan == nil {
		return nil, status.Error(codes.Unavailable, "no scan fused yet")
	}
	return LaserDataFromScan(scan), nil
}

// GetLaserConfData returns the scan layout.
func (s *Server) GetLaserConfData(context.Context, *Empty) (*LaserConf, error) {
	return LaserConfFromInfo(s.backend.ScanInfo()), nil
}

// GetBaseState returns the latest base state.
func (s *Server) GetBaseState(context.Context, *Empty) (*BaseState, error) {
	st, ok := s.backend.LatestState()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no base state yet")
	}
	return BaseStateFrom(st), nil
}

// GetBasePose returns the (x, z, alpha) part of the latest base state.
func (s *Server) GetBasePose(context.Context, *Empty) (*BasePose, error) {
	st, ok := s.backend.LatestState()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no base state yet")
	}
	x, z, alpha := st.Pose()
	return &BasePose{X: x, Z: z, Alpha: alpha}, nil
}

// SetSpeedBase queues a velocity command for the next tick.
func (s *Server) SetSpeedBase(_ context.Context, req *SpeedRequest) (*Empty, error) {
	for _, v := range []float64{req.AdvX, req.AdvZ, req.Rot} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, status.Errorf(codes.InvalidArgument, "non-finite velocity %+v", *req)
		}
	}
	s.backend.SetSpeedBase(req.Command())
	return &Empty{}, nil
}

// StopBase queues a zero velocity.
func (s *Server) StopBase(context.Context, *Empty) (*Empty, error) {
	s.backend.StopBase()
	return &Empty{}, nil
}

// StreamScans sends every published scan until the client goes away.
func (s *Server) StreamScans(req *StreamRequest, stream grpc.ServerStreamingServer[LaserData]) error {
	if s.publisher == nil {
		return status.Error(codes.Unimplemented, "scan streaming disabled")
	}
	client, err := s.publisher.addClient(req.ClientName)
	if errors.Is(err, ErrTooManyClients) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	every := uint64(req.Every)
	if every == 0 {
		every = 1
	}
	ctx := stream.Context()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return status.Error(codes.Unavailable, "server stopping")
		case scan := <-client.scanCh:
			n++
			if (n-1)%every != 0 {
				continue
			}
			if err := stream.Send(LaserDataFromScan(scan)); err != nil {
				s.logf("send to %s failed: %v", client.id, err)
				return err
			}
		}
	}
}
