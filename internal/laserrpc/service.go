package laserrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "omnilaser.Laser"

const methodStreamScans = "/" + ServiceName + "/StreamScans"

// LaserServer is the server API of the Laser service.
type LaserServer interface {
	GetLaserData(context.Context, *Empty) (*LaserData, error)
	GetLaserConfData(context.Context, *Empty) (*LaserConf, error)
	GetBaseState(context.Context, *Empty) (*BaseState, error)
	GetBasePose(context.Context, *Empty) (*BasePose, error)
	SetSpeedBase(context.Context, *SpeedRequest) (*Empty, error)
	StopBase(context.Context, *Empty) (*Empty, error)
	StreamScans(*StreamRequest, grpc.ServerStreamingServer[LaserData]) error
}

// LaserServiceDesc describes the Laser service for grpc.Server.RegisterService.
var LaserServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LaserServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetLaserData", LaserServer.GetLaserData),
		unary("GetLaserConfData", LaserServer.GetLaserConfData),
		unary("GetBaseState", LaserServer.GetBaseState),
		unary("GetBasePose", LaserServer.GetBasePose),
		unary("SetSpeedBase", LaserServer.SetSpeedBase),
		unary("StopBase", LaserServer.StopBase),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamScans",
			Handler:       streamScansHandler,
			ServerStreams: true,
		},
	},
	Metadata: "laser.proto",
}

// RegisterLaserServer registers srv on s.
func RegisterLaserServer(s grpc.ServiceRegistrar, srv LaserServer) {
	s.RegisterService(&LaserServiceDesc, srv)
}

func unary[Req, Res any](name string, call func(LaserServer, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LaserServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LaserServer), ctx, req.(*Req))
			})
		},
	}
}

func streamScansHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LaserServer).StreamScans(in, &grpc.GenericServerStream[StreamRequest, LaserData]{ServerStream: stream})
}
