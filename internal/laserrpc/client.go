package laserrpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/robot"
)

// Client calls the Laser service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Extra options are applied after the
// defaults, which are plaintext transport and the laserrpc codec.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, in, out Message) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

// LaserData fetches the latest fused scan.
func (c *Client) LaserData(ctx context.Context) (*fusion.Scan, error) {
	out := new(LaserData)
	if err := c.invoke(ctx, "GetLaserData", &Empty{}, out); err != nil {
		return nil, err
	}
	return out.Scan()
}

// LaserConf fetches the scan layout.
func (c *Client) LaserConf(ctx context.Context) (*LaserConf, error) {
	out := new(LaserConf)
	if err := c.invoke(ctx, "GetLaserConfData", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// BaseState fetches the latest base state.
func (c *Client) BaseState(ctx context.Context) (robot.BaseState, error) {
	out := new(BaseState)
	if err := c.invoke(ctx, "GetBaseState", &Empty{}, out); err != nil {
		return robot.BaseState{}, err
	}
	return out.State(), nil
}

// BasePose fetches the (x, z, alpha) pose.
func (c *Client) BasePose(ctx context.Context) (*BasePose, error) {
	out := new(BasePose)
	if err := c.invoke(ctx, "GetBasePose", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSpeedBase sends a velocity command.
func (c *Client) SetSpeedBase(ctx context.Context, cmd robot.VelocityCommand) error {
	return c.invoke(ctx, "SetSpeedBase", &SpeedRequest{AdvX: cmd.AdvX, AdvZ: cmd.AdvZ, Rot: cmd.Rot}, &Empty{})
}

// StopBase stops the base.
func (c *Client) StopBase(ctx context.Context) error {
	return c.invoke(ctx, "StopBase", &Empty{}, &Empty{})
}

// StreamScans subscribes to scans and calls fn for each one until ctx is
// cancelled, the server ends the stream, or fn returns an error.
func (c *Client) StreamScans(ctx context.Context, req *StreamRequest, fn func(*fusion.Scan) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs, err := c.conn.NewStream(ctx, &LaserServiceDesc.Streams[0], methodStreamScans)
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[StreamRequest, LaserData]{ClientStream: cs}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		scan, err := msg.Scan()
		if err != nil {
			return fmt.Errorf("scan %d: %w", msg.Seq, err)
		}
		if err := fn(scan); err != nil {
			return err
		}
	}
}
