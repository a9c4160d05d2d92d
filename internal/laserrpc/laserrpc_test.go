package laserrpc

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/monitoring"
	"github.com/banshee-data/omnilaser/internal/publish"
	"github.com/banshee-data/omnilaser/internal/robot"
)

func init() {
	monitoring.SetLogger(nil)
}

func testScan(t *testing.T, seq uint64) *fusion.Scan {
	t.Helper()
	grid := fusion.NewGrid()
	bins := make([]fusion.ScanBin, grid.Len())
	for i := range bins {
		bins[i] = fusion.ScanBin{Angle: grid.Angle(i), DistanceMM: int32(seq)*1000 + int32(i)}
	}
	scan, err := fusion.NewScan(seq, time.Unix(1700000000, 123), bins)
	require.NoError(t, err)
	return scan
}

type fakeBackend struct {
	mu    sync.Mutex
	scan  *fusion.Scan
	state *robot.BaseState
	cmds  []robot.VelocityCommand
	stops int
}

func (b *fakeBackend) LatestScan() *fusion.Scan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scan
}

func (b *fakeBackend) LatestState() (robot.BaseState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return robot.BaseState{}, false
	}
	return *b.state, true
}

func (b *fakeBackend) ScanInfo() fusion.ScanInfo {
	return fusion.ScanInfo{Sensors: 4, Bins: 360, AngleMin: -math.Pi, AngleMax: math.Pi - fusion.BinWidth, AngleIncrement: fusion.BinWidth, FallbackMM: 200}
}

func (b *fakeBackend) SetSpeedBase(cmd robot.VelocityCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = append(b.cmds, cmd)
}

func (b *fakeBackend) StopBase() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
}

func startServer(t *testing.T, cfg Config) (*Publisher, *fakeBackend, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(cfg)
	backend := &fakeBackend{}
	pub.Register(backend)
	require.NoError(t, pub.Serve(lis))
	t.Cleanup(pub.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return pub, backend, client
}

func TestLaserData_RoundTrip(t *testing.T) {
	scan := testScan(t, 7)
	b, err := LaserDataFromScan(scan).Marshal()
	require.NoError(t, err)

	var got LaserData
	require.NoError(t, got.Unmarshal(b))
	back, err := got.Scan()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), back.Seq())
	assert.True(t, back.Timestamp().Equal(scan.Timestamp()))
	if diff := cmp.Diff(scan.Bins(), back.Bins()); diff != "" {
		t.Errorf("bins mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(250))

	var req SpeedRequest
	require.NoError(t, req.Unmarshal(b))
	assert.Equal(t, SpeedRequest{AdvZ: 250}, req)
}

func TestUnmarshal_Truncated(t *testing.T) {
	b, err := (&BaseState{X: 1, IsMoving: true}).Marshal()
	require.NoError(t, err)
	var st BaseState
	assert.Error(t, st.Unmarshal(b[:len(b)-1]))
}

func TestLaserData_ScanRejectsMismatch(t *testing.T) {
	_, err := (&LaserData{Angles: []float64{0}, Dists: nil}).Scan()
	assert.Error(t, err)
}

func TestServer_UnaryCalls(t *testing.T) {
	_, backend, client := startServer(t, Config{})
	ctx := context.Background()

	_, err := client.LaserData(ctx)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	_, err = client.BaseState(ctx)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	scan := testScan(t, 3)
	at := time.Unix(1700000001, 0)
	backend.mu.Lock()
	backend.scan = scan
	backend.state = &robot.BaseState{X: -120, Z: 40, Alpha: 0.5, AdvVz: 300, IsMoving: true, At: at}
	backend.mu.Unlock()

	got, err := client.LaserData(ctx)
	require.NoError(t, err)
	assert.Equal(t, scan.Distances(), got.Distances())

	state, err := client.BaseState(ctx)
	require.NoError(t, err)
	assert.Equal(t, robot.BaseState{X: -120, Z: 40, Alpha: 0.5, AdvVz: 300, IsMoving: true, At: at}, state)

	pose, err := client.BasePose(ctx)
	require.NoError(t, err)
	assert.Equal(t, &BasePose{X: -120, Z: 40, Alpha: 0.5}, pose)

	conf, err := client.LaserConf(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(360), conf.Bins)
	assert.Equal(t, int32(200), conf.FallbackMM)
	assert.InDelta(t, -math.Pi, conf.AngleMin, 1e-12)
}

func TestServer_SpeedAndStop(t *testing.T) {
	_, backend, client := startServer(t, Config{})
	ctx := context.Background()

	cmd := robot.VelocityCommand{AdvX: -50, AdvZ: 200, Rot: 0.3}
	require.NoError(t, client.SetSpeedBase(ctx, cmd))
	require.NoError(t, client.StopBase(ctx))

	err := client.SetSpeedBase(ctx, robot.VelocityCommand{Rot: math.Inf(1)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []robot.VelocityCommand{cmd}, backend.cmds)
	assert.Equal(t, 1, backend.stops)
}

var errEnough = errors.New("enough")

func TestPublisher_StreamsPublishedScans(t *testing.T) {
	pub, _, client := startServer(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []uint64
	done := make(chan error, 1)
	go func() {
		done <- client.StreamScans(ctx, &StreamRequest{ClientName: "test"}, func(s *fusion.Scan) error {
			got = append(got, s.Seq())
			if len(got) == 3 {
				return errEnough
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)
	for seq := uint64(1); seq <= 3; seq++ {
		res := pub.PublishScan(ctx, testScan(t, seq))
		require.Equal(t, publish.StatusDelivered, res.Status)
		// One scan at a time so the small client buffer never drops.
		time.Sleep(10 * time.Millisecond)
	}

	assert.ErrorIs(t, <-done, errEnough)
	assert.Equal(t, []uint64{1, 2, 3}, got)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_StreamDecimation(t *testing.T) {
	pub, _, client := startServer(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []uint64
	done := make(chan error, 1)
	go func() {
		done <- client.StreamScans(ctx, &StreamRequest{Every: 2}, func(s *fusion.Scan) error {
			got = append(got, s.Seq())
			if len(got) == 2 {
				return errEnough
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)
	for seq := uint64(1); seq <= 3; seq++ {
		pub.PublishScan(ctx, testScan(t, seq))
		time.Sleep(10 * time.Millisecond)
	}
	assert.ErrorIs(t, <-done, errEnough)
	assert.Equal(t, []uint64{1, 3}, got)
}

func TestPublisher_MaxClients(t *testing.T) {
	pub, _, client := startServer(t, Config{MaxClients: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.StreamScans(ctx, &StreamRequest{}, func(*fusion.Scan) error { return nil })
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	err := client.StreamScans(ctx, &StreamRequest{}, func(*fusion.Scan) error { return nil })
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_NotRunning(t *testing.T) {
	pub := NewPublisher(Config{})
	res := pub.PublishScan(context.Background(), testScan(t, 1))
	assert.Equal(t, publish.StatusTransportFailure, res.Status)
	assert.ErrorIs(t, res.Err, ErrNotRunning)
}

func TestPublisher_QueueFull(t *testing.T) {
	// Running but with no broadcast loop draining the queue.
	pub := NewPublisher(Config{QueueSize: 1})
	pub.running.Store(true)

	ctx := context.Background()
	assert.True(t, pub.PublishScan(ctx, testScan(t, 1)).OK())
	res := pub.PublishScan(ctx, testScan(t, 2))
	assert.ErrorIs(t, res.Err, ErrQueueFull)
	assert.Equal(t, uint64(1), pub.Stats().Dropped)
	assert.Equal(t, uint64(1), pub.Stats().ScanCount)
}
