package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	name   string
	err    error
	scans  int
	states int
	frames int
}

func (s *stubSink) result() Result {
	if s.err != nil {
		return Failed(s.name, s.err)
	}
	return Delivered(s.name)
}

func (s *stubSink) PublishScan(context.Context, *fusion.Scan) Result {
	s.scans++
	return s.result()
}

func (s *stubSink) PublishState(context.Context, robot.BaseState) Result {
	s.states++
	return s.result()
}

func (s *stubSink) PublishRGBD(context.Context, robot.RGBDFrame) Result {
	s.frames++
	return s.result()
}

func testScan(t *testing.T) *fusion.Scan {
	t.Helper()
	g := fusion.NewGrid()
	bins := make([]fusion.ScanBin, g.Len())
	for i := range bins {
		bins[i] = fusion.ScanBin{Angle: g.Angle(i), DistanceMM: 1000}
	}
	s, err := fusion.NewScan(1, time.Unix(1, 0), bins)
	require.NoError(t, err)
	return s
}

func TestFanout_AllDelivered(t *testing.T) {
	a, b := &stubSink{name: "grpc"}, &stubSink{name: "mqtt"}
	f := &Fanout{Scans: []ScanPublisher{a, b}, States: []StatePublisher{a}, RGBD: []RGBDPublisher{b}}

	r := f.PublishScan(context.Background(), testScan(t))
	assert.True(t, r.OK())
	assert.Equal(t, "laser", r.Sink)
	assert.Equal(t, 1, a.scans)
	assert.Equal(t, 1, b.scans)

	assert.True(t, f.PublishState(context.Background(), robot.BaseState{}).OK())
	assert.True(t, f.PublishRGBD(context.Background(), robot.RGBDFrame{}).OK())
	assert.Equal(t, 1, a.states)
	assert.Equal(t, 1, b.frames)
}

func TestFanout_OneFailureFailsTheFold(t *testing.T) {
	boom := errors.New("broker unreachable")
	a, b := &stubSink{name: "grpc"}, &stubSink{name: "mqtt", err: boom}
	f := &Fanout{Scans: []ScanPublisher{a, b}}

	r := f.PublishScan(context.Background(), testScan(t))
	assert.False(t, r.OK())
	assert.Equal(t, StatusTransportFailure, r.Status)
	assert.Contains(t, r.Reason, "mqtt: broker unreachable")
	assert.ErrorIs(t, r.Err, boom)
	assert.Equal(t, 1, a.scans, "other sinks still receive the scan")
}

func TestFanout_NoSinksIsSkipped(t *testing.T) {
	var f Fanout
	r := f.PublishState(context.Background(), robot.BaseState{})
	assert.Equal(t, StatusSkipped, r.Status)
	assert.False(t, r.OK())
}

func TestFold(t *testing.T) {
	boom := errors.New("broker unreachable")
	tests := []struct {
		name    string
		results []Result
		want    Status
	}{
		{"none", nil, StatusSkipped},
		{"all skipped", []Result{Skipped("mqtt")}, StatusSkipped},
		{"several skipped", []Result{Skipped("mqtt"), Skipped("kafka")}, StatusSkipped},
		{"skipped and delivered", []Result{Skipped("mqtt"), Delivered("grpc")}, StatusDelivered},
		{"delivered", []Result{Delivered("grpc")}, StatusDelivered},
		{"skipped and failed", []Result{Skipped("mqtt"), Failed("kafka", boom)}, StatusTransportFailure},
		{"delivered and failed", []Result{Delivered("grpc"), Failed("kafka", boom)}, StatusTransportFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Fold("rgbd", tt.results)
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, "rgbd", r.Sink)
		})
	}
}

func TestFailed_NilError(t *testing.T) {
	r := Failed("x", nil)
	assert.Equal(t, StatusTransportFailure, r.Status)
	assert.NotEmpty(t, r.Reason)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "delivered", StatusDelivered.String())
	assert.Equal(t, "transport_failure", StatusTransportFailure.String())
	assert.Equal(t, "skipped", StatusSkipped.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
