package laserrpc

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/robot"
)

// Message is implemented by every type carried on the Laser service.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// Empty is the request or reply of calls without a payload.
type Empty struct{}

func (*Empty) Marshal() ([]byte, error) { return nil, nil }

func (*Empty) Unmarshal(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

// LaserData is one fused scan on the wire.
type LaserData struct {
	Seq         uint64
	TimestampNs int64
	Angles      []float64
	Dists       []int32
}

// LaserDataFromScan converts a fused scan to its wire form.
func LaserDataFromScan(s *fusion.Scan) *LaserData {
	return &LaserData{
		Seq:         s.Seq(),
		TimestampNs: s.Timestamp().UnixNano(),
		Angles:      s.Angles(),
		Dists:       s.Distances(),
	}
}

// Scan validates the message and rebuilds the scan.
func (m *LaserData) Scan() (*fusion.Scan, error) {
	if len(m.Angles) != len(m.Dists) {
		return nil, fmt.Errorf("laser data has %d angles but %d distances", len(m.Angles), len(m.Dists))
	}
	bins := make([]fusion.ScanBin, len(m.Angles))
	for i := range bins {
		bins[i] = fusion.ScanBin{Angle: m.Angles[i], DistanceMM: m.Dists[i]}
	}
	return fusion.NewScan(m.Seq, time.Unix(0, m.TimestampNs), bins)
}

func (m *LaserData) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.Seq)
	b = appendVarint(b, 2, uint64(m.TimestampNs))
	if len(m.Angles) > 0 {
		packed := make([]byte, 0, 8*len(m.Angles))
		for _, a := range m.Angles {
			packed = protowire.AppendFixed64(packed, math.Float64bits(a))
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(m.Dists) > 0 {
		var packed []byte
		for _, d := range m.Dists {
			packed = protowire.AppendVarint(packed, uint64(int64(d)))
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b, nil
}

func (m *LaserData) Unmarshal(b []byte) error {
	*m = LaserData{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Seq = v
			return n
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.TimestampNs = int64(v)
			return n
		case num == 3 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeFixed64(packed)
				if k < 0 {
					return k
				}
				m.Angles = append(m.Angles, math.Float64frombits(v))
				packed = packed[k:]
			}
			return n
		case num == 4 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return k
				}
				m.Dists = append(m.Dists, int32(v))
				packed = packed[k:]
			}
			return n
		}
		return 0
	})
}

// LaserConf describes the scans the server produces.
type LaserConf struct {
	Sensors        uint32
	Bins           uint32
	AngleMin       float64
	AngleMax       float64
	AngleIncrement float64
	FallbackMM     int32
}

// LaserConfFromInfo converts the fuser's scan layout.
func LaserConfFromInfo(info fusion.ScanInfo) *LaserConf {
	return &LaserConf{
		Sensors:        uint32(info.Sensors),
		Bins:           uint32(info.Bins),
		AngleMin:       info.AngleMin,
		AngleMax:       info.AngleMax,
		AngleIncrement: info.AngleIncrement,
		FallbackMM:     info.FallbackMM,
	}
}

func (m *LaserConf) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Sensors))
	b = appendVarint(b, 2, uint64(m.Bins))
	b = appendDouble(b, 3, m.AngleMin)
	b = appendDouble(b, 4, m.AngleMax)
	b = appendDouble(b, 5, m.AngleIncrement)
	b = appendVarint(b, 6, uint64(int64(m.FallbackMM)))
	return b, nil
}

func (m *LaserConf) Unmarshal(b []byte) error {
	*m = LaserConf{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeVarint(typ, b, func(v uint64) { m.Sensors = uint32(v) })
		case 2:
			return consumeVarint(typ, b, func(v uint64) { m.Bins = uint32(v) })
		case 3:
			return consumeDouble(typ, b, &m.AngleMin)
		case 4:
			return consumeDouble(typ, b, &m.AngleMax)
		case 5:
			return consumeDouble(typ, b, &m.AngleIncrement)
		case 6:
			return consumeVarint(typ, b, func(v uint64) { m.FallbackMM = int32(v) })
		}
		return 0
	})
}

// BaseState is robot.BaseState on the wire.
type BaseState struct {
	X, Z, Alpha  float64
	AdvVx, AdvVz float64
	RotV         float64
	IsMoving     bool
	TimestampNs  int64
}

// BaseStateFrom converts a base state to its wire form.
func BaseStateFrom(s robot.BaseState) *BaseState {
	var ts int64
	if !s.At.IsZero() {
		ts = s.At.UnixNano()
	}
	return &BaseState{
		X:           s.X,
		Z:           s.Z,
		Alpha:       s.Alpha,
		AdvVx:       s.AdvVx,
		AdvVz:       s.AdvVz,
		RotV:        s.RotV,
		IsMoving:    s.IsMoving,
		TimestampNs: ts,
	}
}

// State converts back to robot.BaseState.
func (m *BaseState) State() robot.BaseState {
	return robot.BaseState{
		X:        m.X,
		Z:        m.Z,
		Alpha:    m.Alpha,
		AdvVx:    m.AdvVx,
		AdvVz:    m.AdvVz,
		RotV:     m.RotV,
		IsMoving: m.IsMoving,
		At:       time.Unix(0, m.TimestampNs),
	}
}

func (m *BaseState) Marshal() ([]byte, error) {
	var b []byte
	b = appendDouble(b, 1, m.X)
	b = appendDouble(b, 2, m.Z)
	b = appendDouble(b, 3, m.Alpha)
	b = appendDouble(b, 4, m.AdvVx)
	b = appendDouble(b, 5, m.AdvVz)
	b = appendDouble(b, 6, m.RotV)
	b = appendVarint(b, 7, protowire.EncodeBool(m.IsMoving))
	b = appendVarint(b, 8, uint64(m.TimestampNs))
	return b, nil
}

func (m *BaseState) Unmarshal(b []byte) error {
	*m = BaseState{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeDouble(typ, b, &m.X)
		case 2:
			return consumeDouble(typ, b, &m.Z)
		case 3:
			return consumeDouble(typ, b, &m.Alpha)
		case 4:
			return consumeDouble(typ, b, &m.AdvVx)
		case 5:
			return consumeDouble(typ, b, &m.AdvVz)
		case 6:
			return consumeDouble(typ, b, &m.RotV)
		case 7:
			return consumeVarint(typ, b, func(v uint64) { m.IsMoving = protowire.DecodeBool(v) })
		case 8:
			return consumeVarint(typ, b, func(v uint64) { m.TimestampNs = int64(v) })
		}
		return 0
	})
}

// BasePose is the (x, z, alpha) pose triple.
type BasePose struct {
	X, Z, Alpha float64
}

func (m *BasePose) Marshal() ([]byte, error) {
	var b []byte
	b = appendDouble(b, 1, m.X)
	b = appendDouble(b, 2, m.Z)
	b = appendDouble(b, 3, m.Alpha)
	return b, nil
}

func (m *BasePose) Unmarshal(b []byte) error {
	*m = BasePose{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeDouble(typ, b, &m.X)
		case 2:
			return consumeDouble(typ, b, &m.Z)
		case 3:
			return consumeDouble(typ, b, &m.Alpha)
		}
		return 0
	})
}

// SpeedRequest carries a velocity command: mm/s and rad/s.
type SpeedRequest struct {
	AdvX, AdvZ, Rot float64
}

// Command returns the request as a velocity command.
func (m *SpeedRequest) Command() robot.VelocityCommand {
	return robot.VelocityCommand{AdvX: m.AdvX, AdvZ: m.AdvZ, Rot: m.Rot}
}

func (m *SpeedRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendDouble(b, 1, m.AdvX)
	b = appendDouble(b, 2, m.AdvZ)
	b = appendDouble(b, 3, m.Rot)
	return b, nil
}

func (m *SpeedRequest) Unmarshal(b []byte) error {
	*m = SpeedRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeDouble(typ, b, &m.AdvX)
		case 2:
			return consumeDouble(typ, b, &m.AdvZ)
		case 3:
			return consumeDouble(typ, b, &m.Rot)
		}
		return 0
	})
}

// StreamRequest opens a scan stream.
type StreamRequest struct {
	ClientName string
	// Every forwards one scan in every N; 0 and 1 forward all.
	Every uint32
}

func (m *StreamRequest) Marshal() ([]byte, error) {
	var b []byte
	if m.ClientName != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.ClientName)
	}
	b = appendVarint(b, 2, uint64(m.Every))
	return b, nil
}

func (m *StreamRequest) Unmarshal(b []byte) error {
	*m = StreamRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.ClientName = v
			return n
		case num == 2:
			return consumeVarint(typ, b, func(v uint64) { m.Every = uint32(v) })
		}
		return 0
	})
}

var errTruncated = errors.New("laserrpc: truncated message")

// walk calls field for every tag in b. field returns the number of value
// bytes it consumed, 0 to have the value skipped, or a negative protowire
// error code.
func walk(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := field(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		if m > len(b) {
			return errTruncated
		}
		b = b[m:]
	}
	return nil
}

// Zero values are omitted, as proto3 does.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func consumeVarint(typ protowire.Type, b []byte, set func(uint64)) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n > 0 {
		set(v)
	}
	return n
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) int {
	if typ != protowire.Fixed64Type {
		return 0
	}
	v, n := protowire.ConsumeFixed64(b)
	if n > 0 {
		*dst = math.Float64frombits(v)
	}
	return n
}
