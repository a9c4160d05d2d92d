package fusion

import (
	"fmt"
	"math"
	"time"
)

// ScanBin is one resolved entry of a Scan.
type ScanBin struct {
	Angle      float64 `json:"angle"`
	DistanceMM int32   `json:"dist"`
}

// Scan is one tick's fused 360-entry range scan. It is immutable once
// built; the next tick replaces it wholesale.
type Scan struct {
	seq       uint64
	timestamp time.Time
	bins      []ScanBin
}

// NewScan validates bins and returns a Scan owning a copy of them. Bins
// must number BinCount, have strictly increasing angles inside [−π, π)
// and non-negative distances.
func NewScan(seq uint64, at time.Time, bins []ScanBin) (*Scan, error) {
	if len(bins) != BinCount {
		return nil, fmt.Errorf("scan must have %d bins, got %d", BinCount, len(bins))
	}
	for i, b := range bins {
		if math.IsNaN(b.Angle) || b.Angle < -math.Pi || b.Angle >= math.Pi {
			return nil, fmt.Errorf("bin %d angle %v outside [-π, π)", i, b.Angle)
		}
		if i > 0 && b.Angle <= bins[i-1].Angle {
			return nil, fmt.Errorf("bin %d angle %v not above bin %d angle %v", i, b.Angle, i-1, bins[i-1].Angle)
		}
		if b.DistanceMM < 0 {
			return nil, fmt.Errorf("bin %d has negative distance %d", i, b.DistanceMM)
		}
	}
	own := make([]ScanBin, len(bins))
	copy(own, bins)
	return &Scan{seq: seq, timestamp: at, bins: own}, nil
}

// Seq returns the tick sequence number that produced the scan.
func (s *Scan) Seq() uint64 { return s.seq }

// Timestamp returns the tick start time.
func (s *Scan) Timestamp() time.Time { return s.timestamp }

// Len is always BinCount.
func (s *Scan) Len() int { return len(s.bins) }

// At returns bin i.
func (s *Scan) At(i int) ScanBin { return s.bins[i] }

// Bins returns a copy of all bins.
func (s *Scan) Bins() []ScanBin {
	out := make([]ScanBin, len(s.bins))
	copy(out, s.bins)
	return out
}

// Distances returns the bin distances in millimetres.
func (s *Scan) Distances() []int32 {
	out := make([]int32, len(s.bins))
	for i, b := range s.bins {
		out[i] = b.DistanceMM
	}
	return out
}

// Angles returns the bin angles in radians.
func (s *Scan) Angles() []float64 {
	out := make([]float64, len(s.bins))
	for i, b := range s.bins {
		out[i] = b.Angle
	}
	return out
}

// Nearest returns the bin with the smallest distance.
func (s *Scan) Nearest() ScanBin {
	best := s.bins[0]
	for _, b := range s.bins[1:] {
		if b.DistanceMM < best.DistanceMM {
			best = b
		}
	}
	return best
}
