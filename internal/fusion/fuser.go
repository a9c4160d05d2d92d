package fusion

import (
	"fmt"
	"math"
	"time"
)

// Options tune a Fuser.
type Options struct {
	// FallbackMM is assigned to bin 0 when no point lands there.
	// Zero selects DefaultFallbackMM.
	FallbackMM int32
}

// Fuser composes projection, polar conversion, binning, median
// aggregation and gap filling. It keeps no state between calls, so a Scan
// depends only on the frames passed to Fuse.
type Fuser struct {
	registry   *Registry
	grid       *Grid
	fallbackMM int32
}

// NewFuser returns a Fuser over the given registry.
func NewFuser(registry *Registry, opts Options) (*Fuser, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("%w: empty registry", ErrInvalidSensorConfig)
	}
	if opts.FallbackMM < 0 {
		return nil, fmt.Errorf("fallback distance must be non-negative, got %d", opts.FallbackMM)
	}
	fallback := opts.FallbackMM
	if fallback == 0 {
		fallback = DefaultFallbackMM
	}
	return &Fuser{registry: registry, grid: NewGrid(), fallbackMM: fallback}, nil
}

// Grid returns the reference grid used by the fuser.
func (f *Fuser) Grid() *Grid { return f.grid }

// FallbackMM returns the configured bin-0 fallback.
func (f *Fuser) FallbackMM() int32 { return f.fallbackMM }

// Registry returns the sensor registry.
func (f *Fuser) Registry() *Registry { return f.registry }

// Fuse builds the Scan for one tick. Every registered sensor must supply
// exactly one frame with a finite scanline of the registered resolution;
// otherwise no Scan is produced.
func (f *Fuser) Fuse(seq uint64, at time.Time, frames []SensorFrame) (*Scan, error) {
	byID, err := f.matchFrames(frames)
	if err != nil {
		return nil, err
	}

	binner := NewBinner(f.grid)
	for _, cfg := range f.registry.sensors {
		frame := byID[cfg.ID]
		mount := frame.Mount
		if mount.IsZero() {
			mount = cfg.Mount
		}
		for _, p := range Project(cfg, mount, frame.Depths) {
			binner.Add(ToPolar(p))
		}
	}

	dist := FillGaps(Aggregate(binner.Groups()), f.fallbackMM)
	bins := make([]ScanBin, f.grid.Len())
	for i := range bins {
		bins[i] = ScanBin{Angle: f.grid.Angle(i), DistanceMM: dist[i]}
	}
	return &Scan{seq: seq, timestamp: at, bins: bins}, nil
}

func (f *Fuser) matchFrames(frames []SensorFrame) (map[SensorID]SensorFrame, error) {
	byID := make(map[SensorID]SensorFrame, len(frames))
	for _, fr := range frames {
		cfg, err := f.registry.Lookup(fr.SensorID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		if _, dup := byID[fr.SensorID]; dup {
			return nil, fmt.Errorf("%w: sensor %d captured twice", ErrMalformedFrame, fr.SensorID)
		}
		if len(fr.Depths) != cfg.Resolution {
			return nil, fmt.Errorf("%w: sensor %d scanline has %d samples, want %d",
				ErrMalformedFrame, fr.SensorID, len(fr.Depths), cfg.Resolution)
		}
		for i, d := range fr.Depths {
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, fmt.Errorf("%w: sensor %d pixel %d depth %v", ErrMalformedFrame, fr.SensorID, i, d)
			}
		}
		if !fr.Mount.IsZero() && !isFinite(fr.Mount) {
			return nil, fmt.Errorf("%w: sensor %d mount transform is not finite", ErrMalformedFrame, fr.SensorID)
		}
		byID[fr.SensorID] = fr
	}
	for _, cfg := range f.registry.sensors {
		if _, ok := byID[cfg.ID]; !ok {
			return nil, fmt.Errorf("%w: no capture from sensor %d (%s)", ErrMalformedFrame, cfg.ID, cfg.Name)
		}
	}
	return byID, nil
}

func isFinite(t Transform) bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ScanInfo describes the scans a Fuser produces.
type ScanInfo struct {
	Sensors        int     `json:"sensors"`
	Bins           int     `json:"bins"`
	AngleMin       float64 `json:"angle_min"`
	AngleMax       float64 `json:"angle_max"`
	AngleIncrement float64 `json:"angle_increment"`
	FallbackMM     int32   `json:"fallback_mm"`
}

// Info returns the scan layout.
func (f *Fuser) Info() ScanInfo {
	return ScanInfo{
		Sensors:        f.registry.Len(),
		Bins:           f.grid.Len(),
		AngleMin:       f.grid.Angle(0),
		AngleMax:       f.grid.Angle(f.grid.Len() - 1),
		AngleIncrement: BinWidth,
		FallbackMM:     f.fallbackMM,
	}
}
