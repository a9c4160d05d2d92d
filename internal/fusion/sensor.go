package fusion

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidSensorConfig is returned when a sensor cannot be registered.
	ErrInvalidSensorConfig = errors.New("invalid sensor config")
	// ErrUnknownSensor is returned for identifiers absent from the registry.
	ErrUnknownSensor = errors.New("unknown sensor")
	// ErrMalformedFrame is returned when a tick's captures cannot be fused.
	ErrMalformedFrame = errors.New("malformed sensor frame")
)

// SensorID identifies a registered range sensor. IDs are fixed at setup.
type SensorID int

// SensorConfig describes one range sensor. It is immutable after
// registration; build it with NewSensorConfig.
type SensorConfig struct {
	ID   SensorID
	Name string
	// Resolution is the pixel count along the scan axis.
	Resolution int
	// HalfAngle is the field-of-view half-angle in radians.
	HalfAngle float64
	// Focal is (Resolution/2) / tan(HalfAngle), in pixels.
	Focal float64
	// Mount is the nominal sensor-to-robot transform.
	Mount Transform
}

// NewSensorConfig validates the geometry and derives the focal length.
// A half-angle at or beyond π/2 has no finite focal length and is rejected
// here rather than at projection time.
func NewSensorConfig(id SensorID, name string, resolution int, halfAngle float64, mount Transform) (SensorConfig, error) {
	cfg := SensorConfig{
		ID:         id,
		Name:       name,
		Resolution: resolution,
		HalfAngle:  halfAngle,
		Mount:      mount,
	}
	if err := cfg.validateGeometry(); err != nil {
		return SensorConfig{}, err
	}
	cfg.Focal = (float64(resolution) / 2) / math.Tan(halfAngle)
	return cfg, nil
}

func (c SensorConfig) validateGeometry() error {
	if c.Resolution <= 0 {
		return fmt.Errorf("%w: sensor %d resolution must be positive, got %d", ErrInvalidSensorConfig, c.ID, c.Resolution)
	}
	if math.IsNaN(c.HalfAngle) || c.HalfAngle <= 0 || c.HalfAngle >= math.Pi/2 {
		return fmt.Errorf("%w: sensor %d half-angle must be in (0, π/2), got %v", ErrInvalidSensorConfig, c.ID, c.HalfAngle)
	}
	if c.Mount.IsZero() {
		return fmt.Errorf("%w: sensor %d has no mount transform", ErrInvalidSensorConfig, c.ID)
	}
	return nil
}

// Validate re-checks a config that may have been built by hand.
func (c SensorConfig) Validate() error {
	if err := c.validateGeometry(); err != nil {
		return err
	}
	if c.Focal <= 0 || math.IsInf(c.Focal, 0) || math.IsNaN(c.Focal) {
		return fmt.Errorf("%w: sensor %d focal length %v", ErrInvalidSensorConfig, c.ID, c.Focal)
	}
	return nil
}

// Registry is the fixed, ordered set of sensors fused every tick.
type Registry struct {
	sensors []SensorConfig
	index   map[SensorID]int
}

// NewRegistry validates every config and rejects duplicate identifiers.
func NewRegistry(cfgs ...SensorConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one sensor", ErrInvalidSensorConfig)
	}
	r := &Registry{
		sensors: make([]SensorConfig, 0, len(cfgs)),
		index:   make(map[SensorID]int, len(cfgs)),
	}
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate sensor id %d", ErrInvalidSensorConfig, c.ID)
		}
		r.index[c.ID] = len(r.sensors)
		r.sensors = append(r.sensors, c)
	}
	return r, nil
}

// Lookup returns the config registered under id.
func (r *Registry) Lookup(id SensorID) (SensorConfig, error) {
	i, ok := r.index[id]
	if !ok {
		return SensorConfig{}, fmt.Errorf("%w: %d", ErrUnknownSensor, id)
	}
	return r.sensors[i], nil
}

// Sensors returns the registered configs in registration order.
func (r *Registry) Sensors() []SensorConfig {
	out := make([]SensorConfig, len(r.sensors))
	copy(out, r.sensors)
	return out
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int { return len(r.sensors) }

// SensorFrame is one sensor's capture for a tick. The mount transform and
// the scanline must come from the same capture call; a stale transform
// paired with a fresh scanline silently skews the scan.
type SensorFrame struct {
	SensorID SensorID
	// Mount is the transform read with this scanline. A zero Mount falls
	// back to the registered nominal mount.
	Mount Transform
	// Depths holds one depth in metres per pixel, len == Resolution.
	Depths     []float64
	CapturedAt time.Time
}
