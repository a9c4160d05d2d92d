// Package config loads the omnilaser runtime configuration: the sensor
// rig, loop pacing, and the settings of every outbound surface.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/laserrpc"
	"github.com/banshee-data/omnilaser/internal/messaging"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/sim"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/omnilaser.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Every field is optional; the Get*
// methods supply defaults for anything left out, so partial files are safe.
type Config struct {
	// Loop params
	Period              *string  `json:"period,omitempty" yaml:"period,omitempty"` // duration string like "80ms"
	AbortOnCaptureError *bool    `json:"abort_on_capture_error,omitempty" yaml:"abort_on_capture_error,omitempty"`
	FallbackMM          *int32   `json:"fallback_mm,omitempty" yaml:"fallback_mm,omitempty"`
	MaxDepth            *float64 `json:"max_depth,omitempty" yaml:"max_depth,omitempty"` // metres

	// Sensor rig. Empty selects the four-corner default rig.
	Sensors []SensorEntry `json:"sensors,omitempty" yaml:"sensors,omitempty"`

	// Outbound surfaces
	HTTPAddress *string          `json:"http_address,omitempty" yaml:"http_address,omitempty"`
	DBPath      *string          `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	GRPC        *GRPCConfig      `json:"grpc,omitempty" yaml:"grpc,omitempty"`
	Messaging   *MessagingConfig `json:"messaging,omitempty" yaml:"messaging,omitempty"`

	// Simulation
	World    *WorldConfig      `json:"world,omitempty" yaml:"world,omitempty"`
	Camera   *sim.CameraConfig `json:"camera,omitempty" yaml:"camera,omitempty"`
	Joystick *JoystickConfig   `json:"joystick,omitempty" yaml:"joystick,omitempty"`
}

// SensorEntry describes one range sensor. The mount is given either as a
// yaw/offset pair or as a raw row-major 4x4 matrix, never both.
type SensorEntry struct {
	ID         int          `json:"id" yaml:"id"`
	Name       string       `json:"name,omitempty" yaml:"name,omitempty"`
	Resolution int          `json:"resolution" yaml:"resolution"`
	HalfAngle  float64      `json:"half_angle" yaml:"half_angle"` // radians
	Mount      *MountConfig `json:"mount,omitempty" yaml:"mount,omitempty"`
	Matrix     []float64    `json:"matrix,omitempty" yaml:"matrix,omitempty"`
}

// MountConfig places a sensor with its optical axis at Yaw radians from
// the robot's forward axis, offset by (X, Y, Z) metres.
type MountConfig struct {
	Yaw float64 `json:"yaw" yaml:"yaw"`
	X   float64 `json:"x" yaml:"x"`
	Y   float64 `json:"y" yaml:"y"`
	Z   float64 `json:"z" yaml:"z"`
}

// GRPCConfig tunes the laser gRPC service.
type GRPCConfig struct {
	ListenAddr   *string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	MaxClients   *int    `json:"max_clients,omitempty" yaml:"max_clients,omitempty"`
	QueueSize    *int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	ClientBuffer *int    `json:"client_buffer,omitempty" yaml:"client_buffer,omitempty"`
}

// MessagingConfig selects the broker. An empty backend disables messaging.
type MessagingConfig struct {
	Backend        string                `json:"backend" yaml:"backend"` // "mqtt" or "kafka"
	MQTT           messaging.MQTTConfig  `json:"mqtt" yaml:"mqtt"`
	Kafka          messaging.KafkaConfig `json:"kafka" yaml:"kafka"`
	Topics         *messaging.Topics     `json:"topics,omitempty" yaml:"topics,omitempty"`
	PublishTimeout *string               `json:"publish_timeout,omitempty" yaml:"publish_timeout,omitempty"`
}

// WorldConfig overrides parts of the default simulated room.
type WorldConfig struct {
	Room       *sim.Box      `json:"room,omitempty" yaml:"room,omitempty"`
	Boxes      []sim.Box     `json:"boxes,omitempty" yaml:"boxes,omitempty"`
	Start      *robot.Pose2D `json:"start,omitempty" yaml:"start,omitempty"`
	BaseRadius *float64      `json:"base_radius,omitempty" yaml:"base_radius,omitempty"`
}

// JoystickConfig scales joystick axes to base velocities.
type JoystickConfig struct {
	MaxAdvanceMMs float64 `json:"max_advance_mm_s" yaml:"max_advance_mm_s"`
	MaxSideMMs    float64 `json:"max_side_mm_s" yaml:"max_side_mm_s"`
	MaxRotRads    float64 `json:"max_rot_rad_s" yaml:"max_rot_rad_s"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yaml or .yml file no larger than
// 1MB and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so it works from package test directories. Panics on
// failure; intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Period != nil && *c.Period != "" {
		d, err := time.ParseDuration(*c.Period)
		if err != nil {
			return fmt.Errorf("invalid period '%s': %w", *c.Period, err)
		}
		if d <= 0 {
			return fmt.Errorf("period must be positive, got %v", d)
		}
	}

	if c.FallbackMM != nil && *c.FallbackMM <= 0 {
		return fmt.Errorf("fallback_mm must be positive, got %d", *c.FallbackMM)
	}

	if c.MaxDepth != nil && !(*c.MaxDepth > 0) {
		return fmt.Errorf("max_depth must be positive, got %v", *c.MaxDepth)
	}

	seen := make(map[int]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if seen[s.ID] {
			return fmt.Errorf("sensors[%d]: duplicate sensor id %d", i, s.ID)
		}
		seen[s.ID] = true
		if _, err := s.config(); err != nil {
			return fmt.Errorf("sensors[%d]: %w", i, err)
		}
	}

	if g := c.GRPC; g != nil {
		for name, v := range map[string]*int{"max_clients": g.MaxClients, "queue_size": g.QueueSize, "client_buffer": g.ClientBuffer} {
			if v != nil && *v <= 0 {
				return fmt.Errorf("grpc.%s must be positive, got %d", name, *v)
			}
		}
	}

	if c.Messaging != nil && c.Messaging.Backend != "" {
		if _, err := c.Messaging.build(); err != nil {
			return err
		}
	}

	if c.Camera != nil && (c.Camera.Width <= 0 || c.Camera.Height <= 0) {
		return fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}

	return nil
}

func (s SensorEntry) mount() (fusion.Transform, error) {
	switch {
	case s.Mount != nil && s.Matrix != nil:
		return fusion.Transform{}, errors.New("give either mount or matrix, not both")
	case s.Mount != nil:
		if !finite(s.Mount.Yaw, s.Mount.X, s.Mount.Y, s.Mount.Z) {
			return fusion.Transform{}, errors.New("mount values must be finite")
		}
		return fusion.YawMount(s.Mount.Yaw, s.Mount.X, s.Mount.Y, s.Mount.Z), nil
	case s.Matrix != nil:
		if len(s.Matrix) != 16 {
			return fusion.Transform{}, fmt.Errorf("matrix needs 16 values, got %d", len(s.Matrix))
		}
		var t fusion.Transform
		copy(t[:], s.Matrix)
		if !t.IsRigid() {
			return fusion.Transform{}, errors.New("matrix is not a rigid transform")
		}
		return t, nil
	default:
		return fusion.Transform{}, errors.New("mount or matrix is required")
	}
}

func (s SensorEntry) config() (fusion.SensorConfig, error) {
	t, err := s.mount()
	if err != nil {
		return fusion.SensorConfig{}, fmt.Errorf("sensor %d: %w", s.ID, err)
	}
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("sensor-%d", s.ID)
	}
	return fusion.NewSensorConfig(fusion.SensorID(s.ID), name, s.Resolution, s.HalfAngle, t)
}

// BuildRegistry turns the sensor entries into a fusion registry.
func (c *Config) BuildRegistry() (*fusion.Registry, error) {
	if len(c.Sensors) == 0 {
		return fusion.NewRegistry(sim.DefaultSensors()...)
	}
	cfgs := make([]fusion.SensorConfig, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		sc, err := s.config()
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, sc)
	}
	return fusion.NewRegistry(cfgs...)
}

// GetPeriod returns the tick period.
func (c *Config) GetPeriod() time.Duration {
	if c.Period == nil || *c.Period == "" {
		return 80 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.Period)
	if err != nil || d <= 0 {
		return 80 * time.Millisecond // default on parse error
	}
	return d
}

// GetAbortOnCaptureError returns the abort_on_capture_error value or the default.
func (c *Config) GetAbortOnCaptureError() bool {
	if c.AbortOnCaptureError == nil {
		return false
	}
	return *c.AbortOnCaptureError
}

// GetFallbackMM returns the bin-0 fallback distance.
func (c *Config) GetFallbackMM() int32 {
	if c.FallbackMM == nil {
		return fusion.DefaultFallbackMM
	}
	return *c.FallbackMM
}

// GetMaxDepth returns the simulated sensor range in metres.
func (c *Config) GetMaxDepth() float64 {
	if c.MaxDepth == nil {
		return sim.DefaultMaxDepth
	}
	return *c.MaxDepth
}

// GetHTTPAddress returns the monitor listen address.
func (c *Config) GetHTTPAddress() string {
	if c.HTTPAddress == nil {
		return "localhost:8090"
	}
	return *c.HTTPAddress
}

// GetDBPath returns the recorder database path. Empty disables recording.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetGRPC returns the gRPC publisher config, filling unset fields from
// laserrpc.DefaultConfig.
func (c *Config) GetGRPC() laserrpc.Config {
	out := laserrpc.DefaultConfig()
	g := c.GRPC
	if g == nil {
		return out
	}
	if g.ListenAddr != nil {
		out.ListenAddr = *g.ListenAddr
	}
	if g.MaxClients != nil {
		out.MaxClients = *g.MaxClients
	}
	if g.QueueSize != nil {
		out.QueueSize = *g.QueueSize
	}
	if g.ClientBuffer != nil {
		out.ClientBuffer = *g.ClientBuffer
	}
	return out
}

// GetMessaging returns the broker config and whether messaging is enabled.
func (c *Config) GetMessaging() (messaging.Config, bool) {
	if c.Messaging == nil || c.Messaging.Backend == "" {
		return messaging.Config{}, false
	}
	out, err := c.Messaging.build()
	if err != nil {
		return messaging.Config{}, false
	}
	return out, true
}

func (m *MessagingConfig) build() (messaging.Config, error) {
	out := messaging.Config{
		Backend:        m.Backend,
		MQTT:           m.MQTT,
		Kafka:          m.Kafka,
		Topics:         messaging.DefaultTopics(),
		PublishTimeout: messaging.DefaultPublishTimeout,
	}
	if m.Topics != nil {
		out.Topics = *m.Topics
	}
	if m.PublishTimeout != nil && *m.PublishTimeout != "" {
		d, err := time.ParseDuration(*m.PublishTimeout)
		if err != nil {
			return messaging.Config{}, fmt.Errorf("invalid messaging.publish_timeout '%s': %w", *m.PublishTimeout, err)
		}
		out.PublishTimeout = d
	}
	if err := out.Validate(); err != nil {
		return messaging.Config{}, err
	}
	return out, nil
}

// GetWorld returns the simulated world. The simulation steps once per
// tick, so its step equals the loop period.
func (c *Config) GetWorld() sim.WorldConfig {
	out := sim.DefaultWorldConfig()
	out.StepDt = c.GetPeriod()
	w := c.World
	if w == nil {
		return out
	}
	if w.Room != nil {
		out.Room = *w.Room
	}
	if w.Boxes != nil {
		out.Boxes = w.Boxes
	}
	if w.Start != nil {
		out.Start = *w.Start
	}
	if w.BaseRadius != nil {
		out.BaseRadius = *w.BaseRadius
	}
	return out
}

// GetCamera returns the head camera config.
func (c *Config) GetCamera() sim.CameraConfig {
	if c.Camera == nil {
		return sim.DefaultCameraConfig()
	}
	return *c.Camera
}

// GetJoystickScale returns the joystick scaling.
func (c *Config) GetJoystickScale() robot.JoystickScale {
	if c.Joystick == nil {
		return robot.DefaultJoystickScale()
	}
	return robot.JoystickScale{
		MaxAdvanceMMs: c.Joystick.MaxAdvanceMMs,
		MaxSideMMs:    c.Joystick.MaxSideMMs,
		MaxRotRads:    c.Joystick.MaxRotRads,
	}
}

// finite reports whether every value is a finite number.
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
