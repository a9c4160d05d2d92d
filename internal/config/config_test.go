package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/laserrpc"
	"github.com/banshee-data/omnilaser/internal/messaging"
	"github.com/banshee-data/omnilaser/internal/robot"
	"github.com/banshee-data/omnilaser/internal/sim"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsFileMatchesBuiltInRig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	if diff := cmp.Diff(sim.DefaultSensors(), reg.Sensors(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("default sensors mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 80*time.Millisecond, cfg.GetPeriod())
	assert.Equal(t, int32(200), cfg.GetFallbackMM())
	assert.Equal(t, laserrpc.DefaultConfig(), cfg.GetGRPC())
	assert.Equal(t, robot.DefaultJoystickScale(), cfg.GetJoystickScale())
	if diff := cmp.Diff(sim.DefaultCameraConfig(), cfg.GetCamera(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("camera mismatch (-want +got):\n%s", diff)
	}

	_, enabled := cfg.GetMessaging()
	assert.False(t, enabled, "messaging ships disabled")
	assert.Empty(t, cfg.GetDBPath())
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 80*time.Millisecond, cfg.GetPeriod())
	assert.False(t, cfg.GetAbortOnCaptureError())
	assert.Equal(t, fusion.DefaultFallbackMM, cfg.GetFallbackMM())
	assert.Equal(t, sim.DefaultMaxDepth, cfg.GetMaxDepth())
	assert.Equal(t, "localhost:8090", cfg.GetHTTPAddress())
	assert.Equal(t, laserrpc.DefaultConfig(), cfg.GetGRPC())

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	world := cfg.GetWorld()
	assert.Equal(t, 80*time.Millisecond, world.StepDt)
	assert.Len(t, world.Boxes, 2)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "rig.yaml", `
period: 100ms
abort_on_capture_error: true
sensors:
  - id: 7
    resolution: 64
    half_angle: 0.5
    matrix: [1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]
  - id: 3
    name: rear
    resolution: 32
    half_angle: 0.6
    mount: {yaw: 3.14159, x: 0, y: -0.3, z: 0.1}
grpc:
  listen_addr: ":6000"
  max_clients: 2
messaging:
  backend: mqtt
  mqtt: {broker: broker.local, port: 1883, client_id: rig}
  publish_timeout: 25ms
world:
  boxes: []
  start: {x: 1, y: -1, heading: 0}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.GetPeriod())
	assert.True(t, cfg.GetAbortOnCaptureError())

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())
	first, err := reg.Lookup(7)
	require.NoError(t, err)
	assert.Equal(t, "sensor-7", first.Name)
	assert.Equal(t, fusion.Identity(), first.Mount)
	rear, err := reg.Lookup(3)
	require.NoError(t, err)
	assert.Equal(t, "rear", rear.Name)

	g := cfg.GetGRPC()
	assert.Equal(t, ":6000", g.ListenAddr)
	assert.Equal(t, 2, g.MaxClients)
	assert.Equal(t, laserrpc.DefaultConfig().QueueSize, g.QueueSize)

	m, enabled := cfg.GetMessaging()
	require.True(t, enabled)
	assert.Equal(t, messaging.BackendMQTT, m.Backend)
	assert.Equal(t, "broker.local", m.MQTT.Broker)
	assert.Equal(t, 25*time.Millisecond, m.PublishTimeout)
	assert.Equal(t, messaging.DefaultTopics(), m.Topics)

	world := cfg.GetWorld()
	assert.Empty(t, world.Boxes)
	assert.Equal(t, robot.Pose2D{X: 1, Y: -1}, world.Start)
	assert.Equal(t, 100*time.Millisecond, world.StepDt)
	assert.Equal(t, sim.DefaultWorldConfig().Room, world.Room)
}

func TestLoadJSONPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"fallback_mm": 150, "db_path": "runs.db"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int32(150), cfg.GetFallbackMM())
	assert.Equal(t, "runs.db", cfg.GetDBPath())
	assert.Equal(t, 80*time.Millisecond, cfg.GetPeriod())
}

func TestLoadRejects(t *testing.T) {
	sensor := func(extra string) string {
		return `{"sensors": [{"id": 1, "resolution": 10, "half_angle": 0.5` + extra + `}]}`
	}
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "cfg.toml", `{}`, "extension"},
		{"syntax", "cfg.json", `{"period": `, "failed to parse"},
		{"period", "cfg.json", `{"period": "soon"}`, "invalid period"},
		{"negative period", "cfg.json", `{"period": "-80ms"}`, "period must be positive"},
		{"fallback", "cfg.json", `{"fallback_mm": 0}`, "fallback_mm"},
		{"max depth", "cfg.json", `{"max_depth": 0}`, "max_depth"},
		{"no mount", "cfg.json", sensor(``), "mount or matrix is required"},
		{"mount and matrix", "cfg.json", sensor(`, "mount": {"yaw": 0}, "matrix": [1]`), "not both"},
		{"short matrix", "cfg.json", sensor(`, "matrix": [1, 0, 0]`), "16 values"},
		{"scaled matrix", "cfg.json", sensor(`, "matrix": [2,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]`), "rigid"},
		{"half angle", "cfg.json", `{"sensors": [{"id": 1, "resolution": 10, "half_angle": 1.6, "mount": {"yaw": 0}}]}`, "half-angle"},
		{"resolution", "cfg.json", `{"sensors": [{"id": 1, "resolution": 0, "half_angle": 0.5, "mount": {"yaw": 0}}]}`, "resolution"},
		{"duplicate id", "cfg.json", `{"sensors": [
			{"id": 1, "resolution": 10, "half_angle": 0.5, "mount": {"yaw": 0}},
			{"id": 1, "resolution": 10, "half_angle": 0.5, "mount": {"yaw": 1}}]}`, "duplicate sensor id 1"},
		{"grpc clients", "cfg.json", `{"grpc": {"max_clients": 0}}`, "grpc.max_clients"},
		{"backend", "cfg.json", `{"messaging": {"backend": "amqp"}}`, "unknown backend"},
		{"mqtt broker", "cfg.yml", "messaging:\n  backend: mqtt\n", "broker is required"},
		{"publish timeout", "cfg.json", `{"messaging": {"backend": "kafka", "kafka": {"brokers": ["k:9092"]}, "publish_timeout": "x"}}`, "publish_timeout"},
		{"camera", "cfg.json", `{"camera": {"width": 0, "height": 10}}`, "camera size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRejectsLargeFile(t *testing.T) {
	body := `{"db_path": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := Load(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestGetPeriodIgnoresGarbage(t *testing.T) {
	cfg := &Config{Period: ptrString("often")}
	assert.Equal(t, 80*time.Millisecond, cfg.GetPeriod())
}

func TestMountRejectsNonFinite(t *testing.T) {
	cfg := &Config{Sensors: []SensorEntry{{
		ID: 1, Resolution: 8, HalfAngle: 0.5,
		Mount: &MountConfig{Yaw: math.NaN()},
	}}}
	require.Error(t, cfg.Validate())
}

func TestGRPCOverrides(t *testing.T) {
	cfg := &Config{GRPC: &GRPCConfig{QueueSize: ptrInt(64), ClientBuffer: ptrInt(1)}}
	require.NoError(t, cfg.Validate())
	g := cfg.GetGRPC()
	assert.Equal(t, 64, g.QueueSize)
	assert.Equal(t, 1, g.ClientBuffer)
	assert.Equal(t, laserrpc.DefaultConfig().ListenAddr, g.ListenAddr)
}
