package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/serialmux"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := &NodeConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tofcam", cfg.GetCameraName())
	assert.Equal(t, tof.FreeRunning, cfg.GetTriggerKind())
	assert.Equal(t, int64(100000), cfg.GetSamplePeriodUS())
	assert.Equal(t, tof.DefaultTriggerLine, cfg.GetTriggerLine())
	assert.Equal(t, acquisition.DefaultConfig(), cfg.GetAcquisition())
	assert.Equal(t, MQTTConfig{}, cfg.GetMQTT())
	assert.Equal(t, ":8080", cfg.GetHTTPListen())
	assert.Equal(t, ":50051", cfg.GetHealthListen())
	assert.Equal(t, "tofcam.db", cfg.GetJournalPath())
	assert.Empty(t, cfg.GetTrigger().SerialPort)
	assert.Equal(t, monitoring.LevelInfo, cfg.GetLogLevel())
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, "node.json", `{
  "camera_name": "rear",
  "free_running": false,
  "sample_period_us": 50000,
  "trigger_line": "Line2",
  "buffer_count": 8,
  "grab_timeout": "250ms",
  "max_timeouts": 3,
  "max_failures": 4,
  "mqtt": {"broker": "tcp://localhost:1883", "qos": 1},
  "http_listen": "127.0.0.1:9000",
  "health_listen": "",
  "journal_path": "",
  "trigger": {"serial_port": "/dev/ttyUSB0", "baud_rate": 57600, "generator_id": 3, "camera_output": 2, "offset_us": 100},
  "log_level": "debug"
}`)

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "rear", cfg.GetCameraName())
	assert.Equal(t, tof.ExternallyTriggered, cfg.GetTriggerKind())
	assert.Equal(t, int64(50000), cfg.GetSamplePeriodUS())
	assert.Equal(t, "Line2", cfg.GetTriggerLine())
	assert.Equal(t, acquisition.Config{BufferCount: 8, Timeout: 250 * time.Millisecond, MaxTimeouts: 3, MaxFailures: 4}, cfg.GetAcquisition())

	m := cfg.GetMQTT()
	assert.Equal(t, "tcp://localhost:1883", m.Broker)
	assert.Equal(t, "tofcam/rear", m.TopicPrefix)
	assert.Equal(t, "tofcam-rear", m.ClientID)
	assert.Equal(t, byte(1), m.GetQoS())

	assert.Equal(t, "127.0.0.1:9000", cfg.GetHTTPListen())
	assert.Empty(t, cfg.GetHealthListen())
	assert.Empty(t, cfg.GetJournalPath())

	tr := cfg.GetTrigger()
	assert.Equal(t, "/dev/ttyUSB0", tr.SerialPort)
	assert.Equal(t, serialmux.PortOptions{BaudRate: 57600}, tr.PortOptions)
	assert.Equal(t, 3, tr.GeneratorID)
	assert.Equal(t, 2, tr.CameraOutput)
	assert.Equal(t, int64(100), tr.OffsetUS)

	assert.Equal(t, monitoring.LevelDebug, cfg.GetLogLevel())
}

func TestLoadNodeConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"grab_timeout": "1s"}`)
	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)

	acq := cfg.GetAcquisition()
	assert.Equal(t, time.Second, acq.Timeout)
	assert.Equal(t, acquisition.DefaultConfig().BufferCount, acq.BufferCount)
	assert.Equal(t, "tofcam", cfg.GetCameraName())
}

func TestLoadNodeConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "node.yaml", `{}`, ".json extension"},
		{"bad json", "node.json", `{`, "failed to parse"},
		{"unknown field", "node.json", `{"camera": "x"}`, "failed to parse"},
		{"empty name", "node.json", `{"camera_name": " "}`, "camera_name"},
		{"zero period", "node.json", `{"sample_period_us": 0}`, "sample_period_us"},
		{"empty line", "node.json", `{"trigger_line": ""}`, "trigger_line"},
		{"zero buffers", "node.json", `{"buffer_count": 0}`, "buffer_count"},
		{"bad timeout", "node.json", `{"grab_timeout": "soon"}`, "grab_timeout"},
		{"negative timeout", "node.json", `{"grab_timeout": "-1s"}`, "grab_timeout"},
		{"zero max timeouts", "node.json", `{"max_timeouts": 0}`, "max_timeouts"},
		{"zero max failures", "node.json", `{"max_failures": 0}`, "max_failures"},
		{"bad qos", "node.json", `{"mqtt": {"broker": "tcp://x:1883", "qos": 3}}`, "qos"},
		{"bad parity", "node.json", `{"trigger": {"serial_port": "/dev/ttyS0", "parity": "Q"}}`, "trigger"},
		{"negative offset", "node.json", `{"trigger": {"serial_port": "/dev/ttyS0", "offset_us": -5}}`, "offset_us"},
		{"bad log level", "node.json", `{"log_level": "loud"}`, "log_level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.body)
			_, err := LoadNodeConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadNodeConfig_Missing(t *testing.T) {
	_, err := LoadNodeConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadNodeConfig_TooLarge(t *testing.T) {
	body := `{"camera_name": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadNodeConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]monitoring.Level{
		"debug": monitoring.LevelDebug, "INFO": monitoring.LevelInfo, "": monitoring.LevelInfo,
		"warn": monitoring.LevelWarn, "warning": monitoring.LevelWarn,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestPtr(t *testing.T) {
	cfg := &NodeConfig{CameraName: Ptr("side"), MaxTimeouts: Ptr(2)}
	assert.Equal(t, "side", cfg.GetCameraName())
	assert.Equal(t, 2, cfg.GetAcquisition().MaxTimeouts)
}
