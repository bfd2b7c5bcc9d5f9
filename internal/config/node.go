// Package config loads the node configuration file. Every field is
// optional; the Get* accessors supply defaults for anything omitted, and
// command-line flags override the file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/serialmux"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/trigger"
)

// NodeConfig is the root of the node configuration file.
type NodeConfig struct {
	// Camera
	CameraName     *string `json:"camera_name,omitempty"`
	FreeRunning    *bool   `json:"free_running,omitempty"`
	SamplePeriodUS *int64  `json:"sample_period_us,omitempty"`
	TriggerLine    *string `json:"trigger_line,omitempty"`

	// Acquisition loop
	BufferCount *int    `json:"buffer_count,omitempty"`
	GrabTimeout *string `json:"grab_timeout,omitempty"` // duration string like "500ms"
	MaxTimeouts *int    `json:"max_timeouts,omitempty"`
	MaxFailures *int    `json:"max_failures,omitempty"`

	// Outer surfaces
	MQTT         *MQTTConfig    `json:"mqtt,omitempty"`
	HTTPListen   *string        `json:"http_listen,omitempty"`
	HealthListen *string        `json:"health_listen,omitempty"`
	JournalPath  *string        `json:"journal_path,omitempty"`
	Trigger      *TriggerConfig `json:"trigger,omitempty"`

	LogLevel *string `json:"log_level,omitempty"`
}

// MQTTConfig configures the broker connection. An empty broker disables
// MQTT.
type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         *byte  `json:"qos,omitempty"`
}

// TriggerConfig configures the external trigger generator link. An empty
// port disables the generator.
type TriggerConfig struct {
	SerialPort string `json:"serial_port"`
	serialmux.PortOptions
	trigger.Config
}

// Ptr returns a pointer to v, for building configs in code.
func Ptr[T any](v T) *T { return &v }

// LoadNodeConfig loads a NodeConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &NodeConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *NodeConfig) Validate() error {
	if c.CameraName != nil && strings.TrimSpace(*c.CameraName) == "" {
		return fmt.Errorf("camera_name must not be empty")
	}
	if c.SamplePeriodUS != nil && *c.SamplePeriodUS <= 0 {
		return fmt.Errorf("sample_period_us must be positive, got %d", *c.SamplePeriodUS)
	}
	if c.TriggerLine != nil && strings.TrimSpace(*c.TriggerLine) == "" {
		return fmt.Errorf("trigger_line must not be empty")
	}
	if c.BufferCount != nil && *c.BufferCount < 1 {
		return fmt.Errorf("buffer_count must be at least 1, got %d", *c.BufferCount)
	}
	if c.GrabTimeout != nil && *c.GrabTimeout != "" {
		d, err := time.ParseDuration(*c.GrabTimeout)
		if err != nil {
			return fmt.Errorf("invalid grab_timeout '%s': %w", *c.GrabTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("grab_timeout must be positive, got %s", d)
		}
	}
	if c.MaxTimeouts != nil && *c.MaxTimeouts < 1 {
		return fmt.Errorf("max_timeouts must be at least 1, got %d", *c.MaxTimeouts)
	}
	if c.MaxFailures != nil && *c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1, got %d", *c.MaxFailures)
	}
	if c.MQTT != nil && c.MQTT.QoS != nil && *c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *c.MQTT.QoS)
	}
	if c.Trigger != nil && c.Trigger.SerialPort != "" {
		if _, err := c.Trigger.PortOptions.Normalize(); err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
		if c.Trigger.OffsetUS < 0 {
			return fmt.Errorf("trigger.offset_us must be non-negative, got %d", c.Trigger.OffsetUS)
		}
	}
	if c.LogLevel != nil {
		if _, err := ParseLogLevel(*c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// ParseLogLevel maps debug, info and warn to monitoring levels.
func ParseLogLevel(s string) (monitoring.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return monitoring.LevelDebug, nil
	case "", "info":
		return monitoring.LevelInfo, nil
	case "warn", "warning":
		return monitoring.LevelWarn, nil
	}
	return monitoring.LevelInfo, fmt.Errorf("unknown log_level %q: expected debug, info or warn", s)
}

// GetCameraName returns the camera_name value or the default.
func (c *NodeConfig) GetCameraName() string {
	if c.CameraName == nil {
		return "tofcam"
	}
	return *c.CameraName
}

// GetTriggerKind returns the trigger kind selected by free_running.
func (c *NodeConfig) GetTriggerKind() tof.TriggerKind {
	if c.FreeRunning == nil || *c.FreeRunning {
		return tof.FreeRunning
	}
	return tof.ExternallyTriggered
}

// GetSamplePeriodUS returns the sample_period_us value or the default.
func (c *NodeConfig) GetSamplePeriodUS() int64 {
	if c.SamplePeriodUS == nil {
		return 100000 // 10 Hz
	}
	return *c.SamplePeriodUS
}

// GetTriggerLine returns the trigger_line value or the default.
func (c *NodeConfig) GetTriggerLine() string {
	if c.TriggerLine == nil {
		return tof.DefaultTriggerLine
	}
	return *c.TriggerLine
}

// GetAcquisition returns the acquisition loop settings, defaults filled.
func (c *NodeConfig) GetAcquisition() acquisition.Config {
	cfg := acquisition.DefaultConfig()
	if c.BufferCount != nil {
		cfg.BufferCount = *c.BufferCount
	}
	if c.GrabTimeout != nil && *c.GrabTimeout != "" {
		if d, err := time.ParseDuration(*c.GrabTimeout); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	if c.MaxTimeouts != nil {
		cfg.MaxTimeouts = *c.MaxTimeouts
	}
	if c.MaxFailures != nil {
		cfg.MaxFailures = *c.MaxFailures
	}
	return cfg
}

// GetMQTT returns the MQTT settings; Broker is empty when disabled.
func (c *NodeConfig) GetMQTT() MQTTConfig {
	if c.MQTT == nil {
		return MQTTConfig{}
	}
	m := *c.MQTT
	if m.TopicPrefix == "" {
		m.TopicPrefix = "tofcam/" + c.GetCameraName()
	}
	if m.ClientID == "" {
		m.ClientID = "tofcam-" + c.GetCameraName()
	}
	return m
}

// GetQoS returns the publish QoS or the default of 0.
func (m MQTTConfig) GetQoS() byte {
	if m.QoS == nil {
		return 0
	}
	return *m.QoS
}

// GetHTTPListen returns the http_listen value or the default.
func (c *NodeConfig) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return ":8080"
	}
	return *c.HTTPListen
}

// GetHealthListen returns the health_listen value or the default. Empty
// disables the health service.
func (c *NodeConfig) GetHealthListen() string {
	if c.HealthListen == nil {
		return ":50051"
	}
	return *c.HealthListen
}

// GetJournalPath returns the journal_path value or the default. Empty
// disables the journal.
func (c *NodeConfig) GetJournalPath() string {
	if c.JournalPath == nil {
		return "tofcam.db"
	}
	return *c.JournalPath
}

// GetTrigger returns the trigger generator settings; SerialPort is empty
// when disabled.
func (c *NodeConfig) GetTrigger() TriggerConfig {
	if c.Trigger == nil {
		return TriggerConfig{}
	}
	return *c.Trigger
}

// GetLogLevel returns the parsed log_level, Info by default.
func (c *NodeConfig) GetLogLevel() monitoring.Level {
	if c.LogLevel == nil {
		return monitoring.LevelInfo
	}
	l, _ := ParseLogLevel(*c.LogLevel)
	return l
}
