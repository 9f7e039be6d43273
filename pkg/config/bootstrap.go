package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the bootstrap file looked up in the config directory.
const FileName = "driverstation_config.yaml"

// BootstrapConfig holds the configuration loaded from driverstation_config.yaml
type BootstrapConfig struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Team     TeamConfig     `yaml:"team"`
	Link     LinkConfig     `yaml:"link"`
	Input    InputConfig    `yaml:"input"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Server   ServerConfig   `yaml:"server"`
	Events   EventsConfig   `yaml:"events"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// TeamConfig identifies the robot and the console's field position
type TeamConfig struct {
	Number           int    `yaml:"number"`
	ConnectOnStartup bool   `yaml:"connect_on_startup"`
	Alliance         string `yaml:"alliance"`
	Station          int    `yaml:"station"`
}

// LinkConfig holds robot link and key-value transport settings
type LinkConfig struct {
	AddressOverride     string `yaml:"address_override,omitempty"`
	Port                int    `yaml:"port"`
	ConnectTimeoutMs    int    `yaml:"connect_timeout_ms"`
	RequestTimeoutMs    int    `yaml:"request_timeout_ms"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	TelemetryHz         int    `yaml:"telemetry_hz"`
	MaxReadFailures     int    `yaml:"max_read_failures"`
}

// InputConfig selects the joystick backend and its polling behavior
type InputConfig struct {
	Backend     string    `yaml:"backend"`
	Deadzone    float64   `yaml:"deadzone"`
	DeviceIndex int       `yaml:"device_index"`
	PollHz      int       `yaml:"poll_hz"`
	MaxDevices  int       `yaml:"max_devices"`
	HID         HIDConfig `yaml:"hid"`
}

// HIDConfig describes raw HID devices and their report layout
type HIDConfig struct {
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	ReportSize   int    `yaml:"report_size"`
	AxisOffsets  []int  `yaml:"axis_offsets"`
	ButtonOffset int    `yaml:"button_offset"`
	ButtonCount  int    `yaml:"button_count"`
}

// DispatchConfig holds the dispatch loop rate
type DispatchConfig struct {
	RateHz int `yaml:"rate_hz"`
}

// ServerConfig holds HTTP control surface settings
type ServerConfig struct {
	HTTPPort int  `yaml:"http_port"`
	Enabled  bool `yaml:"enabled"`
}

// EventsConfig holds the optional NATS relay
type EventsConfig struct {
	NatsURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultBootstrapConfig returns the settings used for anything the file leaves out.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Team: TeamConfig{
			Number:           2026,
			ConnectOnStartup: true,
			Alliance:         "blue",
			Station:          1,
		},
		Link: LinkConfig{
			Port:                5810,
			ConnectTimeoutMs:    5000,
			RequestTimeoutMs:    200,
			HeartbeatIntervalMs: 250,
			TelemetryHz:         10,
			MaxReadFailures:     3,
		},
		Input: InputConfig{
			Backend:    "sdl",
			Deadzone:   0.1,
			PollHz:     50,
			MaxDevices: 16,
			HID: HIDConfig{
				ReportSize:   14,
				AxisOffsets:  []int{6, 8, 10, 12},
				ButtonOffset: 2,
				ButtonCount:  16,
			},
		},
		Dispatch: DispatchConfig{RateHz: 50},
		Server:   ServerConfig{HTTPPort: 8080, Enabled: true},
		Events:   EventsConfig{SubjectPrefix: "driverstation.events"},
	}
}

// LoadBootstrapConfig loads the bootstrap configuration from driverstation_config.yaml.
// A missing file yields the defaults.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	path := filepath.Join(configDir, FileName)
	cfg := DefaultBootstrapConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bootstrap config file '%s': %w", path, err)
	}
	return &cfg, nil
}

// Validate names the first field that is out of range.
func (c *BootstrapConfig) Validate() error {
	switch {
	case c.Team.Number < 1 || c.Team.Number > 9999:
		return fmt.Errorf("team.number must be 1-9999, got %d", c.Team.Number)
	case c.Team.Alliance != "red" && c.Team.Alliance != "blue":
		return fmt.Errorf("team.alliance must be red or blue, got %q", c.Team.Alliance)
	case c.Team.Station < 1 || c.Team.Station > 3:
		return fmt.Errorf("team.station must be 1-3, got %d", c.Team.Station)
	case c.Link.Port < 1 || c.Link.Port > 65535:
		return fmt.Errorf("link.port must be 1-65535, got %d", c.Link.Port)
	case c.Link.ConnectTimeoutMs <= 0:
		return fmt.Errorf("link.connect_timeout_ms must be positive")
	case c.Link.RequestTimeoutMs <= 0:
		return fmt.Errorf("link.request_timeout_ms must be positive")
	case c.Link.HeartbeatIntervalMs <= 0:
		return fmt.Errorf("link.heartbeat_interval_ms must be positive")
	case c.Link.TelemetryHz <= 0:
		return fmt.Errorf("link.telemetry_hz must be positive")
	case c.Link.MaxReadFailures <= 0:
		return fmt.Errorf("link.max_read_failures must be positive")
	case c.Input.Backend != "sdl" && c.Input.Backend != "hid":
		return fmt.Errorf("input.backend must be sdl or hid, got %q", c.Input.Backend)
	case c.Input.Deadzone < 0 || c.Input.Deadzone >= 1:
		return fmt.Errorf("input.deadzone must be in [0, 1), got %v", c.Input.Deadzone)
	case c.Input.MaxDevices <= 0:
		return fmt.Errorf("input.max_devices must be positive")
	case c.Input.DeviceIndex < 0 || c.Input.DeviceIndex >= c.Input.MaxDevices:
		return fmt.Errorf("input.device_index must be in [0, %d), got %d", c.Input.MaxDevices, c.Input.DeviceIndex)
	case c.Input.PollHz <= 0:
		return fmt.Errorf("input.poll_hz must be positive")
	case c.Dispatch.RateHz <= 0:
		return fmt.Errorf("dispatch.rate_hz must be positive")
	case c.Server.Enabled && (c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535):
		return fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.HTTPPort)
	case c.Events.NatsURL != "" && !strings.Contains(c.Events.NatsURL, "://"):
		return fmt.Errorf("events.nats_url must be a URL, got %q", c.Events.NatsURL)
	}
	return nil
}
