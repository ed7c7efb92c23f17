package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Network  NetworkConfig  `yaml:"network"`
	Takeover TakeoverConfig `yaml:"takeover"`
	Capture  CaptureConfig  `yaml:"capture"`
	Web      WebConfig      `yaml:"web"`
	Console  ConsoleConfig  `yaml:"console"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level           string `yaml:"level"`            // debug, info, warn, error
	TimestampFormat string `yaml:"timestamp_format"` // "time" or "unix"
	File            string `yaml:"file"`             // optional rotating log file
	FileMaxSizeMB   int    `yaml:"file_max_size_mb"` // rotation threshold (default: 20)
	FileMaxBackups  int    `yaml:"file_max_backups"` // rotated files to keep (default: 3)
}

// NetworkConfig contains the proxy endpoints.
//
// The proxy sits between a ground controller and the vehicle autopilot:
// controller traffic arrives on ControllerListenPort and is relayed to
// VehicleIP:VehiclePort; vehicle telemetry arrives on VehicleListenPort and
// is relayed to ControllerIP:ControllerTelemPort.
type NetworkConfig struct {
	ControllerListenPort int    `yaml:"controller_listen_port"` // default 14556
	VehicleListenPort    int    `yaml:"vehicle_listen_port"`    // default 14557
	ControllerIP         string `yaml:"controller_ip"`          // source filter + telemetry destination
	ControllerTelemPort  int    `yaml:"controller_telem_port"`  // default 14557
	VehicleIP            string `yaml:"vehicle_ip"`             // required
	VehiclePort          int    `yaml:"vehicle_port"`           // default 14556
}

// TakeoverConfig contains setpoint substitution settings
type TakeoverConfig struct {
	DefaultInjectHz float64 `yaml:"default_inject_hz"` // used until a rate has been learned (default: 10)
	DecideTimeoutMs int     `yaml:"decide_timeout_ms"` // how long the router waits for an operator decision on a changed setpoint (default: 0, non-blocking)
}

// CaptureConfig selects link-layer ingestion for the controller direction.
// When enabled, the controller-facing UDP port is not bound; datagrams are
// recovered from raw frames on Interface instead. Forward controls whether
// capture-ingested datagrams are relayed to the vehicle or only observed.
type CaptureConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	Forward   bool   `yaml:"forward"`
}

// WebConfig contains control-plane API settings
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"` // default 5900
}

// ConsoleConfig toggles the interactive terminal operator
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in unset fields with the standard proxy ports.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.FileMaxSizeMB <= 0 {
		c.Log.FileMaxSizeMB = 20
	}
	if c.Log.FileMaxBackups <= 0 {
		c.Log.FileMaxBackups = 3
	}
	if c.Network.ControllerListenPort == 0 {
		c.Network.ControllerListenPort = 14556
	}
	if c.Network.VehicleListenPort == 0 {
		c.Network.VehicleListenPort = 14557
	}
	if c.Network.ControllerTelemPort == 0 {
		c.Network.ControllerTelemPort = 14557
	}
	if c.Network.VehiclePort == 0 {
		c.Network.VehiclePort = 14556
	}
	if c.Takeover.DefaultInjectHz <= 0 {
		c.Takeover.DefaultInjectHz = 10.0
	}
	if c.Web.Port == 0 {
		c.Web.Port = 5900
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Network.VehicleIP == "" {
		return fmt.Errorf("network.vehicle_ip cannot be empty")
	}
	if err := checkPort("network.controller_listen_port", c.Network.ControllerListenPort); err != nil {
		return err
	}
	if err := checkPort("network.vehicle_listen_port", c.Network.VehicleListenPort); err != nil {
		return err
	}
	if err := checkPort("network.controller_telem_port", c.Network.ControllerTelemPort); err != nil {
		return err
	}
	if err := checkPort("network.vehicle_port", c.Network.VehiclePort); err != nil {
		return err
	}
	if c.Takeover.DecideTimeoutMs < 0 {
		return fmt.Errorf("takeover.decide_timeout_ms cannot be negative")
	}
	if c.Capture.Enabled && c.Capture.Interface == "" {
		return fmt.Errorf("capture.interface cannot be empty when capture is enabled")
	}
	if c.Web.Enabled {
		if err := checkPort("web.port", c.Web.Port); err != nil {
			return err
		}
	}
	return nil
}

func checkPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", name)
	}
	return nil
}

// VehicleAddr returns the address control traffic is forwarded to.
func (c *Config) VehicleAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.VehicleIP, c.Network.VehiclePort)
}

// ControllerTelemAddr returns the address telemetry is forwarded to, or ""
// when no controller IP is configured and the address must be learned from
// traffic.
func (c *Config) ControllerTelemAddr() string {
	if c.Network.ControllerIP == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Network.ControllerIP, c.Network.ControllerTelemPort)
}
