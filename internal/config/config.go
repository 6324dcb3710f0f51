// Package config manages persistent HostLink connection preferences.
// Settings are stored as YAML at os.UserConfigDir()/hostlink/config.yaml.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all persistent connection preferences for hostlinkctl.
type Config struct {
	SerialPort     string  `yaml:"serial_port"`
	SerialBaud     int     `yaml:"serial_baud"`
	ReplayFile     string  `yaml:"replay_file"`
	ReplaySpeed    float64 `yaml:"replay_speed"`
	SelfNodeID     uint32  `yaml:"self_node_id"`
	AckTimeoutMs   int     `yaml:"ack_timeout_ms"`
	MaxRetries     int     `yaml:"max_retries"`
	ReconnectMs    int     `yaml:"reconnect_delay_ms"`
	AutoReconnect  bool    `yaml:"auto_reconnect"`
}

// Default returns a Config populated with sensible defaults for a direct
// serial link.
func Default() Config {
	return Config{
		SerialBaud:    115200,
		ReplaySpeed:   1.0,
		AckTimeoutMs:  2000,
		MaxRetries:    3,
		ReconnectMs:   3000,
		AutoReconnect: true,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hostlink", "config.yaml"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
