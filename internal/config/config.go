package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Scan      ScanConfig      `yaml:"scan"`
	Provision ProvisionConfig `yaml:"provision"`
	LogLevel  string          `yaml:"log_level"`
}

// DeviceConfig holds sensor selection settings.
type DeviceConfig struct {
	Address    string `yaml:"address"`     // skip scanning when set
	NameFilter string `yaml:"name_filter"` // advertised-name substring, case-insensitive
}

// ScanConfig holds discovery and connection timing.
type ScanConfig struct {
	TimeoutSeconds        int `yaml:"timeout_seconds"`
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// ProvisionConfig holds credential-delivery timing. The defaults match the
// sensor firmware; override only for bench testing.
type ProvisionConfig struct {
	SettleDelayMillis  int `yaml:"settle_delay_ms"`
	PollIntervalMillis int `yaml:"poll_interval_ms"`
	PollBudget         int `yaml:"poll_budget"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "medusa-onboard")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NameFilter: "medusa",
		},
		Scan: ScanConfig{
			TimeoutSeconds:        10,
			ConnectTimeoutSeconds: 15,
		},
		Provision: ProvisionConfig{
			SettleDelayMillis:  100,
			PollIntervalMillis: 1000,
			PollBudget:         30,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NameFilter == "" && c.Device.Address == "" {
		return fmt.Errorf("device.name_filter must not be empty when no device.address is set")
	}

	if c.Scan.TimeoutSeconds <= 0 {
		return fmt.Errorf("scan.timeout_seconds must be > 0")
	}

	if c.Scan.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("scan.connect_timeout_seconds must be > 0")
	}

	if c.Provision.SettleDelayMillis <= 0 {
		return fmt.Errorf("provision.settle_delay_ms must be > 0")
	}

	if c.Provision.PollIntervalMillis <= 0 {
		return fmt.Errorf("provision.poll_interval_ms must be > 0")
	}

	if c.Provision.PollBudget <= 0 {
		return fmt.Errorf("provision.poll_budget must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config to DefaultConfigPath if no
// file exists there yet. It returns the written path, or "" when a config
// already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if path == "" {
		return "", fmt.Errorf("cannot determine config path")
	}

	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# medusa-onboard configuration\n# See README.md for field documentation.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	return path, nil
}

// ParseLogLevel maps a config log_level string to a slog.Level.
// Unknown values default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
