package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Geo             GeoConfig         `yaml:"geo"`
	Link            LinkConfig        `yaml:"link"`
	Scheduler       SchedulerConfig   `yaml:"scheduler"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
	Devices         []DeviceConfig    `yaml:"devices"`
}

// GeoConfig contains geo/location settings for astronomical calculations
type GeoConfig struct {
	Name        string   `yaml:"name"`
	Timezone    string   `yaml:"timezone"`
	Lat         float64  `yaml:"lat,omitempty"`
	Lon         float64  `yaml:"lon,omitempty"`
	HTTPTimeout Duration `yaml:"http_timeout"` // Timeout for geocoding HTTP requests
}

// HasCoordinates reports whether lat/lon are configured (no geocoding needed).
func (c *GeoConfig) HasCoordinates() bool {
	return c.Lat != 0 || c.Lon != 0
}

// Location loads the configured timezone.
func (c *GeoConfig) Location() (*time.Location, error) {
	tz, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return tz, nil
}

// LinkConfig contains the serial link to the PowerLinc Modem
type LinkConfig struct {
	Port     string   `yaml:"port"`
	BaudRate int      `yaml:"baud_rate"`
	Settle   Duration `yaml:"settle"`  // Minimum spacing between two frames
	DryRun   bool     `yaml:"dry_run"` // Log frames instead of writing them
}

// SchedulerConfig contains trigger scheduling settings
type SchedulerConfig struct {
	StaggerStep Duration `yaml:"stagger_step"` // Per-rule offset so devices never fire together
	Workers     int      `yaml:"workers"`      // Trigger worker goroutines (default: 4)
	QueueSize   int      `yaml:"queue_size"`   // Pending trigger queue (default: 100)

	RefreshRetry    Duration `yaml:"refresh_retry"`    // First wait after a failed refresh, doubled per attempt
	RefreshAttempts int      `yaml:"refresh_attempts"` // Retries before waiting for the next midnight (default: 5)
}

// GetWorkers returns worker count with default
func (c *SchedulerConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *SchedulerConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetRefreshAttempts returns refresh retry count with default
func (c *SchedulerConfig) GetRefreshAttempts() int {
	if c.RefreshAttempts <= 0 {
		return 5
	}
	return c.RefreshAttempts
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level         string `yaml:"level"`
	Colors        bool   `yaml:"colors"`
	UseJSON       bool   `yaml:"use_json"`
	PrintSchedule bool   `yaml:"print_schedule"` // Print the day's schedule after every refresh
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled           *bool    `yaml:"enabled"`
	RetentionPeriod   Duration `yaml:"retention_period"`
	RetentionInterval Duration `yaml:"retention_interval"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig contains the optional DogStatsD mirror of the Prometheus metrics
type MetricsConfig struct {
	StatsdAddr string   `yaml:"statsd_addr"`
	Namespace  string   `yaml:"namespace"`
	Tags       []string `yaml:"tags"`
}

// DeviceConfig is one row of the device table as written in YAML.
type DeviceConfig struct {
	Name    string        `yaml:"name"`
	Address string        `yaml:"address"`
	On      TriggerConfig `yaml:"on"`
	Off     TriggerConfig `yaml:"off"`
	Days    []string      `yaml:"days"`
	Level   *int          `yaml:"level"`
}

// TriggerConfig is either a clock time ("HH:MM") or a solar event, plus an offset.
type TriggerConfig struct {
	Time   string `yaml:"time"`
	Event  string `yaml:"event"`
	Offset int    `yaml:"offset"` // minutes, may be negative
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// GetShutdownTimeout returns the general shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from raw YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./insteond.sqlite"
	}

	// Geo defaults
	if cfg.Geo.Timezone == "" {
		cfg.Geo.Timezone = "UTC"
	}
	if cfg.Geo.HTTPTimeout == 0 {
		cfg.Geo.HTTPTimeout = Duration(10 * time.Second)
	}

	// Link defaults (PLM talks 19200 8N1)
	if cfg.Link.Port == "" {
		cfg.Link.Port = "/dev/ttyUSB0"
	}
	if cfg.Link.BaudRate == 0 {
		cfg.Link.BaudRate = 19200
	}
	if cfg.Link.Settle == 0 {
		cfg.Link.Settle = Duration(1 * time.Second)
	}

	if cfg.Scheduler.StaggerStep == 0 {
		cfg.Scheduler.StaggerStep = Duration(2 * time.Second)
	}
	if cfg.Scheduler.RefreshRetry == 0 {
		cfg.Scheduler.RefreshRetry = Duration(30 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.RetentionPeriod == 0 {
		cfg.Ledger.RetentionPeriod = Duration(30 * 24 * time.Hour)
	}
	if cfg.Ledger.RetentionInterval == 0 {
		cfg.Ledger.RetentionInterval = Duration(24 * time.Hour)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "insteond."
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
