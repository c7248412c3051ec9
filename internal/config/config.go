package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Provider       string     `yaml:"provider"`                   // watersmart.com subdomain, e.g. "castlerockco"
	Username       string     `yaml:"username"`                   // portal login email
	Password       string     `yaml:"password"`
	Timezone       string     `yaml:"timezone,omitempty"`         // IANA name; defaults to the system zone
	DaysToBackfill int        `yaml:"days_to_backfill,omitempty"` // fallback: 365
	PollSchedule   string     `yaml:"poll_schedule,omitempty"`    // cron expression for daemon mode
	MetricsListen  string     `yaml:"metrics_listen,omitempty"`   // prometheus listen address
	StatsServer    string     `yaml:"stats_server,omitempty"`     // statsd address, disabled when empty
	RatePerGallon  float64    `yaml:"rate_per_gallon,omitempty"`  // cost per gallon for list output
	MQTT           MQTTConfig `yaml:"mqtt,omitempty"`
	HomeAssistant  HAConfig   `yaml:"home_assistant,omitempty"`
}

// MQTTConfig holds broker settings for Home Assistant MQTT discovery
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"` // host:port
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	TopicPrefix     string `yaml:"topic_prefix,omitempty"`     // default: "watersmart"
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"` // default: "homeassistant"
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`   // e.g., "http://yourdomain.local:5050"
	Token   string `yaml:"token"` // Long-lived access token
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv reads the config file and applies credential overrides from the
// environment. A .env file in the working directory is honored if present so
// credentials can stay out of config.yaml.
func LoadWithEnv(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	// Missing .env is fine
	_ = godotenv.Load()

	if v := os.Getenv("WATERSMART_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("WATERSMART_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("WATERSMART_PASSWORD"); v != "" {
		cfg.Password = v
	}

	return cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// Location resolves the configured timezone. When unset it falls back to the
// system zone, which in a container tracks the mounted /etc/localtime.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GetDaysToBackfill returns the backfill window with a default of 365 (the
// portal serves about a year of history per fetch)
func (c *Config) GetDaysToBackfill() int {
	if c.DaysToBackfill <= 0 {
		return 365
	}
	return c.DaysToBackfill
}

// GetPollSchedule returns the daemon cron schedule, defaulting to every six
// hours (the portal refreshes data every 12 to 24h)
func (c *Config) GetPollSchedule() string {
	if c.PollSchedule == "" {
		return "0 */6 * * *"
	}
	return c.PollSchedule
}

// GetMetricsListen returns the prometheus listen address with a default
func (c *Config) GetMetricsListen() string {
	if c.MetricsListen == "" {
		return ":2112"
	}
	return c.MetricsListen
}

// GetTopicPrefix returns the MQTT state topic prefix with a default
func (m MQTTConfig) GetTopicPrefix() string {
	if m.TopicPrefix == "" {
		return "watersmart"
	}
	return m.TopicPrefix
}

// GetDiscoveryPrefix returns the Home Assistant discovery prefix with a default
func (m MQTTConfig) GetDiscoveryPrefix() string {
	if m.DiscoveryPrefix == "" {
		return "homeassistant"
	}
	return m.DiscoveryPrefix
}

// GetRate returns the cost per gallon, or 0 if not set
func (c *Config) GetRate() float64 {
	return c.RatePerGallon
}
