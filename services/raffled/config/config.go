package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for raffled.
type Config struct {
	ListenAddress string               `yaml:"listen"`
	NodeConfig    string               `yaml:"node_config"`
	Receipts      ReceiptsConfig       `yaml:"receipts"`
	Admin         AdminConfig          `yaml:"admin"`
	RateLimits    map[string]RateLimit `yaml:"ratelimits"`
	Events        EventsConfig         `yaml:"events"`
	Randomness    RandomnessConfig     `yaml:"randomness"`
	Relay         RelayConfig          `yaml:"relay"`
	Recon         ReconConfig          `yaml:"recon"`
	Telemetry     TelemetryConfig      `yaml:"telemetry"`
	Log           LogConfig            `yaml:"log"`
}

// ReceiptsConfig locates the sqlite journal of mutating API calls.
type ReceiptsConfig struct {
	DatabasePath string `yaml:"database"`
}

// AdminConfig describes the bearer tokens accepted on admin routes. Secret is
// usually supplied as ${RAFFLED_ADMIN_SECRET} and expanded at load time.
type AdminConfig struct {
	Issuer   string   `yaml:"issuer"`
	Audience string   `yaml:"audience"`
	Secret   string   `yaml:"secret"`
	Leeway   Duration `yaml:"leeway"`
}

// RateLimit bounds request rates for one public surface.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// EventsConfig tunes the websocket event stream.
type EventsConfig struct {
	Backlog int `yaml:"backlog"`
}

// RandomnessConfig drives the simulated randomness provider.
type RandomnessConfig struct {
	Seed            string   `yaml:"seed"`
	FulfillInterval Duration `yaml:"fulfill_interval"`
}

// RelayConfig locates the delivery journal and tunes the pump.
type RelayConfig struct {
	JournalPath  string   `yaml:"journal"`
	PollInterval Duration `yaml:"poll_interval"`
}

// ReconConfig controls periodic ledger snapshot exports.
type ReconConfig struct {
	Enabled   bool     `yaml:"enabled"`
	OutputDir string   `yaml:"output_dir"`
	Interval  Duration `yaml:"interval"`
}

// TelemetryConfig mirrors the OTLP exporter knobs.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

// LogConfig selects optional file logging alongside stdout.
type LogConfig struct {
	FilePath   string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path. Environment variable
// references (e.g. ${RAFFLED_ADMIN_SECRET}) are expanded before decoding so
// secrets stay out of the file itself.
func Load(path string) (Config, error) {
	cfg := Config{}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8418"
	}
	if cfg.NodeConfig == "" {
		cfg.NodeConfig = "config.toml"
	}
	if cfg.Receipts.DatabasePath == "" {
		cfg.Receipts.DatabasePath = "raffled-receipts.sqlite"
	}
	if cfg.Admin.Issuer == "" {
		cfg.Admin.Issuer = "rafflenet"
	}
	if cfg.Admin.Audience == "" {
		cfg.Admin.Audience = "raffled"
	}
	if cfg.Admin.Leeway.Duration == 0 {
		cfg.Admin.Leeway.Duration = 30 * time.Second
	}
	if cfg.Events.Backlog <= 0 {
		cfg.Events.Backlog = 2048
	}
	if cfg.Randomness.FulfillInterval.Duration == 0 {
		cfg.Randomness.FulfillInterval.Duration = 2 * time.Second
	}
	if cfg.Relay.JournalPath == "" {
		cfg.Relay.JournalPath = "raffled-relay.db"
	}
	if cfg.Relay.PollInterval.Duration == 0 {
		cfg.Relay.PollInterval.Duration = 500 * time.Millisecond
	}
	if cfg.Recon.Interval.Duration == 0 {
		cfg.Recon.Interval.Duration = time.Hour
	}
}

func validate(cfg Config) error {
	if cfg.Admin.Secret == "" {
		return fmt.Errorf("admin secret must be configured")
	}
	if cfg.Recon.Enabled && cfg.Recon.OutputDir == "" {
		return fmt.Errorf("recon output_dir must be set when recon is enabled")
	}
	for surface, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("ratelimits.%s: requests_per_minute must be positive", surface)
		}
	}
	return nil
}
