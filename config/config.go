// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
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

// Config captures the runtime configuration for recvaultd.
type Config struct {
	ListenAddress  string           `yaml:"listen"`
	Environment    string           `yaml:"env"`
	DataDir        string           `yaml:"data_dir"`
	CompliancePath string           `yaml:"compliance"`
	PausedModules  []string         `yaml:"paused_modules"`
	Quota          QuotaConfig      `yaml:"quota"`
	Auth           AuthConfig       `yaml:"auth"`
	RateLimits     map[string]Limit `yaml:"rate_limits"`
	Reconciler     ReconcilerConfig `yaml:"reconciler"`
	Telemetry      TelemetryConfig  `yaml:"telemetry"`
}

// QuotaConfig bounds per-originator submissions.
type QuotaConfig struct {
	MaxSubmissionsPerEpoch uint32 `yaml:"max_submissions_per_epoch"`
	MaxFaceValuePerEpoch   uint64 `yaml:"max_face_value_per_epoch"`
	EpochSeconds           uint32 `yaml:"epoch_seconds"`
}

// AuthConfig configures bearer-token authentication for mutating routes.
type AuthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	HMACSecret     string `yaml:"hmac_secret"`
	HMACSecretFile string `yaml:"hmac_secret_file"`
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
}

// Limit describes a per-client request budget for one route group.
type Limit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// ReconcilerConfig configures the reconciliation monitor.
type ReconcilerConfig struct {
	Enabled         bool            `yaml:"enabled"`
	VerifyInterval  Duration        `yaml:"verify_interval"`
	PaymentInterval Duration        `yaml:"payment_interval"`
	CallTimeout     Duration        `yaml:"call_timeout"`
	SourceRate      float64         `yaml:"source_rate"`
	SourceBurst     int             `yaml:"source_burst"`
	AuditPath       string          `yaml:"audit_path"`
	Simulated       SimulatedConfig `yaml:"simulated"`
}

// SimulatedConfig tunes the built-in verification source used when no real
// backend is wired.
type SimulatedConfig struct {
	VerifyFailureBp uint32   `yaml:"verify_failure_bp"`
	ErrorBp         uint32   `yaml:"error_bp"`
	PartialBp       uint32   `yaml:"partial_bp"`
	PayAfter        Duration `yaml:"pay_after"`
	PayAfterJitter  Duration `yaml:"pay_after_jitter"`
	Seed            int64    `yaml:"seed"`
}

// TelemetryConfig controls the OpenTelemetry exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// Load reads configuration from the supplied path. A missing path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		file, err := os.Open(trimmed)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7420"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = 60
	}
	if cfg.Reconciler.VerifyInterval.Duration == 0 {
		cfg.Reconciler.VerifyInterval.Duration = 30 * time.Second
	}
	if cfg.Reconciler.PaymentInterval.Duration == 0 {
		cfg.Reconciler.PaymentInterval.Duration = time.Minute
	}
	if cfg.Reconciler.CallTimeout.Duration == 0 {
		cfg.Reconciler.CallTimeout.Duration = 10 * time.Second
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]Limit{}
	}
}

func (a *AuthConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("auth configuration missing")
	}
	secret := strings.TrimSpace(a.HMACSecret)
	if path := strings.TrimSpace(a.HMACSecretFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.HMACSecret = secret
	if a.Enabled && a.HMACSecret == "" {
		return fmt.Errorf("hmac_secret required when auth is enabled")
	}
	return nil
}
