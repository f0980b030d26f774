// Package config handles TOML and YAML configuration for powerswitch.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/powerswitch/internal/ingress"
)

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `toml:"aws" yaml:"aws"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Ingress   IngressConfig   `toml:"ingress" yaml:"ingress"`
	Targeting TargetingConfig `toml:"targeting" yaml:"targeting"`
	OTEL      OTELConfig      `toml:"otel" yaml:"otel"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region" yaml:"region"`
	Profile string `toml:"profile" yaml:"profile"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `toml:"addr" yaml:"addr"`
	MetricsAddr     string        `toml:"metrics_addr" yaml:"metrics_addr"`
	ReadTimeoutStr  string        `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeoutStr string        `toml:"write_timeout" yaml:"write_timeout"`
	ReadTimeout     time.Duration `toml:"-" yaml:"-"`
	WriteTimeout    time.Duration `toml:"-" yaml:"-"`
}

// IngressConfig overrides the ingress rule template written on power-on.
type IngressConfig struct {
	ManagementPorts []int32  `toml:"management_ports" yaml:"management_ports"`
	WebPorts        []int32  `toml:"web_ports" yaml:"web_ports"`
	ProxyCIDRs      []string `toml:"proxy_cidrs" yaml:"proxy_cidrs"`
	ExtraCIDRs      []string `toml:"extra_cidrs" yaml:"extra_cidrs"`
	Parallelism     int      `toml:"parallelism" yaml:"parallelism"`
	DedupeGroups    bool     `toml:"dedupe_groups" yaml:"dedupe_groups"`
}

// TargetingConfig holds optional tag rules applied to eligible instances.
type TargetingConfig struct {
	IncludeTags map[string]string `toml:"include_tags" yaml:"include_tags"`
	ExcludeTags map[string]string `toml:"exclude_tags" yaml:"exclude_tags"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Load reads and parses a config file, then applies environment overrides
// and defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is operator input
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := parseTimeouts(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyEnv overlays POWERSWITCH_* variables. A .env file in the working
// directory is loaded first when present; real environment variables win.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	setFromEnv(&cfg.AWS.Region, "POWERSWITCH_REGION")
	setFromEnv(&cfg.AWS.Profile, "POWERSWITCH_PROFILE")
	setFromEnv(&cfg.Server.Addr, "POWERSWITCH_ADDR")
	setFromEnv(&cfg.Server.MetricsAddr, "POWERSWITCH_METRICS_ADDR")
	setFromEnv(&cfg.Log.Level, "POWERSWITCH_LOG_LEVEL")
	setFromEnv(&cfg.OTEL.Endpoint, "POWERSWITCH_OTEL_ENDPOINT")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Server.ReadTimeoutStr == "" {
		cfg.Server.ReadTimeoutStr = "10s"
	}
	if cfg.Server.WriteTimeoutStr == "" {
		cfg.Server.WriteTimeoutStr = "60s"
	}
	if cfg.Ingress.Parallelism == 0 {
		cfg.Ingress.Parallelism = 1
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "powerswitch"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseTimeouts(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Server.ReadTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse read_timeout %q: %w", cfg.Server.ReadTimeoutStr, err)
	}
	cfg.Server.ReadTimeout = d

	d, err = time.ParseDuration(cfg.Server.WriteTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse write_timeout %q: %w", cfg.Server.WriteTimeoutStr, err)
	}
	cfg.Server.WriteTimeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws: region required")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Ingress.Parallelism < 1 {
		return fmt.Errorf("ingress: parallelism must be at least 1 (got %d)", c.Ingress.Parallelism)
	}
	for _, p := range append(append([]int32(nil), c.Ingress.ManagementPorts...), c.Ingress.WebPorts...) {
		if p < 1 || p > 65535 {
			return fmt.Errorf("ingress: port %d out of range", p)
		}
	}
	for _, cidr := range append(append([]string(nil), c.Ingress.ProxyCIDRs...), c.Ingress.ExtraCIDRs...) {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("ingress: invalid cidr %q: %w", cidr, err)
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return nil
}

// IngressTemplate returns the rule template, with built-in values for any
// list left empty.
func (c *Config) IngressTemplate() ingress.Template {
	t := ingress.DefaultTemplate()
	if len(c.Ingress.ManagementPorts) > 0 {
		t.ManagementPorts = c.Ingress.ManagementPorts
	}
	if len(c.Ingress.WebPorts) > 0 {
		t.WebPorts = c.Ingress.WebPorts
	}
	if len(c.Ingress.ProxyCIDRs) > 0 {
		t.ProxyCIDRs = c.Ingress.ProxyCIDRs
	}
	if len(c.Ingress.ExtraCIDRs) > 0 {
		t.ExtraCIDRs = c.Ingress.ExtraCIDRs
	}
	return t
}

// IngressOptions returns reconciler options.
func (c *Config) IngressOptions() ingress.Options {
	return ingress.Options{
		Parallelism:  c.Ingress.Parallelism,
		DedupeGroups: c.Ingress.DedupeGroups,
	}
}
