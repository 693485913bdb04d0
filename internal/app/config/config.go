package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BusMemory = "memory"
	BusTCP    = "tcp"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Bus      BusConfig      `yaml:"bus"`
	Producer ProducerConfig `yaml:"producer"`
	Store    StoreConfig    `yaml:"store"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File switches output from stdout to a rotated file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type BusConfig struct {
	Mode           string        `yaml:"mode"`
	Addr           string        `yaml:"addr"`
	MailboxLen     int           `yaml:"mailbox_len"`
	RedialInterval time.Duration `yaml:"redial_interval"`
}

type ProducerConfig struct {
	Addr         string        `yaml:"addr"`
	SourceID     string        `yaml:"source_id"`
	Interval     time.Duration `yaml:"interval"`
	StdDev       *float64      `yaml:"stddev"`
	InitialValue *float64      `yaml:"initial_value"`
}

type StoreConfig struct {
	Addr       string        `yaml:"addr"`
	Driver     string        `yaml:"driver"`
	ConnString string        `yaml:"conn_string"`
	Table      string        `yaml:"table"`
	Window     time.Duration `yaml:"window"`
}

type GatewayConfig struct {
	Addr        string        `yaml:"addr"`
	UpstreamURL string        `yaml:"upstream_url"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// Load reads path, applies defaults and environment overrides, and validates
// the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// StdDevValue and InitialValueValue return the configured producer walk
// parameters; both are pointers so an explicit 0 survives defaulting.
func (p ProducerConfig) StdDevValue() float64 {
	if p.StdDev == nil {
		return 0.05
	}
	return *p.StdDev
}

func (p ProducerConfig) InitialValueValue() float64 {
	if p.InitialValue == nil {
		return 21.0
	}
	return *p.InitialValue
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Bus.Mode == "" {
		c.Bus.Mode = BusMemory
	}
	if c.Bus.Addr == "" {
		c.Bus.Addr = "127.0.0.1:7400"
	}
	if c.Bus.MailboxLen == 0 {
		c.Bus.MailboxLen = 1024
	}
	if c.Bus.RedialInterval == 0 {
		c.Bus.RedialInterval = time.Second
	}
	if c.Producer.Addr == "" {
		c.Producer.Addr = ":8080"
	}
	if c.Producer.Interval == 0 {
		c.Producer.Interval = 2 * time.Second
	}
	if c.Producer.StdDev == nil {
		v := 0.05
		c.Producer.StdDev = &v
	}
	if c.Producer.InitialValue == nil {
		v := 21.0
		c.Producer.InitialValue = &v
	}
	if c.Store.Addr == "" {
		c.Store.Addr = ":7000"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Table == "" {
		c.Store.Table = "telemetry_records"
	}
	if c.Store.Window == 0 {
		c.Store.Window = 5 * time.Minute
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8081"
	}
	if c.Gateway.UpstreamURL == "" {
		c.Gateway.UpstreamURL = "http://127.0.0.1:7000"
	}
	if c.Gateway.Breaker.FailureThreshold == 0 {
		c.Gateway.Breaker.FailureThreshold = 5
	}
	if c.Gateway.Breaker.Cooldown == 0 {
		c.Gateway.Breaker.Cooldown = 30 * time.Second
	}
	if c.Gateway.Breaker.CallTimeout == 0 {
		c.Gateway.Breaker.CallTimeout = 5 * time.Second
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("PRODUCER_ADDR", &c.Producer.Addr)
	set("STORE_ADDR", &c.Store.Addr)
	set("GATEWAY_ADDR", &c.Gateway.Addr)
	set("METRICS_ADDR", &c.Metrics.Addr)
	set("STORE_DRIVER", &c.Store.Driver)
	set("STORE_CONN_STRING", &c.Store.ConnString)
	set("BUS_MODE", &c.Bus.Mode)
	set("BUS_ADDR", &c.Bus.Addr)
	set("LOG_LEVEL", &c.Log.Level)
}

func (c *Config) validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Bus.Mode {
	case BusMemory:
	case BusTCP:
		if c.Bus.Addr == "" {
			return fmt.Errorf("bus.addr is required when bus.mode is tcp")
		}
	default:
		return fmt.Errorf("bus.mode must be memory or tcp, got %q", c.Bus.Mode)
	}
	if c.Bus.MailboxLen < 0 {
		return fmt.Errorf("bus.mailbox_len must not be negative")
	}
	if c.Producer.Interval < 0 {
		return fmt.Errorf("producer.interval must be positive")
	}
	if c.Producer.StdDevValue() < 0 {
		return fmt.Errorf("producer.stddev must not be negative")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.ConnString == "" {
			return fmt.Errorf("store.conn_string is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory or postgres, got %q", c.Store.Driver)
	}
	if c.Store.Window < 0 {
		return fmt.Errorf("store.window must be positive")
	}
	u, err := url.Parse(c.Gateway.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway.upstream_url %q is not an absolute URL", c.Gateway.UpstreamURL)
	}
	b := c.Gateway.Breaker
	if b.FailureThreshold < 0 || b.Cooldown < 0 || b.CallTimeout < 0 {
		return fmt.Errorf("gateway.breaker values must not be negative")
	}
	return nil
}
