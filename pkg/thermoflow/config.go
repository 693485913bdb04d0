package thermoflow

import "github.com/ghalamif/thermoflow/internal/app/config"

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	LogConfig      = config.LogConfig
	MetricsConfig  = config.MetricsConfig
	BusConfig      = config.BusConfig
	ProducerConfig = config.ProducerConfig
	StoreConfig    = config.StoreConfig
	GatewayConfig  = config.GatewayConfig
	BreakerConfig  = config.BreakerConfig
)

// LoadConfig loads YAML from disk using the internal config reader. An empty
// path returns the defaults with environment overrides applied.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() *Config {
	return config.Default()
}
