package thermoflow

import (
	base "github.com/ghalamif/thermoflow/pkg/thermoflow"
)

// Re-exported errors for convenience.
var (
	ErrBreakerOpen         = base.ErrBreakerOpen
	ErrCallTimeout         = base.ErrCallTimeout
	ErrCacheUnavailable    = base.ErrCacheUnavailable
	ErrNotFound            = base.ErrNotFound
	ErrSampleChannelClosed = base.ErrSampleChannelClosed
)

const TelemetryTopic = base.TelemetryTopic

// Type aliases so consumers can import github.com/ghalamif/thermoflow directly.
type (
	Config         = base.Config
	LogConfig      = base.LogConfig
	MetricsConfig  = base.MetricsConfig
	BusConfig      = base.BusConfig
	ProducerConfig = base.ProducerConfig
	StoreConfig    = base.StoreConfig
	GatewayConfig  = base.GatewayConfig
	BreakerConfig  = base.BreakerConfig
	Runtime        = base.Runtime
	Option         = base.Option
	Service        = base.Service
	Sample         = base.Sample
	Record         = base.Record
	SampleFunc     = base.SampleFunc
	RecordStore    = base.RecordStore
	Bus            = base.Bus
	Subscription   = base.Subscription
	Observability  = base.Observability
	Field          = base.Field
	Clock          = base.Clock
)

const (
	ServiceProducer = base.ServiceProducer
	ServiceStore    = base.ServiceStore
	ServiceGateway  = base.ServiceGateway
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

func ParseServices(list string) ([]Service, error) {
	return base.ParseServices(list)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithBus(b Bus) Option {
	return base.WithBus(b)
}

func WithStore(s RecordStore) Option {
	return base.WithStore(s)
}

func WithClock(c Clock) Option {
	return base.WithClock(c)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithServices(services ...Service) Option {
	return base.WithServices(services...)
}

// Sample callbacks.
func NewSampleChannel(buffer int) (SampleFunc, <-chan Sample, func()) {
	return base.NewSampleChannel(buffer)
}
