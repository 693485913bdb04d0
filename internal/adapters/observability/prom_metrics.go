package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/thermoflow/internal/ports"
)

// PromObs logs through slog and records counters, gauges and latency
// histograms on a Prometheus registry. Unknown metric names are ignored.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			"thermo_samples_published_total":    counter("thermo_samples_published_total", "Samples published by the producer."),
			"thermo_samples_persisted_total":    counter("thermo_samples_persisted_total", "Samples written to the record store."),
			"thermo_samples_dropped_total":      counter("thermo_samples_dropped_total", "Samples lost after a failed store write."),
			"thermo_bus_dropped_total":          counter("thermo_bus_dropped_total", "Messages dropped because a subscriber mailbox was full."),
			"thermo_bus_handler_failures_total": counter("thermo_bus_handler_failures_total", "Bus handler invocations that returned an error or panicked."),
			"thermo_gateway_cache_served_total": counter("thermo_gateway_cache_served_total", "Window responses served from the fallback cache."),
			"thermo_gateway_unavailable_total":  counter("thermo_gateway_unavailable_total", "Window requests failed with nothing cached."),
			"thermo_breaker_transitions_total":  counter("thermo_breaker_transitions_total", "Circuit breaker state transitions."),
		},
		gauges: map[string]prometheus.Gauge{
			"thermo_breaker_state":  gauge("thermo_breaker_state", "Circuit breaker state (0 closed, 1 open, 2 half-open)."),
			"thermo_latest_sources": gauge("thermo_latest_sources", "Sources tracked by the gateway latest-sample cache."),
		},
		histos: map[string]prometheus.Observer{
			"thermo_store_write_latency_seconds": prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "thermo_store_write_latency_seconds",
				Help:    "Latency of a single record store insert.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			}),
			"thermo_upstream_latency_seconds": prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "thermo_upstream_latency_seconds",
				Help:    "Latency of gateway calls to the store window endpoint.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			}),
		},
	}

	for _, c := range p.counters {
		reg.MustRegister(c)
	}
	for _, g := range p.gauges {
		reg.MustRegister(g)
	}
	for _, h := range p.histos {
		reg.MustRegister(h.(prometheus.Collector))
	}
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "error", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "error", err, "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDrop(stage string, err error, fields ...ports.Field) {
	p.IncCounter("thermo_samples_dropped_total", 1)
	p.logger.Warn("sample dropped", append(attrs(fields), "stage", stage, "error", err)...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2+4)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
