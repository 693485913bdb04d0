package producer

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultStdDev       = 0.05
	DefaultInitialValue = 21.0
)

type Config struct {
	// SourceID defaults to a random UUID, fixed for the producer's lifetime.
	SourceID     string
	Interval     time.Duration
	StdDev       float64
	InitialValue float64
	Topic        string
	RandSource   rand.Source
	Clock        clock.Clock
}

// Producer emits one random-walk Sample per tick on the telemetry topic.
type Producer struct {
	cfg Config
	pub ports.Publisher
	obs ports.Observability

	tickMu sync.Mutex
	rnd    *rand.Rand
	value  atomic.Uint64
}

func New(cfg Config, pub ports.Publisher, obs ports.Observability) *Producer {
	if cfg.SourceID == "" {
		cfg.SourceID = uuid.NewString()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StdDev < 0 {
		cfg.StdDev = DefaultStdDev
	}
	if cfg.Topic == "" {
		cfg.Topic = domain.TelemetryTopic
	}
	if cfg.RandSource == nil {
		cfg.RandSource = rand.NewSource(time.Now().UnixNano())
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if obs == nil {
		obs = observability.Nop{}
	}

	p := &Producer{cfg: cfg, pub: pub, obs: obs, rnd: rand.New(cfg.RandSource)}
	p.value.Store(math.Float64bits(cfg.InitialValue))
	return p
}

func (p *Producer) SourceID() string { return p.cfg.SourceID }

// Current builds a Sample from the current value and clock. It never blocks
// on a tick in progress.
func (p *Producer) Current() domain.Sample {
	return p.sample(math.Float64frombits(p.value.Load()))
}

// Tick perturbs the value and publishes the resulting sample.
func (p *Producer) Tick() domain.Sample {
	p.tickMu.Lock()
	v := math.Float64frombits(p.value.Load()) + p.rnd.NormFloat64()*p.cfg.StdDev
	p.value.Store(math.Float64bits(v))
	p.tickMu.Unlock()

	s := p.sample(v)
	payload, err := codec.EncodeSample(s)
	if err != nil {
		p.obs.LogError("encode sample failed", err, ports.Field{Key: "source_id", Value: s.SourceID})
		return s
	}
	p.pub.Publish(p.cfg.Topic, payload)
	p.obs.IncCounter("thermo_samples_published_total", 1)
	return s
}

// Run ticks every Interval until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.obs.LogInfo("producer started",
		ports.Field{Key: "source_id", Value: p.cfg.SourceID},
		ports.Field{Key: "interval", Value: p.cfg.Interval.String()},
	)
	for {
		select {
		case <-ctx.Done():
			p.obs.LogInfo("producer stopped", ports.Field{Key: "source_id", Value: p.cfg.SourceID})
			return nil
		case <-ticker.C:
			p.Tick()
		}
	}
}

func (p *Producer) sample(v float64) domain.Sample {
	return domain.Sample{
		SourceID:   p.cfg.SourceID,
		Value:      v,
		CapturedAt: p.cfg.Clock.Now().UTC().Truncate(time.Millisecond),
	}
}
