// Package persister writes bus samples to the record store and serves the
// store's read queries.
package persister

import (
	"context"
	"time"

	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

const DefaultWindow = 5 * time.Minute

type Persister struct {
	store ports.RecordStore
	obs   ports.Observability
	clock clock.Clock
}

func New(store ports.RecordStore, obs ports.Observability, clk clock.Clock) *Persister {
	if obs == nil {
		obs = observability.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Persister{store: store, obs: obs, clock: clk}
}

// Handle is the bus handler for the telemetry topic. Undecodable payloads are
// returned as errors so the bus logs them; store failures are absorbed by
// OnMessage.
func (p *Persister) Handle(ctx context.Context, payload []byte) error {
	s, err := codec.DecodeSample(payload)
	if err != nil {
		return err
	}
	p.OnMessage(ctx, s)
	return nil
}

// OnMessage writes one record for s. A failed write is logged and the sample
// is dropped; there is no retry.
func (p *Persister) OnMessage(ctx context.Context, s domain.Sample) {
	start := time.Now()
	err := p.store.Insert(ctx, domain.RecordFromSample(s))
	p.obs.ObserveLatency("thermo_store_write_latency_seconds", time.Since(start).Seconds())
	if err != nil {
		p.obs.RecordDrop("persist", &domain.PersistenceError{Op: "insert", Err: err},
			ports.Field{Key: "source_id", Value: s.SourceID},
			ports.Field{Key: "captured_at", Value: s.CapturedAt},
			ports.Field{Key: "store", Value: p.store.Name()},
		)
		return
	}
	p.obs.IncCounter("thermo_samples_persisted_total", 1)
}

func (p *Persister) QueryAll(ctx context.Context) ([]domain.Record, error) {
	recs, err := p.store.All(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query all", Err: err}
	}
	return recs, nil
}

// QueryBySource returns records for id in capture order.
func (p *Persister) QueryBySource(ctx context.Context, id string) ([]domain.Record, error) {
	recs, err := p.store.BySource(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query by source", Err: err}
	}
	return recs, nil
}

// QueryWindow returns records captured at or after now-d.
func (p *Persister) QueryWindow(ctx context.Context, d time.Duration) ([]domain.Record, error) {
	if d <= 0 {
		d = DefaultWindow
	}
	recs, err := p.store.Since(ctx, p.clock.Now().Add(-d))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query window", Err: err}
	}
	return recs, nil
}
