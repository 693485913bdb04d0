package persister

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/thermoflow/internal/adapters/store/memstore"
	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

type failingStore struct {
	*memstore.Store
	err     error
	inserts int
}

func (f *failingStore) Insert(ctx context.Context, rec domain.Record) error {
	f.inserts++
	if f.err != nil {
		return f.err
	}
	return f.Store.Insert(ctx, rec)
}

func (f *failingStore) All(ctx context.Context) ([]domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.All(ctx)
}

func (f *failingStore) BySource(ctx context.Context, id string) ([]domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.BySource(ctx, id)
}

func (f *failingStore) Since(ctx context.Context, from time.Time) ([]domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.Since(ctx, from)
}

type recordingObs struct {
	mu       sync.Mutex
	drops    int
	counters map[string]float64
}

func newRecordingObs() *recordingObs {
	return &recordingObs{counters: map[string]float64{}}
}

func (r *recordingObs) LogInfo(string, ...ports.Field)           {}
func (r *recordingObs) LogError(string, error, ...ports.Field)    {}
func (r *recordingObs) LogCritical(string, error, ...ports.Field) {}
func (r *recordingObs) ObserveLatency(string, float64)           {}
func (r *recordingObs) SetGauge(string, float64)                 {}
func (r *recordingObs) IncCounter(name string, v float64) {
	r.mu.Lock()
	r.counters[name] += v
	r.mu.Unlock()
}
func (r *recordingObs) RecordDrop(stage string, err error, fields ...ports.Field) {
	r.mu.Lock()
	r.drops++
	r.mu.Unlock()
}

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestOnMessageWritesOneRecord(t *testing.T) {
	store := memstore.New()
	obs := newRecordingObs()
	p := New(store, obs, clock.NewFake(t0))

	p.OnMessage(context.Background(), domain.Sample{SourceID: "a", Value: 21.5, CapturedAt: t0})

	if store.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", store.Len())
	}
	if obs.counters["thermo_samples_persisted_total"] != 1 || obs.drops != 0 {
		t.Fatalf("unexpected accounting %+v drops=%d", obs.counters, obs.drops)
	}
}

func TestOnMessageDropsOnStoreFailure(t *testing.T) {
	store := &failingStore{Store: memstore.New(), err: errors.New("disk full")}
	obs := newRecordingObs()
	p := New(store, obs, clock.NewFake(t0))

	p.OnMessage(context.Background(), domain.Sample{SourceID: "a", Value: 1, CapturedAt: t0})

	if store.inserts != 1 {
		t.Fatalf("expected a single attempt without retry, got %d", store.inserts)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no stored record, got %d", store.Len())
	}
	if obs.drops != 1 || obs.counters["thermo_samples_persisted_total"] != 0 {
		t.Fatalf("expected one drop, got drops=%d counters=%+v", obs.drops, obs.counters)
	}
}

func TestHandleDecodesPayload(t *testing.T) {
	store := memstore.New()
	p := New(store, nil, nil)

	payload, err := codec.EncodeSample(domain.Sample{SourceID: "a", Value: 3, CapturedAt: t0})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := p.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := p.Handle(context.Background(), []byte("not cbor")); err == nil {
		t.Fatalf("expected decode error")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", store.Len())
	}
}

func TestQueryWindowBoundaryIsInclusive(t *testing.T) {
	store := memstore.New()
	clk := clock.NewFake(t0)
	p := New(store, nil, clk)
	ctx := context.Background()

	for _, s := range []domain.Sample{
		{SourceID: "a", Value: 1, CapturedAt: t0.Add(-5*time.Minute - time.Millisecond)},
		{SourceID: "a", Value: 2, CapturedAt: t0.Add(-5 * time.Minute)},
		{SourceID: "b", Value: 3, CapturedAt: t0.Add(-time.Second)},
	} {
		p.OnMessage(ctx, s)
	}

	recs, err := p.QueryWindow(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("query window: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records in window, got %+v", recs)
	}
	for _, r := range recs {
		if r.Value == 1 {
			t.Fatalf("record outside window returned: %+v", r)
		}
	}

	clk.Advance(5 * time.Minute)
	recs, _ = p.QueryWindow(ctx, 5*time.Minute)
	if len(recs) != 0 {
		t.Fatalf("expected window to be evaluated at query time, got %+v", recs)
	}
}

func TestQueryBySourceAscending(t *testing.T) {
	store := memstore.New()
	p := New(store, nil, clock.NewFake(t0))
	ctx := context.Background()

	p.OnMessage(ctx, domain.Sample{SourceID: "a", Value: 2, CapturedAt: t0.Add(time.Second)})
	p.OnMessage(ctx, domain.Sample{SourceID: "b", Value: 9, CapturedAt: t0})
	p.OnMessage(ctx, domain.Sample{SourceID: "a", Value: 1, CapturedAt: t0})

	recs, err := p.QueryBySource(ctx, "a")
	if err != nil {
		t.Fatalf("query by source: %v", err)
	}
	if len(recs) != 2 || recs[0].Value != 1 || recs[1].Value != 2 {
		t.Fatalf("unexpected order %+v", recs)
	}
	all, err := p.QueryAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("query all: %v %+v", err, all)
	}
}

func TestQueriesWrapStoreErrors(t *testing.T) {
	cause := errors.New("connection refused")
	p := New(&failingStore{Store: memstore.New(), err: cause}, nil, clock.NewFake(t0))
	ctx := context.Background()

	checks := map[string]func() error{
		"all":    func() error { _, err := p.QueryAll(ctx); return err },
		"source": func() error { _, err := p.QueryBySource(ctx, "a"); return err },
		"window": func() error { _, err := p.QueryWindow(ctx, time.Minute); return err },
	}
	for name, fn := range checks {
		err := fn()
		var pe *domain.PersistenceError
		if !errors.As(err, &pe) || !errors.Is(err, cause) {
			t.Fatalf("%s: expected persistence error wrapping cause, got %v", name, err)
		}
	}
}
