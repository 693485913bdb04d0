// Package gateway serves the window query through a circuit breaker with a
// last-good-response fallback, plus a latest-sample read fed by the bus.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/app/breaker"
	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

type Gateway struct {
	window  ports.WindowSource
	breaker *breaker.Breaker
	obs     ports.Observability
	clock   clock.Clock

	// cache holds the last successful payload; replaced whole, never mutated.
	cache atomic.Pointer[domain.CachedResponse]

	mu     sync.RWMutex
	latest map[string]domain.Sample
}

func New(window ports.WindowSource, br *breaker.Breaker, obs ports.Observability, clk clock.Clock) *Gateway {
	if obs == nil {
		obs = observability.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if br == nil {
		br = breaker.New(breaker.Config{Clock: clk})
	}
	return &Gateway{
		window:  window,
		breaker: br,
		obs:     obs,
		clock:   clk,
		latest:  make(map[string]domain.Sample),
	}
}

func (g *Gateway) Breaker() *breaker.Breaker { return g.breaker }

// FiveMinutes fetches the store window through the breaker. On success the
// payload replaces the cache. On any failure the cached payload is returned
// unchanged with fromCache set; with nothing cached the error wraps
// domain.ErrCacheUnavailable and the cause.
func (g *Gateway) FiveMinutes(ctx context.Context) (payload []byte, fromCache bool, err error) {
	start := time.Now()
	fresh, err := breaker.Do(ctx, g.breaker, g.window.FetchWindow)
	g.obs.ObserveLatency("thermo_upstream_latency_seconds", time.Since(start).Seconds())
	if err == nil {
		g.cache.Store(&domain.CachedResponse{Payload: fresh, CapturedAt: g.clock.Now()})
		return fresh, false, nil
	}

	cached := g.cache.Load()
	if cached == nil {
		g.obs.IncCounter("thermo_gateway_unavailable_total", 1)
		g.obs.LogError("window unavailable and nothing cached", err)
		return nil, false, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
	}

	g.obs.IncCounter("thermo_gateway_cache_served_total", 1)
	g.obs.LogInfo("served window from cache",
		ports.Field{Key: "reason", Value: err.Error()},
		ports.Field{Key: "cached_at", Value: cached.CapturedAt},
		ports.Field{Key: "breaker", Value: g.breaker.State().String()},
	)
	return cached.Payload, true, nil
}

// Cached returns the current fallback entry, if any.
func (g *Gateway) Cached() (domain.CachedResponse, bool) {
	c := g.cache.Load()
	if c == nil {
		return domain.CachedResponse{}, false
	}
	return *c, true
}

// Handle is the bus handler for the telemetry topic.
func (g *Gateway) Handle(_ context.Context, payload []byte) error {
	s, err := codec.DecodeSample(payload)
	if err != nil {
		return err
	}
	g.OnSample(s)
	return nil
}

// OnSample records s as the latest sample for its source unless a newer one
// is already held.
func (g *Gateway) OnSample(s domain.Sample) {
	g.mu.Lock()
	if cur, ok := g.latest[s.SourceID]; ok && cur.CapturedAt.After(s.CapturedAt) {
		g.mu.Unlock()
		return
	}
	g.latest[s.SourceID] = s
	n := len(g.latest)
	g.mu.Unlock()

	g.obs.SetGauge("thermo_latest_sources", float64(n))
}

// Latest returns the latest sample of every known source ordered by source
// id, or domain.ErrNotFound before the first sample arrives.
func (g *Gateway) Latest() ([]domain.Sample, error) {
	g.mu.RLock()
	out := make([]domain.Sample, 0, len(g.latest))
	for _, s := range g.latest {
		out = append(out, s)
	}
	g.mu.RUnlock()

	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (g *Gateway) LatestFor(id string) (domain.Sample, error) {
	g.mu.RLock()
	s, ok := g.latest[id]
	g.mu.RUnlock()
	if !ok {
		return domain.Sample{}, domain.ErrNotFound
	}
	return s, nil
}

// BreakerObserver logs breaker transitions and exports them as metrics.
func BreakerObserver(obs ports.Observability) func(from, to breaker.State) {
	return func(from, to breaker.State) {
		obs.IncCounter("thermo_breaker_transitions_total", 1)
		obs.SetGauge("thermo_breaker_state", float64(to))
		obs.LogInfo("breaker state changed",
			ports.Field{Key: "from", Value: from.String()},
			ports.Field{Key: "to", Value: to.String()},
		)
	}
}
