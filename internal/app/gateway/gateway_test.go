package gateway

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/thermoflow/internal/app/breaker"
	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/domain"
)

type stubWindow struct {
	mu      sync.Mutex
	payload []byte
	err     error
	hang    bool
	calls   int
}

func (s *stubWindow) set(payload []byte, err error, hang bool) {
	s.mu.Lock()
	s.payload, s.err, s.hang = payload, err, hang
	s.mu.Unlock()
}

func (s *stubWindow) FetchWindow(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	payload, err, hang := s.payload, s.err, s.hang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return payload, err
}

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestGateway(w *stubWindow, threshold int) (*Gateway, *clock.Fake) {
	clk := clock.NewFake(t0)
	br := breaker.New(breaker.Config{
		FailureThreshold: threshold,
		Cooldown:         10 * time.Second,
		CallTimeout:      20 * time.Millisecond,
		Clock:            clk,
	})
	return New(w, br, nil, clk), clk
}

func TestFreshPayloadOverwritesCache(t *testing.T) {
	w := &stubWindow{payload: []byte(`{"data":[1]}`)}
	g, clk := newTestGateway(w, 3)

	got, fromCache, err := g.FiveMinutes(context.Background())
	if err != nil || fromCache || string(got) != `{"data":[1]}` {
		t.Fatalf("unexpected first result %q %v %v", got, fromCache, err)
	}

	clk.Advance(time.Second)
	w.set([]byte(`{"data":[2]}`), nil, false)
	got, fromCache, err = g.FiveMinutes(context.Background())
	if err != nil || fromCache || string(got) != `{"data":[2]}` {
		t.Fatalf("unexpected second result %q %v %v", got, fromCache, err)
	}
	c, ok := g.Cached()
	if !ok || string(c.Payload) != `{"data":[2]}` || !c.CapturedAt.Equal(clk.Now()) {
		t.Fatalf("cache not overwritten: %+v", c)
	}
}

func TestTimeoutServesCachedPayloadByteForByte(t *testing.T) {
	original := []byte("{\"data\":[{\"sourceId\":\"a\",\"value\":21.05}]}\n")
	w := &stubWindow{payload: append([]byte(nil), original...)}
	g, _ := newTestGateway(w, 3)

	if _, _, err := g.FiveMinutes(context.Background()); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	w.set(nil, nil, true)

	start := time.Now()
	got, fromCache, err := g.FiveMinutes(context.Background())
	if err != nil || !fromCache {
		t.Fatalf("expected cached response, got %v fromCache=%v", err, fromCache)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("cached payload changed: %q", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("gateway blocked %v", elapsed)
	}
}

func TestNoCacheAndFailureIsUnavailable(t *testing.T) {
	cause := &domain.TransientUpstreamError{Op: "fetch window", Err: errors.New("connection refused")}
	g, _ := newTestGateway(&stubWindow{err: cause}, 3)

	got, fromCache, err := g.FiveMinutes(context.Background())
	if got != nil || fromCache {
		t.Fatalf("expected no payload, got %q fromCache=%v", got, fromCache)
	}
	if !errors.Is(err, domain.ErrCacheUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected cache unavailable wrapping cause, got %v", err)
	}
}

func TestOpenBreakerFallsBackWithoutCallingUpstream(t *testing.T) {
	w := &stubWindow{payload: []byte("good")}
	g, _ := newTestGateway(w, 2)
	_, _, _ = g.FiveMinutes(context.Background())

	w.set(nil, errors.New("down"), false)
	for i := 0; i < 2; i++ {
		if got, fromCache, _ := g.FiveMinutes(context.Background()); !fromCache || string(got) != "good" {
			t.Fatalf("expected fallback, got %q", got)
		}
	}
	if g.Breaker().State() != breaker.Open {
		t.Fatalf("expected breaker open, got %s", g.Breaker().State())
	}

	w.mu.Lock()
	before := w.calls
	w.mu.Unlock()
	got, fromCache, err := g.FiveMinutes(context.Background())
	if err != nil || !fromCache || string(got) != "good" {
		t.Fatalf("expected fallback while open, got %q %v", got, err)
	}
	w.mu.Lock()
	after := w.calls
	w.mu.Unlock()
	if after != before {
		t.Fatalf("upstream called while breaker open")
	}
}

func TestLatestKeepsNewestPerSource(t *testing.T) {
	g, _ := newTestGateway(&stubWindow{}, 3)

	if _, err := g.Latest(); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before first sample, got %v", err)
	}
	if _, err := g.LatestFor("a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	g.OnSample(domain.Sample{SourceID: "b", Value: 5, CapturedAt: t0})
	g.OnSample(domain.Sample{SourceID: "a", Value: 1, CapturedAt: t0.Add(time.Second)})
	g.OnSample(domain.Sample{SourceID: "a", Value: 0, CapturedAt: t0})

	all, err := g.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(all) != 2 || all[0].SourceID != "a" || all[0].Value != 1 || all[1].SourceID != "b" {
		t.Fatalf("unexpected latest %+v", all)
	}
	s, err := g.LatestFor("b")
	if err != nil || s.Value != 5 {
		t.Fatalf("latest for b: %+v %v", s, err)
	}
}

func TestHandleDecodesSamples(t *testing.T) {
	g, _ := newTestGateway(&stubWindow{}, 3)
	payload, err := codec.EncodeSample(domain.Sample{SourceID: "a", Value: 2, CapturedAt: t0})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := g.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if s, err := g.LatestFor("a"); err != nil || s.Value != 2 || !s.CapturedAt.Equal(t0) {
		t.Fatalf("unexpected latest %+v %v", s, err)
	}
}
