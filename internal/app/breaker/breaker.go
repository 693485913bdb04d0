// Package breaker implements the three-state circuit breaker guarding the
// gateway's window query.
//
// Outcomes are keyed to the admission decision: every admitted call carries
// the generation it was admitted under, and a result reported after the
// breaker has moved on to a new generation is ignored. A call that outlives
// its timeout is accounted for once, at expiry, and its eventual completion
// is discarded.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/domain"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultCallTimeout      = 5 * time.Second
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	CallTimeout      time.Duration
	Clock            clock.Clock
	// OnStateChange is called outside the breaker lock after every transition.
	// Calls never overlap and arrive in transition order, possibly on the
	// goroutine of a later caller.
	OnStateChange func(from, to State)
}

// Snapshot is a point-in-time copy of the breaker state. OpenedAt is zero
// unless State is Open.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	gen           uint64
	trialInFlight bool

	pending    []transition
	delivering bool
}

type ticket struct {
	gen   uint64
	trial bool
}

type transition struct {
	from, to State
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Breaker{cfg: cfg, state: Closed}
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, ConsecutiveFailures: b.failures, OpenedAt: b.openedAt}
}

func (b *Breaker) State() State {
	return b.Snapshot().State
}

// CallTimeout is the per-call bound applied by Do.
func (b *Breaker) CallTimeout() time.Duration { return b.cfg.CallTimeout }

// Do runs op through b. A rejected call returns domain.ErrBreakerOpen without
// invoking op. A call still running after the configured timeout returns a
// *domain.TransientUpstreamError wrapping domain.ErrCallTimeout; op keeps its
// cancelled context and whatever it returns later is dropped. Cancelling ctx
// frees the admission without counting a failure.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	t, err := b.allow()
	if err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(callCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil:
			b.record(t, true)
			return r.v, nil
		case ctx.Err() != nil:
			b.release(t)
			return zero, ctx.Err()
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			b.record(t, false)
			return zero, timeoutError()
		default:
			b.record(t, false)
			return zero, r.err
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			b.release(t)
			return zero, ctx.Err()
		}
		b.record(t, false)
		return zero, timeoutError()
	}
}

// Execute is Do for operations without a result value.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func timeoutError() error {
	return &domain.TransientUpstreamError{Op: "call", Err: domain.ErrCallTimeout}
}

func (b *Breaker) allow() (ticket, error) {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.cfg.Clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ticket{}, domain.ErrBreakerOpen
		}
		b.setState(HalfOpen)
		b.trialInFlight = true
	case HalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return ticket{}, domain.ErrBreakerOpen
		}
		b.trialInFlight = true
	}
	t := ticket{gen: b.gen, trial: b.state == HalfOpen}
	b.mu.Unlock()

	b.notify()
	return t, nil
}

func (b *Breaker) record(t ticket, success bool) {
	b.mu.Lock()
	if t.gen != b.gen {
		b.mu.Unlock()
		return
	}
	switch b.state {
	case Closed:
		if success {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		if !t.trial {
			break
		}
		b.trialInFlight = false
		if success {
			b.setState(Closed)
		} else {
			b.failures++
			b.setState(Open)
		}
	}
	b.mu.Unlock()

	b.notify()
}

// release gives back a trial slot for a call that was abandoned by its caller.
func (b *Breaker) release(t ticket) {
	b.mu.Lock()
	if t.trial && t.gen == b.gen && b.state == HalfOpen {
		b.trialInFlight = false
	}
	b.mu.Unlock()
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	b.gen++
	switch to {
	case Closed:
		b.failures = 0
		b.openedAt = time.Time{}
	case Open:
		b.openedAt = b.cfg.Clock.Now()
	case HalfOpen:
		b.openedAt = time.Time{}
		b.trialInFlight = false
	}
	if b.cfg.OnStateChange != nil {
		b.pending = append(b.pending, transition{from: from, to: to})
	}
}

// notify drains queued transitions to OnStateChange. Only one goroutine
// delivers at a time; transitions queued meanwhile are picked up by its loop.
func (b *Breaker) notify() {
	b.mu.Lock()
	if b.delivering || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.delivering = true
	for len(b.pending) > 0 {
		tr := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		b.deliver(tr)
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

// deliver runs one callback; a panic gives up the delivering role first.
func (b *Breaker) deliver(tr transition) {
	ok := false
	defer func() {
		if !ok {
			b.mu.Lock()
			b.delivering = false
			b.mu.Unlock()
		}
	}()
	b.cfg.OnStateChange(tr.from, tr.to)
	ok = true
}
