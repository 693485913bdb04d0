// Package membus is the in-process topic bus. Every subscription owns a
// bounded mailbox and a delivery goroutine, so handlers for one subscription
// run sequentially and a slow or failing handler never stalls a publisher.
package membus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/adapters/queue"
	"github.com/ghalamif/thermoflow/internal/ports"
)

const (
	DefaultMailboxLen = 1024
	deliveryBatch     = 64
)

var (
	ErrClosed      = errors.New("membus: bus closed")
	ErrMailboxFull = errors.New("membus: subscriber mailbox full")
)

type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*subscription
	obs        ports.Observability
	mailboxLen int
	closed     bool
	wg         sync.WaitGroup
}

// New returns an empty bus whose subscriptions buffer up to mailboxLen
// undelivered messages each.
func New(mailboxLen int, obs ports.Observability) *Bus {
	if mailboxLen <= 0 {
		mailboxLen = DefaultMailboxLen
	}
	if obs == nil {
		obs = observability.Nop{}
	}
	return &Bus{
		subs:       make(map[string][]*subscription),
		obs:        obs,
		mailboxLen: mailboxLen,
	}
}

// Publish hands payload to every current subscriber of topic and returns
// without waiting for delivery.
func (b *Bus) Publish(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	subs := b.subs[topic]
	if len(subs) == 0 {
		return
	}
	msg := ports.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, s := range subs {
		s.offer(msg)
	}
}

func (b *Bus) Subscribe(topic, name string, h ports.Handler) (ports.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("membus: nil handler for %q", topic)
	}
	if name == "" {
		name = topic
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		bus:     b,
		topic:   topic,
		name:    name,
		handler: h,
		box:     queue.NewMemQueue(b.mailboxLen),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.wg.Add(1)
	b.mu.Unlock()

	go s.run()
	return s, nil
}

// Close cancels every subscription and waits for delivery goroutines to exit.
// Undelivered messages are discarded.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.halt()
	}
	b.wg.Wait()
	return nil
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[s.topic]
	for i, cur := range subs {
		if cur == s {
			b.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.topic]) == 0 {
		delete(b.subs, s.topic)
	}
}

type subscription struct {
	bus     *Bus
	topic   string
	name    string
	handler ports.Handler
	box     ports.MessageQueue
	wake    chan struct{}
	stop    chan struct{}
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Cancel() {
	s.bus.remove(s)
	s.halt()
}

func (s *subscription) halt() {
	s.once.Do(func() {
		s.cancel()
		close(s.stop)
	})
}

func (s *subscription) offer(msg ports.Message) {
	if !s.box.Enqueue(msg) {
		s.bus.obs.IncCounter("thermo_bus_dropped_total", 1)
		s.bus.obs.LogError("bus_mailbox_full", ErrMailboxFull,
			ports.Field{Key: "topic", Value: s.topic},
			ports.Field{Key: "subscriber", Value: s.name})
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer s.bus.wg.Done()
	for {
		batch := s.box.DequeueBatch(deliveryBatch)
		if len(batch) == 0 {
			select {
			case <-s.stop:
				return
			case <-s.wake:
				continue
			}
		}
		for _, msg := range batch {
			select {
			case <-s.stop:
				return
			default:
			}
			s.deliver(msg)
		}
	}
}

func (s *subscription) deliver(msg ports.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("handler panic: %v", r))
		}
	}()
	if err := s.handler(s.ctx, msg.Payload); err != nil {
		s.fail(err)
	}
}

func (s *subscription) fail(err error) {
	s.bus.obs.IncCounter("thermo_bus_handler_failures_total", 1)
	s.bus.obs.LogError("bus_handler_failed", err,
		ports.Field{Key: "topic", Value: s.topic},
		ports.Field{Key: "subscriber", Value: s.name})
}

var _ ports.Bus = (*Bus)(nil)
