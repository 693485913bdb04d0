package netbus

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/thermoflow/internal/adapters/bus/membus"
	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/ports"
)

// ClientConfig describes how a Client reaches its hub.
type ClientConfig struct {
	// ClientID names this client in hub logs; defaults to a random UUID.
	ClientID       string
	Addr           string
	OutboxLen      int
	MailboxLen     int
	RedialInterval time.Duration
	DialTimeout    time.Duration
}

// Client is a ports.Bus backed by a hub connection. It connects in the
// background and redials with a fixed delay whenever the connection drops.
type Client struct {
	cfg   ClientConfig
	obs   ports.Observability
	local *membus.Bus

	mu     sync.Mutex
	topics map[string]int

	out  chan frame
	ctrl chan frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewClient(cfg ClientConfig, obs ports.Observability) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.OutboxLen <= 0 {
		cfg.OutboxLen = DefaultOutboxLen
	}
	if cfg.RedialInterval <= 0 {
		cfg.RedialInterval = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if obs == nil {
		obs = observability.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		obs:    obs,
		local:  membus.New(cfg.MailboxLen, obs),
		topics: make(map[string]int),
		out:    make(chan frame, cfg.OutboxLen),
		ctrl:   make(chan frame, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Client) ID() string { return c.cfg.ClientID }

// Publish queues payload for the hub. When the outbox is full the message is
// dropped.
func (c *Client) Publish(topic string, payload []byte) {
	f := frame{Kind: kindPub, Topic: topic, Payload: append([]byte(nil), payload...)}
	select {
	case c.out <- f:
	default:
		c.obs.IncCounter("thermo_bus_dropped_total", 1)
		c.obs.LogError("netbus_outbox_full", errors.New("hub connection backlog"),
			ports.Field{Key: "topic", Value: topic})
	}
}

func (c *Client) Subscribe(topic, name string, h ports.Handler) (ports.Subscription, error) {
	sub, err := c.local.Subscribe(topic, name, h)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.topics[topic]++
	first := c.topics[topic] == 1
	c.mu.Unlock()
	if first {
		c.control(frame{Kind: kindSub, Topic: topic})
	}
	return &clientSubscription{Subscription: sub, client: c}, nil
}

// Close stops the connection loop and the local delivery goroutines.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return c.local.Close()
}

// control queues a subscription change. Subscriptions are re-sent on every
// connect, so a change that does not fit is recovered by the next redial.
func (c *Client) control(f frame) {
	select {
	case c.ctrl <- f:
	default:
	}
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	c.topics[topic]--
	last := c.topics[topic] <= 0
	if last {
		delete(c.topics, topic)
	}
	c.mu.Unlock()
	if last {
		c.control(frame{Kind: kindUnsub, Topic: topic})
	}
}

func (c *Client) subscribedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *Client) run() {
	defer c.wg.Done()

	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	for {
		conn, err := dialer.DialContext(c.ctx, "tcp", c.cfg.Addr)
		if err == nil {
			c.serve(conn)
		} else if c.ctx.Err() == nil {
			c.obs.LogError("netbus_dial_failed", err, ports.Field{Key: "addr", Value: c.cfg.Addr})
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.RedialInterval):
		}
	}
}

func (c *Client) serve(conn net.Conn) {
	defer conn.Close()

	enc := codec.NewEncoder(conn)
	if err := enc.Encode(frame{Kind: kindHello, Client: c.cfg.ClientID}); err != nil {
		c.obs.LogError("netbus_hello_failed", err, ports.Field{Key: "addr", Value: c.cfg.Addr})
		return
	}
	for _, topic := range c.subscribedTopics() {
		if err := enc.Encode(frame{Kind: kindSub, Topic: topic}); err != nil {
			c.obs.LogError("netbus_subscribe_failed", err, ports.Field{Key: "topic", Value: topic})
			return
		}
	}
	c.obs.LogInfo("netbus_connected",
		ports.Field{Key: "addr", Value: c.cfg.Addr},
		ports.Field{Key: "client_id", Value: c.cfg.ClientID})

	readErr := make(chan error, 1)
	go func() {
		dec := codec.NewDecoder(conn)
		for {
			var f frame
			if err := dec.Decode(&f); err != nil {
				readErr <- err
				return
			}
			if f.Kind == kindMsg {
				c.local.Publish(f.Topic, f.Payload)
			}
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case err := <-readErr:
			c.obs.LogError("netbus_connection_lost", err, ports.Field{Key: "addr", Value: c.cfg.Addr})
			return
		case f := <-c.ctrl:
			if err := enc.Encode(f); err != nil {
				return
			}
		case f := <-c.out:
			if err := enc.Encode(f); err != nil {
				c.obs.IncCounter("thermo_bus_dropped_total", 1)
				return
			}
		}
	}
}

type clientSubscription struct {
	ports.Subscription
	client *Client
	once   sync.Once
}

func (s *clientSubscription) Cancel() {
	s.once.Do(func() {
		s.Subscription.Cancel()
		s.client.unsubscribe(s.Topic())
	})
}

var _ ports.Bus = (*Client)(nil)
