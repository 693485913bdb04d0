package netbus

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/ports"
)

const DefaultOutboxLen = 1024

// Hub fans published frames out to every connection subscribed to the topic.
type Hub struct {
	ln        net.Listener
	obs       ports.Observability
	outboxLen int

	mu    sync.RWMutex
	conns map[*hubConn]struct{}
	wg    sync.WaitGroup
}

// Listen binds the hub to addr. Call Serve to start accepting connections.
func Listen(addr string, outboxLen int, obs ports.Observability) (*Hub, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if outboxLen <= 0 {
		outboxLen = DefaultOutboxLen
	}
	if obs == nil {
		obs = observability.Nop{}
	}
	return &Hub{
		ln:        ln,
		obs:       obs,
		outboxLen: outboxLen,
		conns:     make(map[*hubConn]struct{}),
	}, nil
}

func (h *Hub) Addr() net.Addr { return h.ln.Addr() }

// Serve accepts connections until ctx is cancelled, then closes every
// connection and waits for their goroutines.
func (h *Hub) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = h.ln.Close()
	}()

	var serveErr error
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = err
			}
			break
		}
		hc := &hubConn{
			hub:    h,
			conn:   conn,
			topics: make(map[string]struct{}),
			out:    make(chan frame, h.outboxLen),
			done:   make(chan struct{}),
		}
		h.mu.Lock()
		h.conns[hc] = struct{}{}
		h.mu.Unlock()

		h.wg.Add(2)
		go hc.readLoop()
		go hc.writeLoop()
		h.obs.LogInfo("netbus_peer_connected", ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
	}

	h.mu.RLock()
	for hc := range h.conns {
		hc.close()
	}
	h.mu.RUnlock()
	h.wg.Wait()
	return serveErr
}

func (h *Hub) route(f frame) {
	msg := frame{Kind: kindMsg, Topic: f.Topic, Payload: f.Payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for hc := range h.conns {
		if !hc.subscribed(f.Topic) {
			continue
		}
		select {
		case hc.out <- msg:
		default:
			h.obs.IncCounter("thermo_bus_dropped_total", 1)
			h.obs.LogError("netbus_outbox_full", errors.New("peer too slow"),
				ports.Field{Key: "remote", Value: hc.conn.RemoteAddr().String()},
				ports.Field{Key: "topic", Value: f.Topic})
		}
	}
}

func (h *Hub) subscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for hc := range h.conns {
		if hc.subscribed(topic) {
			n++
		}
	}
	return n
}

// peers returns the client IDs of identified connections.
func (h *Hub) peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns))
	for hc := range h.conns {
		hc.mu.RLock()
		if hc.clientID != "" {
			out = append(out, hc.clientID)
		}
		hc.mu.RUnlock()
	}
	return out
}

func (h *Hub) drop(hc *hubConn) {
	h.mu.Lock()
	delete(h.conns, hc)
	h.mu.Unlock()
	hc.close()
}

type hubConn struct {
	hub  *Hub
	conn net.Conn

	mu       sync.RWMutex
	clientID string
	topics   map[string]struct{}

	out  chan frame
	done chan struct{}
	once sync.Once
}

func (c *hubConn) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *hubConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *hubConn) readLoop() {
	defer c.hub.wg.Done()
	defer c.hub.drop(c)

	dec := codec.NewDecoder(c.conn)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.hub.obs.LogInfo("netbus_peer_disconnected",
					ports.Field{Key: "remote", Value: c.conn.RemoteAddr().String()},
					ports.Field{Key: "reason", Value: err.Error()})
			}
			return
		}

		switch f.Kind {
		case kindHello:
			c.mu.Lock()
			c.clientID = f.Client
			c.mu.Unlock()
			c.hub.obs.LogInfo("netbus_peer_identified",
				ports.Field{Key: "remote", Value: c.conn.RemoteAddr().String()},
				ports.Field{Key: "client_id", Value: f.Client})
		case kindSub:
			c.mu.Lock()
			c.topics[f.Topic] = struct{}{}
			c.mu.Unlock()
		case kindUnsub:
			c.mu.Lock()
			delete(c.topics, f.Topic)
			c.mu.Unlock()
		case kindPub:
			c.hub.route(f)
		default:
			c.hub.obs.LogError("netbus_unknown_frame", errors.New("unknown frame kind"),
				ports.Field{Key: "kind", Value: f.Kind})
		}
	}
}

func (c *hubConn) writeLoop() {
	defer c.hub.wg.Done()

	enc := codec.NewEncoder(c.conn)
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			if err := enc.Encode(f); err != nil {
				c.close()
				return
			}
		}
	}
}
