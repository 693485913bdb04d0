package ports

import "context"

// Handler processes one message delivered on a subscribed topic. A returned
// error is logged by the bus and never reaches the publisher.
type Handler func(ctx context.Context, payload []byte) error

// Publisher is the fire-and-forget half of the bus.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Bus is a topic based publish/subscribe transport.
type Bus interface {
	Publisher
	Subscribe(topic, name string, h Handler) (Subscription, error)
	Close() error
}

// Subscription is a registered handler; Cancel stops further deliveries.
type Subscription interface {
	Topic() string
	Cancel()
}

// Message is one published payload as it sits in a subscriber mailbox.
type Message struct {
	Topic   string
	Payload []byte
}
