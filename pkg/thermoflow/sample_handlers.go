package thermoflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/thermoflow/internal/codec"
	"github.com/ghalamif/thermoflow/internal/ports"
)

// ErrSampleChannelClosed is returned when a sample channel receives after its
// close function ran.
var ErrSampleChannelClosed = errors.New("thermoflow: sample channel closed")

// SampleFunc receives every decoded sample of a subscription.
type SampleFunc func(ctx context.Context, s Sample) error

// NewSampleHandler adapts fn into a bus handler that decodes telemetry
// payloads.
func NewSampleHandler(fn SampleFunc) ports.Handler {
	return func(ctx context.Context, payload []byte) error {
		if fn == nil {
			return fmt.Errorf("sample handler: nil callback")
		}
		s, err := codec.DecodeSample(payload)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	}
}

// NewSampleChannel exposes samples on a channel. It returns the callback to
// register, the read side, and a close function the caller should invoke
// during shutdown. A full channel blocks the subscription's delivery
// goroutine, not the publisher.
func NewSampleChannel(buffer int) (SampleFunc, <-chan Sample, func()) {
	if buffer < 0 {
		buffer = 0
	}
	c := &sampleChannel{ch: make(chan Sample, buffer), closed: make(chan struct{})}
	return c.send, c.ch, c.close
}

type sampleChannel struct {
	mu     sync.RWMutex
	ch     chan Sample
	closed chan struct{}
	once   sync.Once
}

func (c *sampleChannel) send(ctx context.Context, s Sample) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.closed:
		return ErrSampleChannelClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrSampleChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.ch <- s:
		return nil
	}
}

func (c *sampleChannel) close() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		close(c.ch)
		c.mu.Unlock()
	})
}
