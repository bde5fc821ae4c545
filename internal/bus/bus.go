// Package bus provides the topic-keyed publish/subscribe channel that
// carries log events from running sandboxes to streaming subscribers.
//
// Each execution owns exactly one topic, opened at admission and torn down
// at completion. Publishing is fire-and-forget: events published to a topic
// with no subscribers are dropped, and a slow subscriber loses its oldest
// buffered events rather than ever blocking a publisher. The final LogBatch
// returned by the executor is the authoritative record; the bus stream is a
// best-effort live view.
//
// Two implementations exist: the in-process Memory bus (default) and a
// Redis Pub/Sub bus for multi-node deployments.
package bus

import (
	"context"
	"sync/atomic"

	"github.com/divitsinghall/Vortex/internal/domain"
)

// DefaultBufferSize bounds each subscriber's in-flight event buffer.
const DefaultBufferSize = 64

// Bus is the topic-keyed pub/sub surface.
//
// Ordering guarantee: for a single subscriber on a single topic, events
// arrive in publish order. No guarantee holds across topics.
type Bus interface {
	// OpenTopic registers a topic. On the Memory bus, subscribing to a
	// topic that was never opened (or already closed) yields an immediate
	// end-of-stream. The Redis bus keeps no topic registry: such a
	// subscription stays open until CloseTopic, Cancel or context end.
	OpenTopic(topic string)

	// Publish appends an event to the topic and returns immediately.
	// Events on unknown topics or topics with no subscribers are dropped.
	Publish(ctx context.Context, topic string, ev domain.LogEvent)

	// Subscribe attaches to a topic. Only events published after Subscribe
	// returns are delivered; history is never replayed. The subscription's
	// channel is closed when the topic closes, the context is cancelled,
	// or Cancel is called.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)

	// CloseTopic tears the topic down and signals end-of-stream to every
	// attached subscriber. Closing an unknown topic is a no-op.
	CloseTopic(topic string)

	// Close releases all resources. Every open topic is closed.
	Close() error
}

// Subscription is one subscriber's attachment to a topic. Receive from C
// until it is closed; a closed channel means no more events will arrive
// for this topic.
type Subscription struct {
	// C yields events in publish order.
	C <-chan domain.LogEvent

	topic    string
	dropped  atomic.Uint64
	cancelFn func()
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// Dropped reports how many events were discarded because this subscriber
// fell behind its buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
	if s.cancelFn != nil {
		s.cancelFn()
	}
}
