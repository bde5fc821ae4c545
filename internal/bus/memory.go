package bus

import (
	"context"
	"sync"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/metrics"
	"github.com/google/uuid"
)

// Memory is the in-process Bus implementation. Suitable for single-node
// deployments; all state lives in a topic → subscriber map guarded by a
// read-write mutex, with per-subscriber bounded channels.
type Memory struct {
	mu         sync.RWMutex
	topics     map[string]map[string]*memorySub
	bufferSize int
	closed     bool
}

type memorySub struct {
	id string
	ch chan domain.LogEvent

	mu     sync.Mutex
	closed bool
	sub    *Subscription
}

// NewMemory creates an in-memory bus. bufferSize <= 0 selects
// DefaultBufferSize.
func NewMemory(bufferSize int) *Memory {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Memory{
		topics:     make(map[string]map[string]*memorySub),
		bufferSize: bufferSize,
	}
}

func (m *Memory) OpenTopic(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.topics[topic]; !ok {
		m.topics[topic] = make(map[string]*memorySub)
	}
}

func (m *Memory) Publish(_ context.Context, topic string, ev domain.LogEvent) {
	m.mu.RLock()
	subs, ok := m.topics[topic]
	if !ok {
		m.mu.RUnlock()
		return
	}
	// Snapshot so delivery happens outside the topic lock.
	targets := make([]*memorySub, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	metrics.RecordBusPublish(len(targets))
	for _, s := range targets {
		s.deliver(ev)
	}
}

// deliver enqueues the event, evicting the oldest buffered event when the
// subscriber is full. The per-subscriber mutex serializes delivery against
// close, so a send never races a channel close.
func (s *memorySub) deliver(ev domain.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.sub.dropped.Add(1)
			metrics.RecordBusDrop()
		default:
		}
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ch := make(chan domain.LogEvent, m.bufferSize)
	ms := &memorySub{id: uuid.New().String(), ch: ch}
	sub := &Subscription{C: ch, topic: topic}
	ms.sub = sub

	m.mu.Lock()
	subs, ok := m.topics[topic]
	if !ok || m.closed {
		m.mu.Unlock()
		// Unknown or closed topic: immediate end-of-stream.
		ms.close()
		sub.cancelFn = func() {}
		return sub, nil
	}
	subs[ms.id] = ms
	m.mu.Unlock()

	metrics.SubscriberAttached()
	done := make(chan struct{})
	var once sync.Once
	sub.cancelFn = func() {
		once.Do(func() {
			m.mu.Lock()
			if subs, ok := m.topics[topic]; ok {
				delete(subs, ms.id)
			}
			m.mu.Unlock()
			ms.close()
			close(done)
			metrics.SubscriberDetached()
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Cancel()
			case <-done:
			}
		}()
	}

	return sub, nil
}

func (m *Memory) CloseTopic(topic string) {
	m.mu.Lock()
	subs, ok := m.topics[topic]
	delete(m.topics, topic)
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range subs {
		s.sub.Cancel()
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	topics := m.topics
	m.topics = make(map[string]map[string]*memorySub)
	m.closed = true
	m.mu.Unlock()

	for _, subs := range topics {
		for _, s := range subs {
			s.close()
		}
	}
	return nil
}
