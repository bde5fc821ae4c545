package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/divitsinghall/Vortex/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// endOfStream is the control payload that closes a topic across nodes.
// It is not valid LogEvent JSON, so it can never collide with a real event.
const endOfStream = "__vortex_eos__"

// Redis is a Bus backed by Redis Pub/Sub, for deployments where the
// executor and the subscriber gateway run on different nodes.
//
// Redis Pub/Sub already has fire-and-forget semantics: messages published
// while nobody is subscribed are gone, which matches the bus contract.
// Per-subscriber buffering and drop-oldest behavior are applied on the
// receiving side, identical to the Memory bus.
type Redis struct {
	client     *redis.Client
	prefix     string
	bufferSize int

	mu     sync.Mutex
	closed bool
}

// RedisConfig holds connection settings for the Redis bus.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string // default "vortex:topic:"
	BufferSize int
}

// NewRedis creates a Redis-backed bus.
func NewRedis(cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "vortex:topic:"
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix:     prefix,
		bufferSize: size,
	}
}

// NewRedisFromClient wraps an existing client, sharing the connection with
// other Redis consumers (e.g. the store cache).
func NewRedisFromClient(client *redis.Client, prefix string, bufferSize int) *Redis {
	if prefix == "" {
		prefix = "vortex:topic:"
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Redis{client: client, prefix: prefix, bufferSize: bufferSize}
}

// Ping verifies connectivity; used by the startup probe.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) channel(topic string) string {
	return r.prefix + topic
}

// OpenTopic is a no-op: Redis channels exist implicitly, and cross-node
// topic registries are not worth the coordination. End-of-stream is
// signalled in-band by CloseTopic.
func (r *Redis) OpenTopic(_ string) {}

func (r *Redis) Publish(ctx context.Context, topic string, ev domain.LogEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Op().Error("bus: marshal log event", "topic", topic, "error", err)
		return
	}
	metrics.RecordBusPublish(1)
	if err := r.client.Publish(ctx, r.channel(topic), data).Err(); err != nil {
		logging.Op().Warn("bus: redis publish failed", "topic", topic, "error", err)
	}
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch := make(chan domain.LogEvent)
		close(ch)
		return &Subscription{C: ch, topic: topic, cancelFn: func() {}}, nil
	}
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ps := r.client.Subscribe(ctx, r.channel(topic))
	// Force the subscription handshake so events published after Subscribe
	// returns are guaranteed to be delivered.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	ch := make(chan domain.LogEvent, r.bufferSize)
	sub := &Subscription{C: ch, topic: topic}

	var once sync.Once
	sub.cancelFn = func() {
		once.Do(func() {
			_ = ps.Close()
		})
	}

	metrics.SubscriberAttached()
	go func() {
		defer func() {
			sub.cancelFn()
			close(ch)
			metrics.SubscriberDetached()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ps.Channel():
				if !ok {
					return
				}
				if msg.Payload == endOfStream {
					return
				}
				var ev domain.LogEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logging.Op().Warn("bus: drop malformed event", "topic", topic, "error", err)
					continue
				}
				for {
					select {
					case ch <- ev:
					default:
						select {
						case <-ch:
							sub.dropped.Add(1)
							metrics.RecordBusDrop()
						default:
						}
						continue
					}
					break
				}
			}
		}
	}()

	return sub, nil
}

func (r *Redis) CloseTopic(topic string) {
	if err := r.client.Publish(context.Background(), r.channel(topic), endOfStream).Err(); err != nil {
		logging.Op().Warn("bus: close topic failed", "topic", topic, "error", err)
	}
}

func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.client.Close()
}
