package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/tracing"
	"google.golang.org/protobuf/proto"
)

// memoryBuffer is the per-subscription queue length.
const memoryBuffer = 100

// MemoryEventBus delivers events between goroutines of one process. Each
// subscription has its own buffered queue and handler goroutine.
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription
	closed        bool
	logger        *logging.Logger
}

type subscription struct {
	topic   string
	handler HandlerFunc
	ch      chan envelope
	done    chan struct{}
}

// envelope is a message plus the trace context of its publisher.
type envelope struct {
	message proto.Message
	headers map[string]string
}

// MemoryOption configures a MemoryEventBus.
type MemoryOption func(*MemoryEventBus)

// WithMemoryLogger logs handler failures to logger.
func WithMemoryLogger(logger *logging.Logger) MemoryOption {
	return func(m *MemoryEventBus) {
		if logger != nil {
			m.logger = logger.WithComponent("bus")
		}
	}
}

// NewMemory creates an in-process event bus.
func NewMemory(opts ...MemoryOption) *MemoryEventBus {
	m := &MemoryEventBus{
		subscriptions: make(map[string][]*subscription),
		logger:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish queues a copy of message for every subscriber of topic. Publishing
// to a topic nobody listens on succeeds.
func (m *MemoryEventBus) Publish(ctx context.Context, topic string, message proto.Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errors.NewPermanent("event bus is closed", nil)
	}

	tracing.SetSpanAttributes(ctx, tracing.MessagingAttributes("memory", topic, "publish", proto.Size(message))...)

	subs := m.subscriptions[topic]
	if len(subs) == 0 {
		return nil
	}

	headers := tracing.InjectMap(ctx)
	for _, sub := range subs {
		env := envelope{message: proto.Clone(message), headers: headers}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish cancelled")
		case sub.ch <- env:
		case <-sub.done:
		}
	}

	return nil
}

// Subscribe starts a goroutine delivering topic's messages to handler until
// ctx is done or the bus is closed.
func (m *MemoryEventBus) Subscribe(ctx context.Context, topic string, handler HandlerFunc, options ...SubscribeOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.NewPermanent("event bus is closed", nil)
	}

	opts := buildOptions(options)
	sub := &subscription{
		topic:   topic,
		handler: applyMiddleware(handler, opts.middlewares),
		ch:      make(chan envelope, memoryBuffer),
		done:    make(chan struct{}),
	}
	m.subscriptions[topic] = append(m.subscriptions[topic], sub)

	go m.run(ctx, sub)

	return nil
}

func (m *MemoryEventBus) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.ch:
			if !ok {
				return
			}

			msgCtx := tracing.ExtractMap(ctx, env.headers)
			if err := sub.handler(msgCtx, env.message); err != nil {
				m.logger.Error().
					Err(err).
					Str("topic", sub.topic).
					Str("message_type", messageType(env.message)).
					Msg("event handler failed")
			}
		}
	}
}

// Close stops every subscription. Further Publish and Subscribe calls fail.
func (m *MemoryEventBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, subs := range m.subscriptions {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	m.subscriptions = make(map[string][]*subscription)

	return nil
}

// Check reports the bus as unhealthy once it is closed.
func (m *MemoryEventBus) Check(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("event bus is closed")
	}
	return nil
}
