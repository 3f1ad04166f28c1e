package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/tracing"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"google.golang.org/protobuf/proto"
)

// JetStreamEventBus is an EventBus on NATS JetStream with at-least-once
// delivery. Every subscription is a durable consumer named after the
// configured consumer name and the topic's event type.
type JetStreamEventBus struct {
	nc          *nats.Conn
	js          jetstream.JetStream
	cfg         config.EventBusConfig
	logger      *logging.Logger
	consumers   []jetstream.ConsumeContext
	consumersMu sync.Mutex
	closed      bool
	closedMu    sync.RWMutex
}

// NewJetStream connects to the configured servers and creates the stream, or
// adds the cacher subjects to it when it already exists.
//
// Example:
//
//	b, err := bus.NewJetStream(ctx, cfg.EventBus, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
func NewJetStream(ctx context.Context, cfg config.EventBusConfig, logger *logging.Logger) (*JetStreamEventBus, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.NewInvalidInput("servers", "at least one NATS server is required")
	}
	if cfg.StreamName == "" {
		return nil, errors.NewInvalidInput("stream_name", "stream name is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	nc, err := nats.Connect(
		strings.Join(cfg.Servers, ","),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.NewTemporary(fmt.Sprintf("failed to connect to NATS: %v", err), err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.NewTemporary(fmt.Sprintf("failed to create JetStream context: %v", err), err)
	}

	b := &JetStreamEventBus{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: logger.WithComponent("bus"),
	}

	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "failed to ensure stream exists")
	}

	return b, nil
}

func (j *JetStreamEventBus) ensureStream(ctx context.Context) error {
	stream, err := j.js.Stream(ctx, j.cfg.StreamName)
	if err != nil {
		_, err = j.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        j.cfg.StreamName,
			Description: "cacher invalidation events",
			Subjects:    []string{subjectWildcard()},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create stream")
		}
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get stream info")
	}
	for _, subj := range info.Config.Subjects {
		if subj == subjectWildcard() {
			return nil
		}
	}

	updated := info.Config
	updated.Subjects = append(updated.Subjects, subjectWildcard())
	if _, err := j.js.UpdateStream(ctx, updated); err != nil {
		return errors.Wrap(err, "failed to update stream")
	}
	return nil
}

// Publish marshals message and waits for the stream to acknowledge it.
func (j *JetStreamEventBus) Publish(ctx context.Context, topic string, message proto.Message) error {
	j.closedMu.RLock()
	defer j.closedMu.RUnlock()

	if j.closed {
		return errors.NewPermanent("event bus is closed", nil)
	}

	data, err := proto.Marshal(message)
	if err != nil {
		return errors.NewPermanent(fmt.Sprintf("failed to marshal message: %v", err), err)
	}

	msg := nats.NewMsg(topic)
	msg.Data = data
	tracing.SetSpanAttributes(ctx, tracing.MessagingAttributes("nats", topic, "publish", len(data))...)
	tracing.Inject(ctx, headerCarrier(msg.Header))

	if _, err := j.js.PublishMsg(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "publish cancelled")
		}
		return errors.NewTemporary(fmt.Sprintf("failed to publish message: %v", err), err)
	}

	return nil
}

// Subscribe creates (or resumes) the durable consumer for topic. Payloads
// that cannot be decoded are terminated; handler errors that are temporary
// are negatively acknowledged for redelivery, anything else is acknowledged.
func (j *JetStreamEventBus) Subscribe(ctx context.Context, topic string, handler HandlerFunc, options ...SubscribeOption) error {
	j.closedMu.RLock()
	defer j.closedMu.RUnlock()

	if j.closed {
		return errors.NewPermanent("event bus is closed", nil)
	}

	opts := buildOptions(options)
	handler = applyMiddleware(handler, opts.middlewares)

	name := j.consumerName(topic)
	consumer, err := j.js.CreateOrUpdateConsumer(ctx, j.cfg.StreamName, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    j.maxDeliver(),
		AckWait:       j.ackWait(),
		MaxAckPending: j.maxAckPending(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create consumer")
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		j.handle(ctx, msg, opts.newMessage(), handler)
	})
	if err != nil {
		return errors.Wrap(err, "failed to start consuming")
	}

	j.consumersMu.Lock()
	j.consumers = append(j.consumers, consumeCtx)
	j.consumersMu.Unlock()

	return nil
}

func (j *JetStreamEventBus) handle(ctx context.Context, msg jetstream.Msg, payload proto.Message, handler HandlerFunc) {
	if err := proto.Unmarshal(msg.Data(), payload); err != nil {
		j.logger.Error().Err(err).Str("topic", msg.Subject()).Msg("dropping undecodable event")
		_ = msg.Term()
		return
	}

	msgCtx := tracing.Extract(ctx, headerCarrier(msg.Headers()))
	err := handler(msgCtx, payload)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.IsTemporary(err):
		_ = msg.Nak()
	default:
		j.logger.Error().Err(err).Str("topic", msg.Subject()).Msg("event handler failed")
		_ = msg.Ack()
	}
}

func (j *JetStreamEventBus) consumerName(topic string) string {
	if j.cfg.ConsumerName != "" {
		return fmt.Sprintf("%s-%s", j.cfg.ConsumerName, ParseEventType(topic))
	}
	return fmt.Sprintf("consumer-%s", ParseEventType(topic))
}

func (j *JetStreamEventBus) maxDeliver() int {
	if j.cfg.MaxDeliver > 0 {
		return j.cfg.MaxDeliver
	}
	return 3
}

func (j *JetStreamEventBus) ackWait() time.Duration {
	if j.cfg.AckWait > 0 {
		return j.cfg.AckWait
	}
	return 30 * time.Second
}

func (j *JetStreamEventBus) maxAckPending() int {
	if j.cfg.MaxAckPending > 0 {
		return j.cfg.MaxAckPending
	}
	return 1000
}

// Close stops every consumer and drains the connection.
func (j *JetStreamEventBus) Close() error {
	j.closedMu.Lock()
	defer j.closedMu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	j.consumersMu.Lock()
	for _, consumer := range j.consumers {
		consumer.Stop()
	}
	j.consumers = nil
	j.consumersMu.Unlock()

	if j.nc != nil {
		_ = j.nc.Drain()
		j.nc.Close()
	}

	return nil
}

// Check verifies the NATS connection is up and the server answers.
func (j *JetStreamEventBus) Check(ctx context.Context) error {
	j.closedMu.RLock()
	defer j.closedMu.RUnlock()

	if j.closed {
		return errors.NewTemporary("event bus is closed", nil)
	}
	if status := j.nc.Status(); status != nats.CONNECTED {
		return errors.NewTemporary(fmt.Sprintf("NATS connection not connected: status=%v", status), nil)
	}
	if _, err := j.nc.RTT(); err != nil {
		return errors.NewTemporary("NATS RTT check failed", err)
	}
	return nil
}

// headerCarrier lets the trace propagator read and write NATS headers.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c headerCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
