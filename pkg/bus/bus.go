// Package bus carries cacher events between processes: notifications that a
// key was invalidated, requests to invalidate a key remotely, and reports of
// swallowed store errors. Payloads are protobuf messages (the cacher uses
// structpb.Struct) and the W3C trace context of the publisher travels with
// every message.
//
// Two backends are provided: an in-process bus for tests and single-node
// deployments, and NATS JetStream for fan-out across a fleet.
//
// Example usage:
//
//	b := bus.NewMemory()
//	defer b.Close()
//
//	err := b.Subscribe(ctx, bus.TopicInvalidateRequested,
//	    func(ctx context.Context, msg proto.Message) error {
//	        return handle(ctx, msg.(*structpb.Struct))
//	    },
//	    bus.WithRecovery(),
//	    bus.WithLogging(logger),
//	)
package bus

import (
	"context"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventBus publishes and subscribes to protobuf events. All methods respect ctx.
type EventBus interface {
	// Publish sends message to every subscriber of topic.
	Publish(ctx context.Context, topic string, message proto.Message) error

	// Subscribe invokes handler for every message received on topic, wrapped
	// in the middleware carried by options.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, options ...SubscribeOption) error

	// Close stops every subscription and releases the connection.
	Close() error
}

// HandlerFunc processes one event. A temporary error asks for redelivery on
// backends that support it.
type HandlerFunc func(ctx context.Context, message proto.Message) error

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	middlewares []Middleware
	newMessage  func() proto.Message
}

// WithMessageType sets the concrete type remote payloads are decoded into.
// The default is structpb.Struct. The in-memory bus delivers the published
// message type unchanged and ignores this option.
func WithMessageType(newMessage func() proto.Message) SubscribeOption {
	return func(opts *subscribeOptions) {
		opts.newMessage = newMessage
	}
}

// WithMiddleware adds arbitrary middleware to a subscription.
func WithMiddleware(m Middleware) SubscribeOption {
	return func(opts *subscribeOptions) {
		opts.middlewares = append(opts.middlewares, m)
	}
}

// applyMiddleware wraps handler so that the first middleware added is the outermost.
func applyMiddleware(handler HandlerFunc, middlewares []Middleware) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func buildOptions(opts []SubscribeOption) *subscribeOptions {
	options := &subscribeOptions{
		newMessage: func() proto.Message { return &structpb.Struct{} },
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// messageType names a message for logs and metrics.
func messageType(msg proto.Message) string {
	if msg == nil {
		return "nil"
	}
	return string(msg.ProtoReflect().Descriptor().FullName())
}
