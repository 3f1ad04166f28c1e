package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// startTestNATSServer starts an embedded JetStream-enabled NATS server.
func startTestNATSServer(t *testing.T) *server.Server {
	t.Helper()

	s, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Failed to create NATS server: %v", err)
	}

	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(s.Shutdown)

	return s
}

func newTestJetStream(t *testing.T, ns *server.Server, consumer string) *JetStreamEventBus {
	t.Helper()

	b, err := NewJetStream(context.Background(), config.EventBusConfig{
		Backend:      "jetstream",
		Servers:      []string{ns.ClientURL()},
		StreamName:   "CACHER_TEST",
		ConsumerName: consumer,
		MaxDeliver:   3,
		AckWait:      time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewJetStream failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestJetStreamEventBus_CreateStream(t *testing.T) {
	ns := startTestNATSServer(t)
	b := newTestJetStream(t, ns, "")

	ctx := context.Background()
	stream, err := b.js.Stream(ctx, "CACHER_TEST")
	if err != nil {
		t.Fatalf("Stream not found: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Failed to get stream info: %v", err)
	}
	if len(info.Config.Subjects) != 1 || info.Config.Subjects[0] != "cacher.events.v1.>" {
		t.Errorf("Subjects = %v", info.Config.Subjects)
	}

	// A second bus reuses the existing stream.
	newTestJetStream(t, ns, "other")
}

func TestJetStreamEventBus_ExtendsExistingStream(t *testing.T) {
	ns := startTestNATSServer(t)
	ctx := context.Background()

	first := newTestJetStream(t, ns, "")
	if err := first.js.DeleteStream(ctx, "CACHER_TEST"); err != nil {
		t.Fatalf("DeleteStream failed: %v", err)
	}
	if _, err := first.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "CACHER_TEST",
		Subjects: []string{"legacy.>"},
	}); err != nil {
		t.Fatalf("CreateStream failed: %v", err)
	}

	second := newTestJetStream(t, ns, "")
	stream, err := second.js.Stream(ctx, "CACHER_TEST")
	if err != nil {
		t.Fatalf("Stream not found: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Failed to get stream info: %v", err)
	}
	if len(info.Config.Subjects) != 2 {
		t.Errorf("expected cacher subjects appended, got %v", info.Config.Subjects)
	}
}

func TestJetStreamEventBus_PublishSubscribe(t *testing.T) {
	ns := startTestNATSServer(t)
	b := newTestJetStream(t, ns, "cacher")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx := context.Background()
	received := make(chan *structpb.Struct, 1)
	traces := make(chan trace.TraceID, 1)

	err := b.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
		event, ok := msg.(*structpb.Struct)
		if !ok {
			t.Errorf("Expected *structpb.Struct, got %T", msg)
			return errors.NewPermanent("invalid message type", nil)
		}
		traces <- trace.SpanContextFromContext(ctx).TraceID()
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	pubCtx, span := tp.Tracer("test").Start(ctx, "publish")
	defer span.End()

	if err := b.Publish(pubCtx, TopicInvalidated, invalidationEvent(t, "minimalism:JSON:null:post(7)")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if got := event.Fields["key"].GetStringValue(); got != "minimalism:JSON:null:post(7)" {
			t.Errorf("key = %q", got)
		}
		if got := event.Fields["keys_removed"].GetNumberValue(); got != 2 {
			t.Errorf("keys_removed = %v, want 2", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for message")
	}

	if got := <-traces; got != span.SpanContext().TraceID() {
		t.Errorf("trace ID = %s, want %s", got, span.SpanContext().TraceID())
	}
}

func TestJetStreamEventBus_TemporaryErrorRedelivers(t *testing.T) {
	ns := startTestNATSServer(t)
	b := newTestJetStream(t, ns, "cacher")

	ctx := context.Background()
	var attempts atomic.Int32
	done := make(chan struct{})

	err := b.Subscribe(ctx, TopicInvalidateRequested, func(ctx context.Context, msg proto.Message) error {
		if attempts.Add(1) == 1 {
			return errors.NewTemporary("store unavailable", nil)
		}
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(ctx, TopicInvalidateRequested, invalidationEvent(t, "k")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("message was not redelivered, attempts=%d", attempts.Load())
	}
}

func TestJetStreamEventBus_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EventBusConfig
	}{
		{"no servers", config.EventBusConfig{Backend: "jetstream", StreamName: "TEST"}},
		{"no stream name", config.EventBusConfig{Backend: "jetstream", Servers: []string{"nats://localhost:4222"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJetStream(context.Background(), tt.cfg, nil)
			if !errors.IsInvalidInput(err) {
				t.Errorf("Expected InvalidInput error, got: %v", err)
			}
		})
	}
}

func TestJetStreamEventBus_ConnectFailure(t *testing.T) {
	_, err := NewJetStream(context.Background(), config.EventBusConfig{
		Servers:    []string{"nats://127.0.0.1:1"},
		StreamName: "TEST",
	}, nil)
	if !errors.IsTemporary(err) {
		t.Errorf("Expected Temporary error, got: %v", err)
	}
}

func TestJetStreamEventBus_Defaults(t *testing.T) {
	b := &JetStreamEventBus{}
	if b.maxDeliver() != 3 || b.ackWait() != 30*time.Second || b.maxAckPending() != 1000 {
		t.Errorf("unexpected defaults: %d %v %d", b.maxDeliver(), b.ackWait(), b.maxAckPending())
	}
	if got := b.consumerName(TopicInvalidated); got != "consumer-cache_invalidated" {
		t.Errorf("consumerName = %q", got)
	}

	b.cfg = config.EventBusConfig{ConsumerName: "blog", MaxDeliver: 5, AckWait: time.Second, MaxAckPending: 10}
	if b.maxDeliver() != 5 || b.ackWait() != time.Second || b.maxAckPending() != 10 {
		t.Errorf("unexpected configured values: %d %v %d", b.maxDeliver(), b.ackWait(), b.maxAckPending())
	}
	if got := b.consumerName(TopicError); got != "blog-cache_error" {
		t.Errorf("consumerName = %q", got)
	}
}

func TestJetStreamEventBus_Close(t *testing.T) {
	ns := startTestNATSServer(t)
	b := newTestJetStream(t, ns, "")

	ctx := context.Background()
	if err := b.Check(ctx); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := b.Publish(ctx, TopicInvalidated, invalidationEvent(t, "k")); !errors.IsPermanent(err) {
		t.Errorf("Publish after Close error = %v, want permanent", err)
	}
	if err := b.Check(ctx); !errors.IsTemporary(err) {
		t.Errorf("Check after Close error = %v, want temporary", err)
	}
}
