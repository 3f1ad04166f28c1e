package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// invalidationEvent builds the payload the cacher publishes for key.
func invalidationEvent(t *testing.T, key string) *structpb.Struct {
	t.Helper()

	s, err := structpb.NewStruct(map[string]interface{}{
		"key":          key,
		"keys_removed": 2,
	})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	return s
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)

	err := bus.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
		defer wg.Done()
		event := msg.(*structpb.Struct)
		if got := event.Fields["key"].GetStringValue(); got != "minimalism:DATA:null:post(42)" {
			t.Errorf("key = %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, TopicInvalidated, invalidationEvent(t, "minimalism:DATA:null:post(42)")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitGroup(t, &wg)
}

func TestMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		err := bus.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
			received.Add(1)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	if err := bus.Publish(ctx, TopicInvalidated, invalidationEvent(t, "k")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitGroup(t, &wg)
	if received.Load() != 3 {
		t.Errorf("Expected 3 deliveries, got %d", received.Load())
	}
}

func TestMemoryEventBus_SubscribersGetCopies(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	ctx := context.Background()
	original := invalidationEvent(t, "original")

	var wg sync.WaitGroup
	wg.Add(1)
	err := bus.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
		defer wg.Done()
		if msg == original {
			t.Error("subscriber received the publisher's instance")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, TopicInvalidated, original); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitGroup(t, &wg)
}

func TestMemoryEventBus_TraceContextPropagation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	bus := NewMemory()
	defer bus.Close()

	pubCtx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	var wg sync.WaitGroup
	wg.Add(1)
	var got trace.SpanContext
	err := bus.Subscribe(context.Background(), TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
		got = trace.SpanContextFromContext(ctx)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(pubCtx, TopicInvalidated, invalidationEvent(t, "k")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitGroup(t, &wg)

	if got.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("handler trace ID = %s, want %s", got.TraceID(), span.SpanContext().TraceID())
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemory()
	ctx := context.Background()

	err := bus.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Check(ctx); err != nil {
		t.Errorf("Check() before Close error = %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := bus.Publish(ctx, TopicInvalidated, invalidationEvent(t, "k")); !errors.IsPermanent(err) {
		t.Errorf("Publish after Close error = %v, want permanent", err)
	}
	err = bus.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error { return nil })
	if !errors.IsPermanent(err) {
		t.Errorf("Subscribe after Close error = %v, want permanent", err)
	}
	if err := bus.Check(ctx); err == nil {
		t.Error("Check() after Close should fail")
	}
}

func TestMemoryEventBus_NoSubscribers(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	if err := bus.Publish(context.Background(), TopicError, invalidationEvent(t, "k")); err != nil {
		t.Errorf("Publish without subscribers failed: %v", err)
	}
}

func TestMemoryEventBus_HandlerErrorKeepsSubscription(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	ctx := context.Background()

	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	err := bus.Subscribe(ctx, TopicInvalidateRequested, func(ctx context.Context, msg proto.Message) error {
		defer wg.Done()
		if calls.Add(1) == 1 {
			return errors.NewPermanent("bad key", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := bus.Publish(ctx, TopicInvalidateRequested, invalidationEvent(t, "k")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	waitGroup(t, &wg)
	if calls.Load() != 2 {
		t.Errorf("expected 2 deliveries after a handler error, got %d", calls.Load())
	}
}

func TestMemoryEventBus_SubscriptionEndsWithContext(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	err := bus.Subscribe(ctx, TopicInvalidated, func(ctx context.Context, msg proto.Message) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()
	time.Sleep(20 * time.Millisecond)

	if err := bus.Publish(context.Background(), TopicInvalidated, invalidationEvent(t, "k")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("handler ran %d times after its context was cancelled", calls.Load())
	}
}
