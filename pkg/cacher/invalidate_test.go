package cacher

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carlonicora/minimalism-service-cacher/pkg/bus"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func seed(mr *miniredis.Miniredis, keys ...string) {
	for _, key := range keys {
		mr.Set(key, "x")
	}
}

func assertKeys(t *testing.T, mr *miniredis.Miniredis, want ...string) {
	t.Helper()

	got := mr.Keys()
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

// postScenario seeds post 42, a comment list embedding it and unrelated keys.
// The keys that must survive invalidating post 42 are returned.
func postScenario(mr *miniredis.Miniredis) []string {
	seed(mr,
		"minimalism:DATA:null:post(42)",
		"minimalism:JSON:null:post(42)",
		"minimalism:DATA:null:post(42):viewer(3)",
		"minimalism:DATA:post:comment(7)",
		"minimalism:DATA:post(42):comment(7)",
		"minimalism:DATA:post(43):comment(7)",
	)

	survivors := []string{
		"minimalism:DATA:null:post(43)",
		"minimalism:DATA:post:comment(8)",
		"minimalism:DATA:post(43):comment(8)",
		"minimalism:DATA:null:comment(7)",
	}
	seed(mr, survivors...)
	return survivors
}

func TestInvalidateDependents(t *testing.T) {
	c, mr := setupCacher(t, WithGraph(NewGraph(map[string][]string{"post": {"comment"}})))
	survivors := postScenario(mr)

	if err := c.Invalidate(context.Background(), c.Factory().Create("post", cachekey.Int(42))); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	assertKeys(t, mr, survivors...)
}

func TestInvalidateWithoutDependents(t *testing.T) {
	c, mr := setupCacher(t)
	postScenario(mr)

	if err := c.Invalidate(context.Background(), c.Factory().Create("post", cachekey.Int(42))); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	// Without a graph the comment list keeps its membership marker.
	if !mr.Exists("minimalism:DATA:post(42):comment(7)") {
		t.Error("membership marker removed without a dependency")
	}
	if mr.Exists("minimalism:DATA:null:post(42)") || mr.Exists("minimalism:DATA:null:post(42):viewer(3)") {
		t.Errorf("entity keys survived: %v", mr.Keys())
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCacher(t, WithGraph(NewGraph(map[string][]string{"post": {"comment"}})))
	survivors := postScenario(mr)

	for i := 0; i < 2; i++ {
		if err := c.Invalidate(ctx, c.Factory().Create("post", cachekey.Int(42))); err != nil {
			t.Fatalf("Invalidate() call %d error = %v", i+1, err)
		}
		assertKeys(t, mr, survivors...)
	}
}

func TestInvalidateJSONMembershipInvalidatesOwner(t *testing.T) {
	c, mr := setupCacher(t, WithGraph(NewGraph(map[string][]string{"post": {"comment"}})))
	seed(mr,
		"minimalism:JSON:post(42):comment(7)",
		"minimalism:JSON:null:comment(7)",
		"minimalism:JSON:null:post(42)",
		"minimalism:DATA:null:comment(7)",
	)

	b := c.Factory().Create("post", cachekey.Int(42)).WithType(cachekey.JSON)
	if err := c.Invalidate(context.Background(), b); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	assertKeys(t, mr, "minimalism:DATA:null:comment(7)")
}

func TestInvalidateList(t *testing.T) {
	c, mr := setupCacher(t)
	seed(mr,
		"minimalism:DATA:post:user(1)",
		"minimalism:DATA:post:user(1):locale(en)",
		"minimalism:DATA:post(5):user(1)",
		"minimalism:DATA:null:user(1)",
		"minimalism:DATA:null:post(5)",
		"minimalism:DATA:post:user(2)",
	)

	if err := c.Invalidate(context.Background(), c.Factory().CreateListGranular("post", "user", cachekey.Int(1))); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	assertKeys(t, mr,
		"minimalism:DATA:null:post(5)",
		"minimalism:DATA:post:user(2)",
	)
}

func TestInvalidateOnlyChildren(t *testing.T) {
	c, mr := setupCacher(t)
	seed(mr,
		"minimalism:DATA:null:user(1)",
		"minimalism:JSON:null:user(1):locale(en)",
		"minimalism:DATA:post:user(1)",
		"minimalism:DATA:post(5):user(1)",
		"minimalism:DATA:null:user(2)",
		"minimalism:DATA:null:post(5)",
	)

	b := c.Factory().Create("user", cachekey.Int(1))
	b.InvalidateOnlyChildren()

	if err := c.Invalidate(context.Background(), b); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	assertKeys(t, mr,
		"minimalism:DATA:null:post(5)",
		"minimalism:DATA:null:user(2)",
	)
}

func TestInvalidateTerminatesOnCycles(t *testing.T) {
	tests := []struct {
		name      string
		graph     map[string][]string
		keys      []string
		root      *cachekey.Builder
		survivors []string
	}{
		{
			name:  "mutual dependency",
			graph: map[string][]string{"post": {"user"}, "user": {"post"}},
			keys: []string{
				"minimalism:JSON:post(1):user(2)",
				"minimalism:JSON:user(2):post(1)",
				"minimalism:JSON:null:user(2)",
				"minimalism:JSON:null:post(1)",
			},
			root:      cachekey.NewFactory(nil).Create("post", cachekey.Int(1)).WithType(cachekey.JSON),
			survivors: []string{"minimalism:DATA:null:user(3)"},
		},
		{
			name:  "self dependency",
			graph: map[string][]string{"post": {"post"}},
			keys: []string{
				"minimalism:JSON:post(1):post(1)",
				"minimalism:JSON:null:post(1)",
			},
			root:      cachekey.NewFactory(nil).Create("post", cachekey.Int(1)).WithType(cachekey.JSON),
			survivors: []string{"minimalism:DATA:null:user(3)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mr := setupCacher(t, WithGraph(NewGraph(tt.graph)))
			seed(mr, tt.keys...)
			seed(mr, tt.survivors...)

			done := make(chan error, 1)
			go func() {
				done <- c.Invalidate(context.Background(), tt.root)
			}()

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Invalidate() error = %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Invalidate() did not terminate")
			}

			assertKeys(t, mr, tt.survivors...)
		})
	}
}

func TestInvalidateDoesNotModifyBuilder(t *testing.T) {
	c, _ := setupCacher(t)
	b := c.Factory().Create("post", cachekey.Int(42))

	if err := c.Invalidate(context.Background(), b); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if b.Type() != cachekey.Data {
		t.Errorf("builder type = %v, want Data", b.Type())
	}
}

func TestInvalidateErrors(t *testing.T) {
	t.Run("unaddressed builder", func(t *testing.T) {
		c, _ := setupCacher(t)

		err := c.Invalidate(context.Background(), cachekey.NewBuilder())
		if !errors.IsConfiguration(err) {
			t.Errorf("Invalidate() error = %v, want ConfigurationError", err)
		}
	})

	t.Run("store down", func(t *testing.T) {
		rec := &errorRecorder{}
		c, mr := setupCacher(t, WithErrorHandler(rec.handle))
		mr.Close()

		err := c.Invalidate(context.Background(), c.Factory().Create("post", cachekey.Int(42)))
		if !errors.IsTemporary(err) {
			t.Fatalf("Invalidate() error = %v, want temporary", err)
		}
		if rec.count() != 1 || rec.ops[0] != OpInvalidate {
			t.Errorf("error handler calls = %v", rec.ops)
		}
	})
}

func TestInvalidateSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c, mr := setupCacher(t,
		WithTracer(tp.Tracer("test")),
		WithGraph(NewGraph(map[string][]string{"post": {"comment"}})),
	)
	postScenario(mr)

	if err := c.Invalidate(context.Background(), c.Factory().Create("post", cachekey.Int(42))); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	var root sdktrace.ReadOnlySpan
	steps := 0
	for _, span := range sr.Ended() {
		switch span.Name() {
		case "cacher.Invalidate":
			root = span
		case "cacher.cascade":
			steps++
		}
	}

	if root == nil {
		t.Fatal("missing cacher.Invalidate span")
	}
	if steps != 2 {
		t.Errorf("cascade spans = %d, want 2", steps)
	}

	attrs := map[string]bool{}
	for _, kv := range root.Attributes() {
		attrs[string(kv.Key)] = true
	}
	for _, key := range []string{string(tracing.AttrCascadeID), string(tracing.AttrKeysRemoved), string(tracing.AttrCacheKey)} {
		if !attrs[key] {
			t.Errorf("root span lacks attribute %s", key)
		}
	}
}

// subscribe collects the structpb payloads published on topic.
func subscribe(t *testing.T, eb bus.EventBus, topic string) <-chan *structpb.Struct {
	t.Helper()

	ch := make(chan *structpb.Struct, 16)
	err := eb.Subscribe(context.Background(), topic, func(_ context.Context, msg proto.Message) error {
		ch <- msg.(*structpb.Struct)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *structpb.Struct) *structpb.Struct {
	t.Helper()

	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestInvalidatePublishesEvent(t *testing.T) {
	eb := bus.NewMemory()
	t.Cleanup(func() { eb.Close() })
	events := subscribe(t, eb, bus.TopicInvalidated)

	c, mr := setupCacher(t,
		WithBus(eb),
		WithGraph(NewGraph(map[string][]string{"post": {"comment"}})),
	)
	postScenario(mr)

	if err := c.Invalidate(context.Background(), c.Factory().Create("post", cachekey.Int(42))); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	e, err := InvalidationEventFromStruct(receive(t, events))
	if err != nil {
		t.Fatalf("InvalidationEventFromStruct() error = %v", err)
	}
	if e.Key != "minimalism:DATA:null:post(42)" {
		t.Errorf("Key = %q", e.Key)
	}
	if e.KeysRemoved != 6 {
		t.Errorf("KeysRemoved = %d, want 6", e.KeysRemoved)
	}
	if e.Depth != 1 {
		t.Errorf("Depth = %d, want 1", e.Depth)
	}
	if len(e.CascadeID) != 36 {
		t.Errorf("CascadeID = %q, want a UUID", e.CascadeID)
	}
	if e.OccurredAt.IsZero() {
		t.Error("OccurredAt not set")
	}
}

func TestStoreErrorsArePublished(t *testing.T) {
	eb := bus.NewMemory()
	t.Cleanup(func() { eb.Close() })
	events := subscribe(t, eb, bus.TopicError)

	c, mr := setupCacher(t, WithBus(eb))
	mr.Close()

	if _, err := c.Read(context.Background(), c.Factory().Create("user", cachekey.Int(1)), cachekey.Data); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	e, err := ErrorEventFromStruct(receive(t, events))
	if err != nil {
		t.Fatalf("ErrorEventFromStruct() error = %v", err)
	}
	if e.Operation != OpRead || e.Category != "temporary" {
		t.Errorf("event = %+v", e)
	}
	if e.Key != "minimalism:DATA:null:user(1)" {
		t.Errorf("Key = %q", e.Key)
	}
}

func TestListen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eb := bus.NewMemory()
	t.Cleanup(func() { eb.Close() })
	done := subscribe(t, eb, bus.TopicInvalidated)

	c, mr := setupCacher(t,
		WithBus(eb),
		WithGraph(NewGraph(map[string][]string{"post": {"comment"}})),
	)
	survivors := postScenario(mr)

	if err := c.Listen(ctx, eb); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	if err := c.RequestInvalidation(ctx, c.Factory().Create("post", cachekey.Int(42))); err != nil {
		t.Fatalf("RequestInvalidation() error = %v", err)
	}

	receive(t, done)
	assertKeys(t, mr, survivors...)
}

func TestListenRejectsMalformedRequests(t *testing.T) {
	c, _ := setupCacher(t)

	tests := []struct {
		name    string
		payload proto.Message
	}{
		{"wrong payload type", structpb.NewStringValue("minimalism:DATA:null:post(1)")},
		{"missing key", &structpb.Struct{}},
		{"malformed key", mustStruct(t, map[string]interface{}{"key": "not-a-key"})},
		{"foreign prefix", mustStruct(t, map[string]interface{}{"key": "other:DATA:null:post(1)"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.handleInvalidationRequest(context.Background(), tt.payload)
			if !errors.IsPermanent(err) {
				t.Errorf("handleInvalidationRequest() error = %v, want permanent", err)
			}
		})
	}
}

func TestRequestInvalidationWithoutBus(t *testing.T) {
	c, _ := setupCacher(t)

	err := c.RequestInvalidation(context.Background(), c.Factory().Create("post", cachekey.Int(1)))
	if !errors.IsConfiguration(err) {
		t.Errorf("RequestInvalidation() error = %v, want ConfigurationError", err)
	}
	if err := c.Listen(context.Background(), nil); !errors.IsConfiguration(err) {
		t.Errorf("Listen(nil) error = %v, want ConfigurationError", err)
	}
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return s
}
