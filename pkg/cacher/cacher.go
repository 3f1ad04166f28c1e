// Package cacher saves, reads and invalidates cache entries addressed by
// cachekey builders. Invalidation cascades: purging an entity also purges
// every list that embeds it, following the dependency Graph and the keys
// actually present in the store.
//
// Example usage:
//
//	store, err := cache.NewRedis(ctx, cfg.Cache)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c := cacher.New(store,
//	    cacher.WithEnabled(cfg.Cacher.Enabled),
//	    cacher.WithGraph(cacher.NewGraph(cfg.Cacher.Dependencies)),
//	    cacher.WithLogger(logger),
//	)
//
//	f := c.Factory()
//	err = c.SaveArray(ctx, f.CreateListGranular("post", "user", cachekey.Int(1)), posts, cachekey.Data)
//
//	// Later, when post 42 changes:
//	err = c.Invalidate(ctx, f.Create("post", cachekey.Int(42)))
package cacher

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/bus"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cache"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/metrics"
	"github.com/carlonicora/minimalism-service-cacher/pkg/retry"
	"github.com/carlonicora/minimalism-service-cacher/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation names used in metrics, spans and error reports.
const (
	OpSave       = "save"
	OpSaveArray  = "save_array"
	OpRead       = "read"
	OpReadArray  = "read_array"
	OpInvalidate = "invalidate"
)

// listItemMarker is the value stored at a membership marker key.
const listItemMarker = "*"

// ErrorHandler is told about store errors the cacher met, including the ones
// it swallowed as a miss.
type ErrorHandler func(ctx context.Context, operation string, err error)

// Cacher is the cache service. It is safe for concurrent use; the builders
// passed to it are not, and are mutated (type) by every call.
type Cacher struct {
	store        cache.Store
	enabled      bool
	graph        *Graph
	factory      *cachekey.Factory
	logger       *logging.Logger
	metrics      *metrics.CacheMetrics
	tracer       trace.Tracer
	bus          bus.EventBus
	errorHandler ErrorHandler
	retry        retry.Config
	defaultTTL   time.Duration
}

// New creates a cacher writing to store. Caching is enabled unless
// WithEnabled(false) is given.
func New(store cache.Store, opts ...Option) *Cacher {
	c := &Cacher{
		store:   store,
		enabled: true,
		graph:   NewGraph(nil),
		factory: cachekey.NewFactory(nil),
		logger:  logging.Nop(),
		tracer:  tracing.GetTracer(nil),
		retry:   retry.Config{Policy: retry.PolicyTemporary},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.enabled = false
	}
	c.logger = c.logger.WithComponent("cacher")

	if err := c.graph.Validate(); err != nil {
		c.logger.Warn().Err(err).Msg("Cache dependency graph contains a cycle")
	}
	return c
}

// UseCaching reports whether the cacher reads and writes the store.
func (c *Cacher) UseCaching() bool {
	return c.enabled
}

// Factory returns the factory used to rebuild builders from stored keys.
func (c *Cacher) Factory() *cachekey.Factory {
	return c.factory
}

// Graph returns the dependency graph driving the cascade.
func (c *Cacher) Graph() *Graph {
	return c.graph
}

// Check implements health.Checker by checking the store when it supports it.
func (c *Cacher) Check(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	if checker, ok := c.store.(cache.HealthChecker); ok {
		return cache.CheckHealth(ctx, checker, cache.DefaultHealthTimeout)
	}
	return nil
}

// Save stores data as the t representation of b.
// Store failures are reported and swallowed; builder misuse is returned.
func (c *Cacher) Save(ctx context.Context, b *cachekey.Builder, data string, t cachekey.Type) error {
	ctx, span := c.startSpan(ctx, "cacher.Save")
	defer span.End()
	start := time.Now()

	if !c.enabled {
		c.metrics.ObserveOperation(OpSave, metrics.ResultDisabled, time.Since(start))
		return nil
	}

	b.SetType(t)
	key, err := b.Key()
	if err != nil {
		return c.fail(ctx, OpSave, start, err)
	}
	span.SetAttributes(tracing.CacheAttributes(OpSave, key)...)

	c.set(ctx, OpSave, key, data, b.TTL())
	c.metrics.ObserveOperation(OpSave, metrics.ResultSuccess, time.Since(start))
	return nil
}

// SaveArray JSON-encodes data and stores it as the t representation of b.
// When data is a non-empty sequence, t is Data and b is a list, every element
// carrying the list field also gets a membership marker and, when b saves
// granularly, its own entry. The keys of every element are resolved before
// anything is written: an element with an unusable identifier fails the call
// and leaves the store untouched.
func (c *Cacher) SaveArray(ctx context.Context, b *cachekey.Builder, data any, t cachekey.Type) error {
	ctx, span := c.startSpan(ctx, "cacher.SaveArray")
	defer span.End()
	start := time.Now()

	if !c.enabled {
		c.metrics.ObserveOperation(OpSaveArray, metrics.ResultDisabled, time.Since(start))
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return c.fail(ctx, OpSaveArray, start, errors.NewPermanent("failed to encode cache payload", err))
	}

	b.SetType(t)
	key, err := b.Key()
	if err != nil {
		return c.fail(ctx, OpSaveArray, start, err)
	}
	span.SetAttributes(tracing.CacheAttributes(OpSaveArray, key)...)

	var items []listItem
	if t == cachekey.Data && b.IsList() {
		if items, err = listItems(b, payload); err != nil {
			return c.fail(ctx, OpSaveArray, start, err)
		}
	}

	c.set(ctx, OpSaveArray, key, string(payload), b.TTL())
	for _, item := range items {
		c.set(ctx, OpSaveArray, item.markerKey, listItemMarker, b.TTL())
		if item.granularKey != "" {
			c.set(ctx, OpSaveArray, item.granularKey, item.payload, b.TTL())
		}
	}

	c.metrics.ObserveOperation(OpSaveArray, metrics.ResultSuccess, time.Since(start))
	return nil
}

type listItem struct {
	markerKey   string
	granularKey string
	payload     string
}

// listItems resolves the membership marker and granular key of every element
// of payload that carries the list field.
func listItems(b *cachekey.Builder, payload []byte) ([]listItem, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(payload, &elements); err != nil || len(elements) == 0 {
		return nil, nil
	}

	field := b.List().Name
	items := make([]listItem, 0, len(elements))
	for i, element := range elements {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(element, &fields); err != nil {
			continue
		}
		raw, ok := fields[field]
		if !ok {
			continue
		}

		id, err := decodeIdentifier(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "list item %d field %q", i, field)
		}
		if id.IsNone() {
			continue
		}

		item := listItem{payload: string(element)}
		if item.markerKey, err = b.ListItemKey(id); err != nil {
			return nil, errors.Wrapf(err, "list item %d", i)
		}
		if b.SaveGranular() {
			if item.granularKey, err = b.GranularKey(id); err != nil {
				return nil, errors.Wrapf(err, "list item %d", i)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeIdentifier(raw json.RawMessage) (cachekey.Identifier, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return cachekey.None(), errors.NewPermanent("failed to decode identifier", err)
	}
	return cachekey.IdentifierOf(v)
}

// Read returns the t representation of b, or nil on a miss. Missing keys and
// store failures read as a miss, the latter being reported. Only builder
// misuse is returned as an error.
func (c *Cacher) Read(ctx context.Context, b *cachekey.Builder, t cachekey.Type) (*string, error) {
	value, ok, err := c.get(ctx, OpRead, b, t)
	if err != nil || !ok {
		return nil, err
	}
	return &value, nil
}

// ReadArray returns the decoded t representation of b, or nil on a miss.
// A payload that is not valid JSON reads as a miss.
func (c *Cacher) ReadArray(ctx context.Context, b *cachekey.Builder, t cachekey.Type) (any, error) {
	value, ok, err := c.get(ctx, OpReadArray, b, t)
	if err != nil || !ok {
		return nil, err
	}

	var out any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		key, _ := b.Key()
		c.report(ctx, OpReadArray, key, errors.NewPermanent("failed to decode cached payload", err))
		return nil, nil
	}
	return out, nil
}

func (c *Cacher) get(ctx context.Context, op string, b *cachekey.Builder, t cachekey.Type) (string, bool, error) {
	ctx, span := c.startSpan(ctx, "cacher."+spanSuffix(op))
	defer span.End()
	start := time.Now()

	if !c.enabled {
		c.metrics.ObserveOperation(op, metrics.ResultDisabled, time.Since(start))
		return "", false, nil
	}

	b.SetType(t)
	key, err := b.Key()
	if err != nil {
		return "", false, c.fail(ctx, op, start, err)
	}
	span.SetAttributes(tracing.CacheAttributes(op, key)...)

	value, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.IsNotFound(err) {
			c.report(ctx, op, key, err)
		}
		span.SetAttributes(tracing.AttrCacheHit.Bool(false))
		c.metrics.ObserveOperation(op, metrics.ResultMiss, time.Since(start))
		return "", false, nil
	}

	span.SetAttributes(tracing.AttrCacheHit.Bool(true))
	c.metrics.ObserveOperation(op, metrics.ResultHit, time.Since(start))
	return value, true, nil
}

// set writes one key. Store failures are reported, never returned.
func (c *Cacher) set(ctx context.Context, op, key, value string, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.report(ctx, op, key, err)
	}
}

// fail records a returned error and hands it back.
func (c *Cacher) fail(ctx context.Context, op string, start time.Time, err error) error {
	tracing.SetSpanError(ctx, err)
	c.metrics.ObserveOperation(op, metrics.ResultError, time.Since(start))
	c.report(ctx, op, "", err)
	return err
}

// report logs err, hands it to the error handler and publishes it as a
// cache_error event.
func (c *Cacher) report(ctx context.Context, op, key string, err error) {
	logger := c.loggerFor(ctx)
	event := logger.Warn()
	if op == OpInvalidate || errors.IsConfiguration(err) {
		event = logger.Error()
	}
	event.Err(err).
		Str(logging.Operation, op).
		Str(logging.CacheKey, key).
		Msg("Cache operation failed")

	if c.errorHandler != nil {
		c.errorHandler(ctx, op, err)
	}

	if c.bus == nil {
		return
	}
	payload, encErr := ErrorEvent{
		Operation: op,
		Key:       key,
		Error:     err.Error(),
		Category:  category(err),
		CascadeID: logging.GetCascadeID(ctx),
	}.ToStruct()
	if encErr != nil {
		return
	}
	c.publish(ctx, bus.TopicError, payload)
}

func (c *Cacher) loggerFor(ctx context.Context) *logging.Logger {
	if id := logging.GetCascadeID(ctx); id != "" {
		return c.logger.WithCascadeID(id)
	}
	return c.logger
}

func (c *Cacher) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func spanSuffix(op string) string {
	switch op {
	case OpReadArray:
		return "ReadArray"
	default:
		return "Read"
	}
}
