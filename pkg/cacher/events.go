package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/bus"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event payload fields.
const (
	fieldKey                   = "key"
	fieldKeysRemoved           = "keys_removed"
	fieldCascadeID             = "cascade_id"
	fieldDepth                 = "depth"
	fieldOccurredAt            = "occurred_at"
	fieldInvalidateAllChildren = "invalidate_all_children"
	fieldOperation             = "operation"
	fieldError                 = "error"
	fieldCategory              = "category"
)

// InvalidationEvent announces a completed cascade.
type InvalidationEvent struct {
	Key         string
	KeysRemoved int
	CascadeID   string
	Depth       int
	OccurredAt  time.Time
}

// ToStruct encodes the event as a bus payload.
func (e InvalidationEvent) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		fieldKey:         e.Key,
		fieldKeysRemoved: e.KeysRemoved,
		fieldCascadeID:   e.CascadeID,
		fieldDepth:       e.Depth,
		fieldOccurredAt:  e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
}

// InvalidationEventFromStruct decodes a cache_invalidated payload.
func InvalidationEventFromStruct(s *structpb.Struct) (InvalidationEvent, error) {
	key, err := stringField(s, fieldKey)
	if err != nil {
		return InvalidationEvent{}, err
	}

	fields := s.GetFields()
	e := InvalidationEvent{
		Key:         key,
		KeysRemoved: int(fields[fieldKeysRemoved].GetNumberValue()),
		CascadeID:   fields[fieldCascadeID].GetStringValue(),
		Depth:       int(fields[fieldDepth].GetNumberValue()),
	}
	if at := fields[fieldOccurredAt].GetStringValue(); at != "" {
		e.OccurredAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return InvalidationEvent{}, errors.NewInvalidInputWithCause(fieldOccurredAt, "not an RFC 3339 timestamp", err)
		}
	}
	return e, nil
}

// InvalidationRequest asks a listening cacher to invalidate Key.
type InvalidationRequest struct {
	Key                   string
	InvalidateAllChildren bool
}

// ToStruct encodes the request as a bus payload.
func (r InvalidationRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		fieldKey:                   r.Key,
		fieldInvalidateAllChildren: r.InvalidateAllChildren,
	})
}

// InvalidationRequestFromStruct decodes a cache_invalidate_requested payload.
func InvalidationRequestFromStruct(s *structpb.Struct) (InvalidationRequest, error) {
	key, err := stringField(s, fieldKey)
	if err != nil {
		return InvalidationRequest{}, err
	}
	return InvalidationRequest{
		Key:                   key,
		InvalidateAllChildren: s.GetFields()[fieldInvalidateAllChildren].GetBoolValue(),
	}, nil
}

// ErrorEvent reports a store failure met by the cacher.
type ErrorEvent struct {
	Operation string
	Key       string
	Error     string
	Category  string
	CascadeID string
}

// ToStruct encodes the event as a bus payload.
func (e ErrorEvent) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		fieldOperation: e.Operation,
		fieldKey:       e.Key,
		fieldError:     e.Error,
		fieldCategory:  e.Category,
		fieldCascadeID: e.CascadeID,
	})
}

// ErrorEventFromStruct decodes a cache_error payload.
func ErrorEventFromStruct(s *structpb.Struct) (ErrorEvent, error) {
	op, err := stringField(s, fieldOperation)
	if err != nil {
		return ErrorEvent{}, err
	}
	fields := s.GetFields()
	return ErrorEvent{
		Operation: op,
		Key:       fields[fieldKey].GetStringValue(),
		Error:     fields[fieldError].GetStringValue(),
		Category:  fields[fieldCategory].GetStringValue(),
		CascadeID: fields[fieldCascadeID].GetStringValue(),
	}, nil
}

// category names the error class carried by cache_error events.
func category(err error) string {
	switch {
	case errors.IsConfiguration(err):
		return "configuration"
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsInvalidInput(err):
		return "invalid_input"
	case errors.IsTemporary(err):
		return "temporary"
	case errors.IsPermanent(err):
		return "permanent"
	default:
		return "unknown"
	}
}

func stringField(s *structpb.Struct, name string) (string, error) {
	if s == nil {
		return "", errors.NewInvalidInput("payload", "empty event payload")
	}
	v, ok := s.GetFields()[name]
	if !ok {
		return "", errors.NewInvalidInput(name, "missing field")
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", errors.NewInvalidInput(name, "not a string")
	}
	if str.StringValue == "" {
		return "", errors.NewInvalidInput(name, "empty value")
	}
	return str.StringValue, nil
}

// publish sends an event when a bus is configured. Failures are only logged.
func (c *Cacher) publish(ctx context.Context, topic string, payload *structpb.Struct) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, topic, payload); err != nil {
		c.loggerFor(ctx).Warn().
			Err(err).
			Str("topic", topic).
			Msg("Failed to publish cacher event")
	}
}

func (c *Cacher) publishInvalidated(ctx context.Context, e InvalidationEvent) {
	if c.bus == nil {
		return
	}
	payload, err := e.ToStruct()
	if err != nil {
		c.loggerFor(ctx).Warn().Err(err).Msg("Failed to encode invalidation event")
		return
	}
	c.publish(ctx, bus.TopicInvalidated, payload)
}

// RequestInvalidation asks every cacher listening on the bus to invalidate the
// entry described by b. The builder must be addressed.
func (c *Cacher) RequestInvalidation(ctx context.Context, b *cachekey.Builder) error {
	if c.bus == nil {
		return errors.NewConfiguration("cacher has no event bus", nil)
	}

	key, err := b.Key()
	if err != nil {
		return err
	}

	payload, err := InvalidationRequest{
		Key:                   key,
		InvalidateAllChildren: b.ShouldInvalidateAllChildren(),
	}.ToStruct()
	if err != nil {
		return errors.NewPermanent("failed to encode invalidation request", err)
	}

	if err := c.bus.Publish(ctx, bus.TopicInvalidateRequested, payload); err != nil {
		return errors.Wrap(err, "failed to publish invalidation request")
	}
	return nil
}

// Listen subscribes to invalidation requests on eb and runs each one through
// Invalidate. Malformed requests are rejected permanently; store failures are
// returned as temporary errors so the bus can redeliver them.
func (c *Cacher) Listen(ctx context.Context, eb bus.EventBus) error {
	if eb == nil {
		return errors.NewConfiguration("listen requires an event bus", nil)
	}

	logger := c.logger.WithComponent("cacher.listener")

	return eb.Subscribe(ctx, bus.TopicInvalidateRequested, c.handleInvalidationRequest,
		bus.WithRecovery(),
		bus.WithLogging(logger),
		bus.WithMetrics(c.metrics),
	)
}

func (c *Cacher) handleInvalidationRequest(ctx context.Context, msg proto.Message) error {
	payload, ok := msg.(*structpb.Struct)
	if !ok {
		return errors.NewPermanent(fmt.Sprintf("unexpected payload type %T", msg), nil)
	}

	req, err := InvalidationRequestFromStruct(payload)
	if err != nil {
		return errors.NewPermanent("invalid invalidation request", err)
	}

	b, err := c.factory.CreateFromKey(req.Key)
	if err != nil {
		return errors.NewPermanent("invalid invalidation request", err)
	}
	if req.InvalidateAllChildren {
		b.InvalidateOnlyChildren()
	}

	logging.FromContext(ctx).Debug().
		Str(logging.CacheKey, req.Key).
		Msg("Invalidation requested over the bus")

	if err := c.Invalidate(ctx, b); err != nil {
		if errors.IsConfiguration(err) {
			return errors.NewPermanent("invalid invalidation request", err)
		}
		return err
	}
	return nil
}
