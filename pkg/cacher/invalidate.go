package cacher

import (
	"context"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/metrics"
	"github.com/carlonicora/minimalism-service-cacher/pkg/retry"
	"github.com/carlonicora/minimalism-service-cacher/pkg/tracing"
	"github.com/google/uuid"
)

// Cascade steps, used as the reason label of removed keys.
const (
	reasonList     = "list"
	reasonChildren = "children"
	reasonEntity   = "entity"
)

// cascade is the state shared by every step of one Invalidate call.
type cascade struct {
	id       string
	visited  map[string]struct{}
	removed  int
	maxDepth int
}

// Invalidate removes the entry described by b together with everything that
// depends on it:
//
//   - a list builder removes the list and its membership markers;
//   - a builder marked with InvalidateOnlyChildren recursively invalidates
//     every entry of the entity, whatever its list or contexts;
//   - any other builder invalidates, for each dependent cache in the Graph,
//     every list of that cache having the entity as a member.
//
// Finally a Data builder removes every representation of the entity, an All
// builder every key its own key matches, and a JSON builder its own key.
//
// Each builder is processed once per call, so a cyclic Graph terminates.
// Store errors abort the cascade and are returned. b is not modified.
func (c *Cacher) Invalidate(ctx context.Context, b *cachekey.Builder) error {
	start := time.Now()

	if !c.enabled {
		c.metrics.ObserveOperation(OpInvalidate, metrics.ResultDisabled, time.Since(start))
		return nil
	}

	root, err := b.Key()
	if err != nil {
		return c.fail(ctx, OpInvalidate, start, err)
	}

	cs := &cascade{
		id:      uuid.NewString(),
		visited: make(map[string]struct{}),
	}
	ctx = logging.WithCascadeID(ctx, cs.id)
	defer c.metrics.CascadeStarted()()

	ctx, span := c.startSpan(ctx, "cacher.Invalidate", tracing.CacheAttributes(OpInvalidate, root)...)
	defer span.End()

	logger := c.loggerFor(ctx)
	logger.Debug().Str(logging.CacheKey, root).Msg("Invalidation started")

	if err := c.invalidate(ctx, cs, b.Clone(), 0); err != nil {
		tracing.SetSpanError(ctx, err)
		c.metrics.ObserveOperation(OpInvalidate, metrics.ResultError, time.Since(start))
		c.report(ctx, OpInvalidate, root, err)
		return err
	}

	span.SetAttributes(tracing.CascadeAttributes(cs.id, cs.maxDepth)...)
	span.SetAttributes(tracing.AttrKeysRemoved.Int(cs.removed))
	c.metrics.ObserveCascadeDepth(cs.maxDepth)
	c.metrics.ObserveOperation(OpInvalidate, metrics.ResultSuccess, time.Since(start))

	logger.Debug().
		Str(logging.CacheKey, root).
		Int(logging.KeysRemoved, cs.removed).
		Int(logging.CascadeDepth, cs.maxDepth).
		Dur(logging.Duration, time.Since(start)).
		Msg("Invalidation completed")

	c.publishInvalidated(ctx, InvalidationEvent{
		Key:         root,
		KeysRemoved: cs.removed,
		CascadeID:   cs.id,
		Depth:       cs.maxDepth,
		OccurredAt:  time.Now(),
	})
	return nil
}

func (c *Cacher) invalidate(ctx context.Context, cs *cascade, b *cachekey.Builder, depth int) error {
	key, err := b.Key()
	if err != nil {
		return err
	}

	visit := key
	if b.ShouldInvalidateAllChildren() {
		visit += "#children"
	}
	if _, seen := cs.visited[visit]; seen {
		return nil
	}
	cs.visited[visit] = struct{}{}
	if depth > cs.maxDepth {
		cs.maxDepth = depth
	}

	ctx, span := c.startSpan(ctx, "cacher.cascade", tracing.CacheAttributes(OpInvalidate, key)...)
	defer span.End()
	span.SetAttributes(tracing.CascadeAttributes(cs.id, depth)...)

	switch {
	case b.IsList():
		err = c.invalidateList(ctx, cs, b)
	case b.ShouldInvalidateAllChildren():
		err = c.invalidateChildren(ctx, cs, b, depth)
	default:
		err = c.invalidateDependents(ctx, cs, b, depth)
	}
	if err == nil {
		err = c.invalidateEntity(ctx, cs, b, key)
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	return nil
}

// invalidateList removes the list itself, in every context variant when b has
// none, and its membership markers.
func (c *Cacher) invalidateList(ctx context.Context, cs *cascade, b *cachekey.Builder) error {
	listPattern, err := b.ListKeysPattern()
	if err != nil {
		return err
	}
	itemsPattern, err := b.ListItemKeysPattern()
	if err != nil {
		return err
	}

	if err := c.sweep(ctx, cs, reasonList, listPattern); err != nil {
		return err
	}
	return c.sweep(ctx, cs, reasonList, itemsPattern)
}

// invalidateChildren invalidates every addressed key of the entity before removing them.
func (c *Cacher) invalidateChildren(ctx context.Context, cs *cascade, b *cachekey.Builder, depth int) error {
	pattern, err := b.KeyPattern()
	if err != nil {
		return err
	}

	keys, err := c.keys(ctx, pattern)
	if err != nil {
		return err
	}

	for _, key := range keys {
		child, ok := c.parse(ctx, key)
		if !ok || child.Identifier().ID.IsNone() {
			continue
		}

		child.ClearContexts()
		child.SetType(cachekey.All)
		if err := c.invalidate(ctx, cs, child, depth+1); err != nil {
			return err
		}
	}

	return c.remove(ctx, cs, reasonChildren, keys...)
}

// invalidateDependents follows the Graph: every list of a dependent cache that
// has the entity as a member is invalidated, and so is the owner of the list
// when the membership was not recorded on its Data representation.
func (c *Cacher) invalidateDependents(ctx context.Context, cs *cascade, b *cachekey.Builder, depth int) error {
	for _, dependent := range c.graph.Dependents(b.Identifier().Name) {
		pattern, err := b.ChildKeysPattern(dependent)
		if err != nil {
			return err
		}

		keys, err := c.keys(ctx, pattern)
		if err != nil {
			return err
		}

		for _, key := range keys {
			initiator, ok := c.parse(ctx, key)
			if !ok || !initiator.IsList() {
				continue
			}

			list := initiator.List()
			owner := initiator.Identifier()

			listBuilder := c.factory.CreateListGranular(list.Name, owner.Name, owner.ID).WithType(cachekey.All)
			if err := c.invalidate(ctx, cs, listBuilder, depth+1); err != nil {
				return err
			}

			if t := initiator.Type(); t != cachekey.Data {
				ownerBuilder := c.factory.Create(owner.Name, owner.ID).WithType(t)
				if err := c.invalidate(ctx, cs, ownerBuilder, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// invalidateEntity is the last step of every builder.
func (c *Cacher) invalidateEntity(ctx context.Context, cs *cascade, b *cachekey.Builder, key string) error {
	switch b.Type() {
	case cachekey.Data:
		b.SetType(cachekey.All)
		pattern, err := b.ChildrenKeysPattern()
		if err != nil {
			return err
		}
		return c.sweep(ctx, cs, reasonEntity, pattern)
	case cachekey.All:
		return c.sweep(ctx, cs, reasonEntity, key)
	default:
		return c.remove(ctx, cs, reasonEntity, key)
	}
}

// parse rebuilds the builder of a key found in the store. Keys outside the
// grammar are logged and skipped.
func (c *Cacher) parse(ctx context.Context, key string) (*cachekey.Builder, bool) {
	b, err := c.factory.CreateFromKey(key)
	if err != nil {
		c.loggerFor(ctx).Warn().
			Err(err).
			Str(logging.CacheKey, key).
			Msg("Skipping unparsable cache key")
		return nil, false
	}
	return b, true
}

// sweep removes every key matching pattern.
func (c *Cacher) sweep(ctx context.Context, cs *cascade, reason, pattern string) error {
	keys, err := c.keys(ctx, pattern)
	if err != nil {
		return err
	}
	if err := c.remove(ctx, cs, reason, keys...); err != nil {
		return err
	}

	tracing.AddSpanEvent(ctx, "sweep", tracing.PatternAttributes(pattern, len(keys))...)
	c.loggerFor(ctx).Debug().
		Str(logging.CachePattern, pattern).
		Int(logging.KeysRemoved, len(keys)).
		Msg("Swept cache keys")
	return nil
}

func (c *Cacher) keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := retry.DoWithData(ctx, c.retry, func() ([]string, error) {
		return c.store.Keys(ctx, pattern)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pattern query %q", pattern)
	}
	return keys, nil
}

func (c *Cacher) remove(ctx context.Context, cs *cascade, reason string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	err := retry.Do(ctx, c.retry, func() error {
		return c.store.Remove(ctx, keys...)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to remove %d keys", len(keys))
	}

	cs.removed += len(keys)
	c.metrics.AddInvalidatedKeys(reason, len(keys))
	return nil
}
