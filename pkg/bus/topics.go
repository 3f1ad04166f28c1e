package bus

import (
	"fmt"
	"strings"
)

// topicPrefix namespaces every cacher subject.
const topicPrefix = "cacher.events.v1"

// Topics published and consumed by the cacher.
var (
	// TopicInvalidated announces a completed invalidation cascade.
	TopicInvalidated = TopicName("cache_invalidated")

	// TopicInvalidateRequested asks every listening cacher to invalidate a key.
	TopicInvalidateRequested = TopicName("cache_invalidate_requested")

	// TopicError reports a store error the cacher swallowed or returned.
	TopicError = TopicName("cache_error")
)

// TopicName builds "cacher.events.v1.{event_type}" from a snake_case event type.
//
// Example:
//
//	topic := bus.TopicName("cache_invalidated")
//	// Returns: "cacher.events.v1.cache_invalidated"
func TopicName(eventType string) string {
	return fmt.Sprintf("%s.%s", topicPrefix, strings.ToLower(eventType))
}

// ParseEventType strips the cacher prefix from topic. Foreign topics are returned unchanged.
func ParseEventType(topic string) string {
	return strings.TrimPrefix(topic, topicPrefix+".")
}

// IsValidTopic reports whether topic is a cacher topic with a non-empty event type.
func IsValidTopic(topic string) bool {
	prefix := topicPrefix + "."
	return strings.HasPrefix(topic, prefix) && len(topic) > len(prefix)
}

// subjectWildcard matches every cacher topic in a JetStream stream.
func subjectWildcard() string {
	return topicPrefix + ".>"
}
