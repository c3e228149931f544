// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Ingestion constants
const (
	// DefaultFutureTolerance is how far ahead of the server clock a detection timestamp may be
	// before it is clamped to server time
	DefaultFutureTolerance = 5 * time.Second
)

// Subscription constants
const (
	// SubscriberBuffer is the per-subscriber message buffer. A subscriber that falls this far
	// behind is dropped and has to resubscribe.
	SubscriberBuffer = 64

	// StreamHeartbeatInterval is how often idle SSE and WebSocket streams send a keep-alive
	StreamHeartbeatInterval = 15 * time.Second

	// StreamWriteTimeout bounds every write to a stream client. A client that cannot take a
	// frame within it is disconnected.
	StreamWriteTimeout = 10 * time.Second
)

// Registry constants
const (
	// DefaultRegistryCacheTTL is how long device approval lookups are cached
	DefaultRegistryCacheTTL = 30 * time.Second

	// RegistryLookupTimeout bounds a single registry lookup during ingestion
	RegistryLookupTimeout = 2 * time.Second
)

// Ingestion transport constants
const (
	// MaxDetectionBodySize is the maximum accepted detection request body in bytes
	MaxDetectionBodySize = 64 << 10

	// AuditBuffer is the number of change-log records queued before new ones are dropped
	AuditBuffer = 1024

	// DefaultMQTTTopic is the default MQTT subscription for scanner detections
	DefaultMQTTTopic = "presence/+/+/detections"
)
