package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by image, level, and request.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Image pyramid
	KeyImageID = "image_id" // Source image identifier
	KeyQuality = "quality"  // Pyramid level quality (0-100)
	KeyLevels  = "levels"   // Number of pyramid levels
	KeyLocator = "locator"  // Opaque fetch address of a level

	// Scheduling
	KeyRequestID   = "request_id" // Scheduler request identifier
	KeyPriority    = "priority"   // Computed dispatch priority
	KeyState       = "state"      // Request state (queued, loading, ...)
	KeyAttempt     = "attempt"    // Retry attempt number
	KeyMaxRetries  = "max_retries"
	KeyQueueDepth  = "queue_depth"
	KeyInFlight    = "in_flight"
	KeyWorkerID    = "worker_id"
	KeyStrategy    = "strategy" // Active loading strategy name
	KeyProfile     = "profile"  // Active bandwidth profile name
	KeyDirection   = "direction"
	KeyDistance    = "distance"

	// Bandwidth
	KeyDownlinkMbps = "downlink_mbps"
	KeyRTTMs        = "rtt_ms"

	// Cache
	KeyCacheHit      = "cache_hit"
	KeyCacheSize     = "cache_size"
	KeyCacheCapacity = "cache_capacity"
	KeyEvicted       = "evicted"

	// Operation metadata
	KeyBytes      = "bytes"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyClientIP   = "client_ip"
	KeyOperation  = "operation"
)

// Field constructors for type safety.

// ImageID returns a slog.Attr for a source image identifier.
func ImageID(id string) slog.Attr {
	return slog.String(KeyImageID, id)
}

// Quality returns a slog.Attr for a pyramid level quality.
func Quality(q int) slog.Attr {
	return slog.Int(KeyQuality, q)
}

// RequestID returns a slog.Attr for a scheduler request identifier.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Priority returns a slog.Attr for a computed dispatch priority.
func Priority(p float64) slog.Attr {
	return slog.Float64(KeyPriority, p)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Strategy returns a slog.Attr for the active loading strategy name.
func Strategy(name string) slog.Attr {
	return slog.String(KeyStrategy, name)
}

// Profile returns a slog.Attr for the active bandwidth profile name.
func Profile(name string) slog.Attr {
	return slog.String(KeyProfile, name)
}

// CacheHit returns a slog.Attr for a cache hit indicator.
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
