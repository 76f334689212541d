package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for loading operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Image pyramid attributes
	// ========================================================================
	AttrImageID       = "image.id"
	AttrQuality       = "pyramid.quality"
	AttrTargetQuality = "pyramid.target_quality"
	AttrLevels        = "pyramid.levels"
	AttrLocator       = "pyramid.locator"

	// ========================================================================
	// Scheduling attributes
	// ========================================================================
	AttrRequestID = "load.request_id"
	AttrStrategy  = "load.strategy"
	AttrPriority  = "load.priority"
	AttrPreload   = "load.preload"
	AttrAttempt   = "load.attempt"
	AttrBytes     = "load.bytes"

	// ========================================================================
	// Bandwidth attributes
	// ========================================================================
	AttrProfile  = "bandwidth.profile"
	AttrDownlink = "bandwidth.downlink_mbps"

	// ========================================================================
	// Cache attributes
	// ========================================================================
	AttrCacheHit  = "cache.hit"
	AttrCacheSize = "cache.size"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanLoadProgressive = "load.progressive"
	SpanLoadLevel       = "load.level"
	SpanLoadPreload     = "load.preload"
	SpanFetch           = "fetch.get"
	SpanCacheLookup     = "cache.lookup"
	SpanCacheWrite      = "cache.write"
	SpanCacheEvict      = "cache.evict"
	SpanPyramidBuild    = "pyramid.build"
)

// ImageID returns an attribute for the source image identifier
func ImageID(id string) attribute.KeyValue {
	return attribute.String(AttrImageID, id)
}

// Quality returns an attribute for a pyramid level quality
func Quality(q int) attribute.KeyValue {
	return attribute.Int(AttrQuality, q)
}

// TargetQuality returns an attribute for a progressive load target
func TargetQuality(q int) attribute.KeyValue {
	return attribute.Int(AttrTargetQuality, q)
}

// Levels returns an attribute for the number of pyramid levels
func Levels(n int) attribute.KeyValue {
	return attribute.Int(AttrLevels, n)
}

// Locator returns an attribute for a level fetch address
func Locator(loc string) attribute.KeyValue {
	return attribute.String(AttrLocator, loc)
}

// RequestID returns an attribute for a scheduler request identifier
func RequestID(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// Strategy returns an attribute for the active loading strategy
func Strategy(name string) attribute.KeyValue {
	return attribute.String(AttrStrategy, name)
}

// Priority returns an attribute for a dispatch priority score
func Priority(p float64) attribute.KeyValue {
	return attribute.Float64(AttrPriority, p)
}

// Preload returns an attribute marking a preload-tier request
func Preload(preload bool) attribute.KeyValue {
	return attribute.Bool(AttrPreload, preload)
}

// Attempt returns an attribute for a retry attempt number
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// Bytes returns an attribute for a payload size
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// Profile returns an attribute for the active bandwidth profile
func Profile(name string) attribute.KeyValue {
	return attribute.String(AttrProfile, name)
}

// Downlink returns an attribute for a downlink measurement in Mbps
func Downlink(mbps float64) attribute.KeyValue {
	return attribute.Float64(AttrDownlink, mbps)
}

// CacheHit returns an attribute for cache hit indicator
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheSize returns an attribute for the current cache size in bytes
func CacheSize(bytes int64) attribute.KeyValue {
	return attribute.Int64(AttrCacheSize, bytes)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartLoadSpan starts a span for a progressive image load.
// This is a convenience function that sets common attributes.
func StartLoadSpan(ctx context.Context, imageID string, targetQuality int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ImageID(imageID),
		TargetQuality(targetQuality),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanLoadProgressive, trace.WithAttributes(allAttrs...))
}

// StartFetchSpan starts a span for a single level fetch.
func StartFetchSpan(ctx context.Context, locator string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Locator(locator),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanFetch, trace.WithAttributes(allAttrs...))
}

// StartCacheSpan starts a span for a cache operation.
func StartCacheSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "cache."+operation, trace.WithAttributes(attrs...))
}
