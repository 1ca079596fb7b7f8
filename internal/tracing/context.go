package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// traceIDKey is the context key for storing trace IDs.
const traceIDKey contextKey = "trace_id"

// TraceIDFromContext extracts the trace ID from the context. Returns an
// empty string if no trace ID is present.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(traceIDKey); v != nil {
		if traceID, ok := v.(string); ok {
			return traceID
		}
	}
	return ""
}

// ContextWithTraceID returns a new context with the trace ID set. If
// traceID is empty, the original context is returned unchanged.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// NewRequestContext generates a fresh trace ID, attaches it to ctx, and
// returns both. This is the lighter-weight correlation mechanism hub
// middleware uses to stamp every incoming request and its spawned
// goroutines (e.g. a WebSocket subscriber loop) with one ID for log
// correlation, independent of whether OpenTelemetry span export itself is
// enabled.
func NewRequestContext(ctx context.Context) (context.Context, string) {
	traceID := GenerateTraceID()
	return ContextWithTraceID(ctx, traceID), traceID
}

// GenerateTraceID creates a new random 32-character hex trace ID. This
// follows the W3C Trace Context format for trace-id (16 bytes = 32 hex
// chars).
func GenerateTraceID() string {
	bytes := make([]byte, 16)
	// crypto/rand.Read never returns an error on supported platforms
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// GenerateSpanID creates a new random 16-character hex span ID. This
// follows the W3C Trace Context format for span-id (8 bytes = 16 hex
// chars). Kept alongside GenerateTraceID for API symmetry; jigai's own
// spans come from OpenTelemetry's tracer rather than this helper.
func GenerateSpanID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
