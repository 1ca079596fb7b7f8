package tracing

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware wraps an http.Handler, opening one span per request on the
// given tracer. The span records method, path, and final status code.
func HTTPMiddleware(tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "hub."+r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		if sw.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes a connection takeover (the /ws WebSocket upgrade) through to
// the wrapped ResponseWriter.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// DetectionAttributes builds the span attributes recorded around a detector
// trigger: which session, which method fired, which tool was matched, and how
// long the child had been silent.
func DetectionAttributes(sessionID, method, toolKey string, idleSeconds float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("session.id", sessionID),
		attribute.String("detection.method", method),
		attribute.String("tool.key", toolKey),
		attribute.Float64("idle.seconds", idleSeconds),
	}
}

// StartDetectionSpan opens and annotates a "detector.trigger" span in one
// call, so a watcher firing many triggers per session doesn't repeat the
// Start-then-SetAttributes pair at every call site. The caller is
// responsible for calling span.End().
func StartDetectionSpan(tracer trace.Tracer, sessionID, method, toolKey string, idleSeconds float64) trace.Span {
	_, span := tracer.Start(context.Background(), "detector.trigger")
	span.SetAttributes(DetectionAttributes(sessionID, method, toolKey, idleSeconds)...)
	return span
}
