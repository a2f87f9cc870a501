// Package middleware holds the HTTP middleware chain: request tracing and
// rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey string

// TraceIDKey is the request context key carrying the trace id.
const TraceIDKey ctxKey = "trace_id"

// TracingMiddleware attaches a trace id to every request.
type TracingMiddleware struct {
	logger *zap.Logger
}

// NewTracingMiddleware creates the tracing middleware.
func NewTracingMiddleware(logger *zap.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Middleware returns the HTTP middleware function.
func (tm *TracingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := tm.extractTraceID(r)
		if traceID == "" {
			traceID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}

		ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)

		tm.logger.Debug("Request received",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID pulls a trace id from the common inbound headers.
func (tm *TracingMiddleware) extractTraceID(r *http.Request) string {
	// W3C Trace Context
	if traceparent := r.Header.Get("traceparent"); traceparent != "" {
		parts := strings.Split(traceparent, "-")
		if len(parts) >= 2 {
			return parts[1]
		}
	}
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		return traceID
	}
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		return requestID
	}
	return ""
}
