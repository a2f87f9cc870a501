package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func traceThrough(t *testing.T, mutate func(*http.Request)) (string, string) {
	t.Helper()
	var ctxTraceID string
	handler := NewTracingMiddleware(zap.NewNop()).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxTraceID, _ = r.Context().Value(TraceIDKey).(string)
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return ctxTraceID, rr.Header().Get("X-Trace-ID")
}

func TestTracingGeneratesID(t *testing.T) {
	ctxID, headerID := traceThrough(t, nil)
	require.NotEmpty(t, ctxID)
	assert.Equal(t, ctxID, headerID)
	assert.NotContains(t, ctxID, "-")
}

func TestTracingPrefersTraceparent(t *testing.T) {
	ctxID, _ := traceThrough(t, func(r *http.Request) {
		r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		r.Header.Set("X-Trace-ID", "other")
	})
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ctxID)
}

func TestTracingHeaderFallbacks(t *testing.T) {
	ctxID, _ := traceThrough(t, func(r *http.Request) {
		r.Header.Set("X-Trace-ID", "trace-123")
	})
	assert.Equal(t, "trace-123", ctxID)

	ctxID, _ = traceThrough(t, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "req-456")
	})
	assert.Equal(t, "req-456", ctxID)
}
