package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriterFraming(t *testing.T) {
	rr := httptest.NewRecorder()
	sse, err := newSSEWriter(rr)
	require.NoError(t, err)

	require.NoError(t, sse.WriteJSON(map[string]string{"type": "summary"}))
	sse.WriteComment("keepalive")
	sse.WriteDone()

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rr.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "data: {\"type\":\"summary\"}\n\n: keepalive\n\ndata: [DONE]\n\n", rr.Body.String())
	assert.True(t, rr.Flushed)
}

// nonFlusher is a ResponseWriter without Flush support.
type nonFlusher struct{}

func (nonFlusher) Header() http.Header         { return http.Header{} }
func (nonFlusher) Write(b []byte) (int, error) { return len(b), nil }
func (nonFlusher) WriteHeader(int)             {}

func TestSSEWriterRequiresFlusher(t *testing.T) {
	_, err := newSSEWriter(nonFlusher{})
	assert.Error(t, err)
}
