package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// doneSentinel is the terminal stream marker, always the last frame whether
// the run succeeded or failed.
const doneSentinel = "[DONE]"

// sseWriter frames protocol events for a text/event-stream response. Each
// record is exactly `data: <payload>\n\n`.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the stream headers and returns a writer, or an error when
// the ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteJSON writes one JSON-payload data frame.
func (s *sseWriter) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.WriteRaw(string(data))
	return nil
}

// WriteRaw writes one data frame with the payload as-is.
func (s *sseWriter) WriteRaw(payload string) {
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

// WriteComment writes an SSE comment, used as a keepalive. Conforming
// clients ignore it.
func (s *sseWriter) WriteComment(msg string) {
	fmt.Fprintf(s.w, ": %s\n\n", msg)
	s.flusher.Flush()
}

// WriteDone writes the terminal sentinel frame.
func (s *sseWriter) WriteDone() {
	s.WriteRaw(doneSentinel)
}
