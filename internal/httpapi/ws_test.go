package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialResearchWS(t *testing.T, h *ResearchHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleResearchWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestResearchWebSocketStream(t *testing.T) {
	h := newTestResearchHandler(t, &stubReasoning{questions: []string{"Q"}}, &stubAnswering{})
	conn := dialResearchWS(t, h)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "hi"}))

	var types []string
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		if string(msg) == "[DONE]" {
			break
		}
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(msg, &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		"steps", "processing", "answer", "validation", "token_usage", "summary",
	}, types)
}

func TestResearchWebSocketRejectsBadRequest(t *testing.T) {
	h := newTestResearchHandler(t, &stubReasoning{questions: []string{"Q"}}, &stubAnswering{})
	conn := dialResearchWS(t, h)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": ""}))

	var out map[string]string
	require.NoError(t, conn.ReadJSON(&out))
	assert.Contains(t, out["error"], "message is required")
}
