package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secured via proxy in prod
}

// HandleResearchWS is the WebSocket variant of the research stream: the
// client sends one research request as JSON and receives the same protocol
// events as JSON messages, terminated by a [DONE] text message.
// GET /api/v1/research/ws
func (h *ResearchHandler) HandleResearchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req researchRequest
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid request"})
		return
	}

	if err := h.checkCredentials(); err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	runReq, err := h.buildRequest(req)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader pump: detect client disconnect and stop the run.
	conn.SetReadDeadline(time.Time{})
	conn.SetPongHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	events := h.engine.Run(ctx, runReq)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(doneSentinel))
				return
			}
			metrics.StreamEventsTotal.WithLabelValues(ev.Type).Inc()
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("WebSocket write failed, stopping run", zap.Error(err))
				cancel()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				cancel()
				return
			}
		}
	}
}
