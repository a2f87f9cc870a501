package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/models"
	"github.com/halcyonlabs/deepresearch/internal/research"
)

// streamOpener opens a raw streaming completion against the answering
// service.
type streamOpener interface {
	OpenStream(ctx context.Context, model, content string) (io.ReadCloser, error)
}

// ChatHandler proxies a plain streaming chat completion, forwarding upstream
// frames and injecting running token estimates.
type ChatHandler struct {
	opener   streamOpener
	registry *models.Registry
	logger   *zap.Logger
}

// NewChatHandler wires the chat passthrough endpoint.
func NewChatHandler(opener streamOpener, registry *models.Registry, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{opener: opener, registry: registry, logger: logger}
}

type chatRequest struct {
	Message string `json:"message"`
	Model   struct {
		ID string `json:"id"`
	} `json:"model"`
}

// tokenUpdate is the injected usage estimate frame.
type tokenUpdate struct {
	Tokens struct {
		Prompt     int `json:"prompt"`
		Completion int `json:"completion"`
		Total      int `json:"total"`
	} `json:"tokens"`
}

// tokenUpdateInterval is the floor between injected token estimate frames.
const tokenUpdateInterval = 500 * time.Millisecond

// HandleChat streams one chat completion.
// POST /api/v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	model := req.Model.ID
	if model == "" {
		model = h.registry.DefaultAnswering()
	}

	body, err := h.opener.OpenStream(r.Context(), model, req.Message)
	if err != nil {
		var ue *research.UpstreamError
		switch {
		case errors.Is(err, research.ErrMissingCredential):
			writeError(w, http.StatusInternalServerError, err.Error())
		case errors.As(err, &ue):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusBadGateway, "upstream unavailable")
		}
		return
	}
	defer body.Close()

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Rough prompt-side estimate; the upstream does not report usage while
	// streaming.
	promptTokens := (len(req.Message) + 3) / 4
	completionTokens := 0
	pendingTokens := 0
	lastUpdate := time.Now()

	writeTokens := func() {
		var upd tokenUpdate
		upd.Tokens.Prompt = promptTokens
		upd.Tokens.Completion = completionTokens
		upd.Tokens.Total = promptTokens + completionTokens
		if err := sse.WriteJSON(upd); err != nil {
			h.logger.Debug("Failed to encode token update", zap.Error(err))
		}
		pendingTokens = 0
		lastUpdate = time.Now()
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			break
		}
		sse.WriteRaw(payload)

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
			n := (len(frame.Choices[0].Delta.Content) + 3) / 4
			completionTokens += n
			pendingTokens += n
			if pendingTokens >= 5 || time.Since(lastUpdate) > tokenUpdateInterval {
				writeTokens()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("Chat stream interrupted", zap.Error(err))
	}

	writeTokens()
	sse.WriteDone()
}
