package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/models"
	"github.com/halcyonlabs/deepresearch/internal/research"
)

// titleGenerator produces a short conversation title.
type titleGenerator interface {
	Name(ctx context.Context, model, firstMessage string) (string, int, error)
}

// NameHandler generates conversation titles from the opening user message.
type NameHandler struct {
	titler   titleGenerator
	registry *models.Registry
	logger   *zap.Logger
}

// NewNameHandler wires the conversation naming endpoint.
func NewNameHandler(titler titleGenerator, registry *models.Registry, logger *zap.Logger) *NameHandler {
	return &NameHandler{titler: titler, registry: registry, logger: logger}
}

type nameRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Model string `json:"model"`
}

// HandleName names a conversation.
// POST /api/v1/conversations/name
func (h *NameHandler) HandleName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var first string
	for _, m := range req.Messages {
		if m.Role == "user" && m.Content != "" {
			first = m.Content
			break
		}
	}
	if first == "" {
		writeError(w, http.StatusBadRequest, "no user message to name from")
		return
	}

	model := req.Model
	if model == "" {
		model = h.registry.DefaultReasoning()
	}

	name, tokens, err := h.titler.Name(r.Context(), model, first)
	if err != nil {
		var ue *research.UpstreamError
		switch {
		case errors.Is(err, research.ErrMissingCredential):
			writeError(w, http.StatusInternalServerError, err.Error())
		case errors.As(err, &ue):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.logger.Error("Conversation naming failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate name")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":   name,
		"tokens": tokens,
	})
}
