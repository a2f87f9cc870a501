package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/config"
	"github.com/halcyonlabs/deepresearch/internal/metrics"
	"github.com/halcyonlabs/deepresearch/internal/models"
	"github.com/halcyonlabs/deepresearch/internal/research"
)

// researchRequest is the inbound research body.
type researchRequest struct {
	Message string `json:"message"`
	Model   struct {
		ID string `json:"id"`
	} `json:"model"`
	OpenAIModel       string `json:"openaiModel"`
	AutoQuestionCount *bool  `json:"autoQuestionCount"`
	QuestionCount     int    `json:"questionCount"`
	Stream            bool   `json:"stream"`
}

// ResearchHandler serves the deep-research SSE endpoint.
type ResearchHandler struct {
	engine               *research.Engine
	registry             *models.Registry
	creds                config.Credentials
	defaultQuestionCount int
	logger               *zap.Logger
}

// NewResearchHandler wires the research endpoint.
func NewResearchHandler(engine *research.Engine, registry *models.Registry, creds config.Credentials, defaultQuestionCount int, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{
		engine:               engine,
		registry:             registry,
		creds:                creds,
		defaultQuestionCount: defaultQuestionCount,
		logger:               logger,
	}
}

// buildRequest applies the inbound defaults: reasoning model from the
// catalog, autoQuestionCount=true, questionCount=5 honored only when auto is
// off.
func (h *ResearchHandler) buildRequest(req researchRequest) (research.Request, error) {
	if req.Message == "" {
		return research.Request{}, fmt.Errorf("message is required")
	}

	answering := req.Model.ID
	if answering == "" {
		answering = h.registry.DefaultAnswering()
	}
	reasoning := req.OpenAIModel
	if reasoning == "" {
		reasoning = h.registry.DefaultReasoning()
	}

	auto := true
	if req.AutoQuestionCount != nil {
		auto = *req.AutoQuestionCount
	}
	count := req.QuestionCount
	if count == 0 {
		count = h.defaultQuestionCount
	}
	if !auto && count < 1 {
		return research.Request{}, fmt.Errorf("questionCount must be >= 1")
	}

	return research.Request{
		Query:          req.Message,
		AnsweringModel: answering,
		ReasoningModel: reasoning,
		Count:          research.CountPolicy{Auto: auto, Count: count},
		Stream:         req.Stream,
	}, nil
}

// checkCredentials enforces the pre-stream precondition: missing credentials
// are a configuration failure and never enter the event stream.
func (h *ResearchHandler) checkCredentials() error {
	if h.creds.ReasoningAPIKey == "" || h.creds.AnsweringAPIKey == "" {
		return fmt.Errorf("API keys not configured")
	}
	return nil
}

// HandleResearch runs one research request and streams its events.
// POST /api/v1/research
func (h *ResearchHandler) HandleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.checkCredentials(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runReq, err := h.buildRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for ev := range h.engine.Run(r.Context(), runReq) {
		metrics.StreamEventsTotal.WithLabelValues(ev.Type).Inc()
		if err := sse.WriteJSON(ev); err != nil {
			h.logger.Error("Failed to encode research event", zap.Error(err))
		}
	}
	// The stream always terminates with the sentinel, error or not.
	sse.WriteDone()
}
