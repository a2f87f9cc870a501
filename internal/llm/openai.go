// Package llm contains the adapters for the two upstream text-generation
// services: the reasoning service (decomposition, validation, summarization)
// and the web-search-augmented answering service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/metrics"
	"github.com/halcyonlabs/deepresearch/internal/models"
	"github.com/halcyonlabs/deepresearch/internal/research"
)

const decompositionPreamble = `You are a research assistant. Your task is to break down the user's query into specific research questions that will help provide a comprehensive answer.`

const decompositionFormat = `Each question should be focused and concise (1 sentence).
Format your response as a JSON array of strings, each string being a research question.
Example: ["What are the key components of X?", "How does Y impact Z?", ...]`

const validationPrompt = `You are a research validator. Your task is to review the research findings and determine if additional questions are needed to fully answer the original query.
Based on the original question and the research conducted, identify if there are any gaps in knowledge or aspects that haven't been sufficiently covered.
Provide your response as a JSON object with two properties:
1. "needsMoreQuestions": A boolean indicating whether more research is needed (true) or if the current research is sufficient (false)
2. "additionalQuestions": An array of strings containing specific questions that would fill the knowledge gaps (only if needsMoreQuestions is true)`

// ReasoningConfig configures the reasoning service adapter.
type ReasoningConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	AutoQuestionMin int
	AutoQuestionMax int
}

// ReasoningClient calls the reasoning service. It implements
// research.ReasoningService.
type ReasoningClient struct {
	apiKey     string
	baseURL    string
	autoMin    int
	autoMax    int
	registry   *models.Registry
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReasoningClient builds a reasoning adapter with explicit credentials.
func NewReasoningClient(cfg ReasoningConfig, registry *models.Registry, logger *zap.Logger) *ReasoningClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ReasoningClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		autoMin:    cfg.AutoQuestionMin,
		autoMax:    cfg.AutoQuestionMax,
		registry:   registry,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionOpts struct {
	temperature float64
	maxTokens   int
}

// complete performs one chat completion and returns content plus token cost.
// Model traits from the catalog decide the request shape: models with a
// reasoning-effort level get it and no temperature; others get temperature.
func (c *ReasoningClient) complete(ctx context.Context, model string, messages []chatMessage, opts completionOpts) (string, int, error) {
	if c.apiKey == "" {
		return "", 0, fmt.Errorf("reasoning service: %w", research.ErrMissingCredential)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	traits, known := c.registry.Reasoning(model)
	switch {
	case known && traits.ReasoningEffort != "":
		body["reasoning_effort"] = traits.ReasoningEffort
	case (!known || traits.SupportsTemperature) && opts.temperature > 0:
		body["temperature"] = opts.temperature
	}
	if opts.maxTokens > 0 {
		body["max_tokens"] = opts.maxTokens
	}

	reqJSON, err := json.Marshal(body)
	if err != nil {
		return "", 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqJSON))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("reasoning service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, upstreamError("reasoning", resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("parse reasoning response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, &research.UpstreamError{Service: "reasoning", StatusCode: resp.StatusCode, Message: "empty choices in response"}
	}

	content := out.Choices[0].Message.Content
	tokens := out.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(content)
	}
	return content, tokens, nil
}

// Decompose turns a query into sub-questions. Unparsable or empty model
// output yields an empty slice with nil error; the orchestrator treats that
// as fatal.
func (c *ReasoningClient) Decompose(ctx context.Context, model, query string, policy research.CountPolicy) ([]string, int, error) {
	var countRule string
	if policy.Auto {
		countRule = fmt.Sprintf("Generate from %d to %d specific research questions that will help answer the user's query, the number of questions depends on the complexity of the query, avoid unnecessary questions.", c.autoMin, c.autoMax)
	} else {
		countRule = fmt.Sprintf("Generate exactly %d specific research questions that will help answer the user's query.", policy.Count)
	}
	system := decompositionPreamble + "\n" + countRule + "\n" + decompositionFormat

	content, tokens, err := c.complete(ctx, model, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}, completionOpts{temperature: 0.5})
	if err != nil {
		return nil, tokens, err
	}

	var raw []string
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		c.logger.Warn("Decomposition output is not a JSON array of strings",
			zap.String("model", model), zap.Error(err))
		return nil, tokens, nil
	}
	questions := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if !policy.Auto && len(questions) > policy.Count {
		questions = questions[:policy.Count]
	}
	return questions, tokens, nil
}

// Validate judges whether the findings cover the original query. Malformed
// model output degrades to the safe-stop default rather than an error.
func (c *ReasoningClient) Validate(ctx context.Context, model, query, findings string) (research.Validation, int, error) {
	user := fmt.Sprintf("Original question: %s\n\nResearch conducted:\n%s\n\nBased on this research, determine if additional questions are needed to fully answer the original query.", query, findings)

	content, tokens, err := c.complete(ctx, model, []chatMessage{
		{Role: "system", Content: validationPrompt},
		{Role: "user", Content: user},
	}, completionOpts{temperature: 0.3})
	if err != nil {
		return research.Validation{}, tokens, err
	}

	var out struct {
		NeedsMoreQuestions  bool     `json:"needsMoreQuestions"`
		AdditionalQuestions []string `json:"additionalQuestions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		c.logger.Warn("Validation output unparsable, stopping research",
			zap.String("model", model), zap.Error(err))
		return research.Validation{}, tokens, nil
	}
	return research.Validation{
		NeedsMore:           out.NeedsMoreQuestions,
		AdditionalQuestions: out.AdditionalQuestions,
	}, tokens, nil
}

// Summarize synthesizes all findings into one answer.
func (c *ReasoningClient) Summarize(ctx context.Context, model, query, findings string) (string, int, error) {
	user := fmt.Sprintf("You are a research assistant. Your task is to synthesize the research findings into a clear, concise summary. Focus on the key insights and how they relate to the original question.\nOriginal question: %s\n\nResearch findings:\n%s", query, findings)

	return c.complete(ctx, model, []chatMessage{
		{Role: "user", Content: user},
	}, completionOpts{})
}

// Name generates a short conversation title from its opening message.
func (c *ReasoningClient) Name(ctx context.Context, model, firstMessage string) (string, int, error) {
	prompt := fmt.Sprintf("Generate a short, creative name (maximum 4 words) for a conversation that starts with: %q. Reply with the name only, without quotes or punctuation.", firstMessage)

	content, tokens, err := c.complete(ctx, model, []chatMessage{
		{Role: "user", Content: prompt},
	}, completionOpts{temperature: 0.7, maxTokens: 20})
	if err != nil {
		return "", tokens, err
	}
	return strings.TrimSpace(content), tokens, nil
}

// upstreamError reads the error body and preserves the upstream status.
func upstreamError(service string, resp *http.Response) error {
	metrics.RecordUpstreamError(service, strconv.Itoa(resp.StatusCode))
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(raw))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &research.UpstreamError{Service: service, StatusCode: resp.StatusCode, Message: msg}
}
