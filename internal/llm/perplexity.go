package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/research"
)

// AnsweringConfig configures the answering service adapter.
type AnsweringConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// AnsweringClient calls the web-search-augmented answering service. It
// implements research.AnsweringService.
type AnsweringClient struct {
	apiKey  string
	baseURL string
	// httpClient bounds single-shot calls; streamClient has no overall
	// deadline because stream length is content-dependent.
	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// NewAnsweringClient builds an answering adapter with explicit credentials.
func NewAnsweringClient(cfg AnsweringConfig, logger *zap.Logger) *AnsweringClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	return &AnsweringClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

func (c *AnsweringClient) newRequest(ctx context.Context, model, content string, stream bool) (*http.Request, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("answering service: %w", research.ErrMissingCredential)
	}
	body := map[string]interface{}{
		"model":    model,
		"messages": []chatMessage{{Role: "user", Content: content}},
		"stream":   stream,
	}
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// Answer retrieves a complete answer with citations in one call.
func (c *AnsweringClient) Answer(ctx context.Context, model, prompt string) (research.Answer, error) {
	req, err := c.newRequest(ctx, model, prompt, false)
	if err != nil {
		return research.Answer{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return research.Answer{}, fmt.Errorf("answering service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return research.Answer{}, upstreamError("answering", resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
		Usage     struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return research.Answer{}, fmt.Errorf("parse answering response: %w", err)
	}
	if len(out.Choices) == 0 {
		return research.Answer{}, &research.UpstreamError{Service: "answering", StatusCode: resp.StatusCode, Message: "empty choices in response"}
	}

	content := out.Choices[0].Message.Content
	tokens := out.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(content)
	}
	return research.Answer{Content: content, Links: out.Citations, Tokens: tokens}, nil
}

// streamFrame is one upstream SSE data payload. Citations and usage ride on
// whichever frames carry them; the last seen values win.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// AnswerStream retrieves an answer incrementally, invoking onChunk for each
// content delta, and returns the assembled answer with trailing citations and
// token cost. Malformed stream lines are skipped.
func (c *AnsweringClient) AnswerStream(ctx context.Context, model, prompt string, onChunk func(chunk string)) (research.Answer, error) {
	req, err := c.newRequest(ctx, model, prompt, true)
	if err != nil {
		return research.Answer{}, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return research.Answer{}, fmt.Errorf("answering service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return research.Answer{}, upstreamError("answering", resp)
	}

	var content strings.Builder
	var citations []string
	tokens := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			c.logger.Debug("Skipping malformed stream frame", zap.Error(err))
			continue
		}
		if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
			content.WriteString(frame.Choices[0].Delta.Content)
			onChunk(frame.Choices[0].Delta.Content)
		}
		if len(frame.Citations) > 0 {
			citations = frame.Citations
		}
		if frame.Usage != nil && frame.Usage.TotalTokens > 0 {
			tokens = frame.Usage.TotalTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return research.Answer{}, fmt.Errorf("answering stream interrupted: %w", err)
	}

	if tokens == 0 {
		tokens = estimateTokens(content.String())
	}
	return research.Answer{Content: content.String(), Links: citations, Tokens: tokens}, nil
}

// OpenStream starts a raw streaming completion and hands the SSE body to the
// caller, which must close it. Used by the chat passthrough endpoint.
func (c *AnsweringClient) OpenStream(ctx context.Context, model, content string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, model, content, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("answering service call failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, upstreamError("answering", resp)
	}
	return resp.Body, nil
}
