package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/research"
)

func newAnsweringClient(baseURL string) *AnsweringClient {
	return NewAnsweringClient(AnsweringConfig{APIKey: "test-key", BaseURL: baseURL}, zap.NewNop())
}

func TestAnswerParsesContentAndCitations(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "Grid storage smooths output."}}],
			"citations": ["https://example.com/a", "https://example.com/b"],
			"usage": {"total_tokens": 33}
		}`))
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	ans, err := c.Answer(context.Background(), "sonar-reasoning-pro", "how is grid storage used?")

	require.NoError(t, err)
	assert.Equal(t, "Grid storage smooths output.", ans.Content)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, ans.Links)
	assert.Equal(t, 33, ans.Tokens)
	assert.Equal(t, false, captured["stream"])
	assert.Equal(t, "sonar-reasoning-pro", captured["model"])
}

func TestAnswerEstimatesTokensWhenUsageMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "short answer"}}]}`))
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	ans, err := c.Answer(context.Background(), "sonar", "q")

	require.NoError(t, err)
	assert.Equal(t, (len("short answer")+3)/4, ans.Tokens)
}

func TestAnswerUpstreamErrorPreservesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"search backend down"}}`))
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	_, err := c.Answer(context.Background(), "sonar", "q")

	var ue *research.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
	assert.Equal(t, "search backend down", ue.Message)
	assert.Equal(t, "answering", ue.Service)
}

func TestAnswerMissingCredential(t *testing.T) {
	c := NewAnsweringClient(AnsweringConfig{BaseURL: "http://unused"}, zap.NewNop())

	_, err := c.Answer(context.Background(), "sonar", "q")
	assert.True(t, errors.Is(err, research.ErrMissingCredential))

	_, err = c.AnswerStream(context.Background(), "sonar", "q", func(string) {})
	assert.True(t, errors.Is(err, research.ErrMissingCredential))
}

func TestAnswerStreamAssemblesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"Hello "}}]}`+"\n\n")
		_, _ = io.WriteString(w, "event: noise\n")
		_, _ = io.WriteString(w, "data: {malformed json\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"world"}}],"citations":["https://example.com"]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[],"usage":{"total_tokens":12}}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"after done"}}]}`+"\n\n")
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	var chunks []string
	ans, err := c.AnswerStream(context.Background(), "sonar-reasoning-pro", "q", func(chunk string) {
		chunks = append(chunks, chunk)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello ", "world"}, chunks)
	assert.Equal(t, "Hello world", ans.Content)
	assert.Equal(t, []string{"https://example.com"}, ans.Links)
	assert.Equal(t, 12, ans.Tokens)
}

func TestAnswerStreamEstimatesTokensWhenUsageMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"abcdefgh"}}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	ans, err := c.AnswerStream(context.Background(), "sonar", "q", func(string) {})

	require.NoError(t, err)
	assert.Equal(t, 2, ans.Tokens)
}

func TestAnswerStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	_, err := c.AnswerStream(context.Background(), "sonar", "q", func(string) {})

	var ue *research.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
}

func TestOpenStreamReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"hi"}}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	c := newAnsweringClient(srv.URL)

	body, err := c.OpenStream(context.Background(), "sonar", "hello")
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":"hi"`)
	assert.Contains(t, string(raw), "data: [DONE]")
}
