package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

func TestNewClient_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, Config{Provider: "carrier-pigeon"}, nil)
	assert.Error(t, err)

	_, err = NewClient(ctx, Config{Provider: ProviderOpenAI}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient(ctx, Config{Provider: ProviderGemini}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewClient(ctx, Config{Provider: ProviderOpenAI, APIKey: "k", RequestsPerMinute: 30}, nil)
	require.NoError(t, err)
	_, limited := c.(*limitedClient)
	assert.True(t, limited)
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"Summary\":\"ok\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "secret", Endpoint: srv.URL + "/v1/", Model: "m1"}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), Request{SystemPrompt: "sys", UserPrompt: "hello", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"Summary":"ok"}`, out)

	assert.Equal(t, "m1", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAIClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", Endpoint: srv.URL, MaxRetries: 2}, nil)
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_PermanentStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", Endpoint: srv.URL, MaxRetries: 3}, nil)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{UserPrompt: "x"})
	assert.Error(t, err)
}

type fakeModels struct {
	errs   []error
	text   string
	calls  int
	config *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.config = config
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func TestGeminiClient_Generate(t *testing.T) {
	fake := &fakeModels{text: `{"Summary":"home"}`}
	c := newGeminiClient(fake, Config{MaxTokens: 512}, nil)

	out, err := c.Generate(context.Background(), Request{SystemPrompt: "s", UserPrompt: "u", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"Summary":"home"}`, out)
	assert.Equal(t, "application/json", fake.config.ResponseMIMEType)
	assert.Equal(t, int32(512), fake.config.MaxOutputTokens)
	require.NotNil(t, fake.config.SystemInstruction)
}

func TestGeminiClient_RetryPolicy(t *testing.T) {
	fake := &fakeModels{
		errs: []error{genai.APIError{Code: 503, Message: "overloaded"}},
		text: "ok",
	}
	c := newGeminiClient(fake, Config{MaxRetries: 2}, nil)
	out, err := c.Generate(context.Background(), Request{UserPrompt: "u"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, fake.calls)

	fake = &fakeModels{errs: []error{genai.APIError{Code: 400, Message: "bad"}}}
	c = newGeminiClient(fake, Config{MaxRetries: 2}, nil)
	_, err = c.Generate(context.Background(), Request{UserPrompt: "u"})
	assert.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

type stubClient struct{ calls int }

func (s *stubClient) Generate(context.Context, Request) (string, error) {
	s.calls++
	return "ok", nil
}

func TestWithRateLimit(t *testing.T) {
	stub := &stubClient{}
	c := WithRateLimit(stub, 60)

	out, err := c.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	// The burst is spent; a cancelled context fails the wait.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Generate(ctx, Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, stub.calls)
}
