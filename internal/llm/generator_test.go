package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatif-server/internal/config"
	"whatif-server/internal/models"

	openaigo "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testHistory = []models.Message{
	{Role: models.RoleUser, Content: "What if the Moon had rings?"},
	{Role: models.RoleAssistant, Content: "Tides would look different."},
}

func newOpenAITestGenerator(t *testing.T, handler http.HandlerFunc) Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openaigo.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	return NewOpenAIGenerator(openaigo.NewClientWithConfig(cfg), Params{Model: "test-model", MaxTokens: 64, Temperature: 0.5}, zap.NewNop())
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var got openaigo.ChatCompletionRequest
	gen := newOpenAITestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaigo.ChatCompletionResponse{
			ID:     "cmpl-1",
			Object: "chat.completion",
			Model:  "test-model",
			Choices: []openaigo.ChatCompletionChoice{{
				Message: openaigo.ChatCompletionMessage{Role: "assistant", Content: "They would shine at night."},
			}},
			Usage: openaigo.Usage{PromptTokens: 20, CompletionTokens: 6, TotalTokens: 26},
		})
	})

	text, err := gen.Generate(context.Background(), "You are helpful.", testHistory, "And eclipses?")
	require.NoError(t, err)
	assert.Equal(t, "They would shine at night.", text)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, openaigo.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, openaigo.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, openaigo.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "And eclipses?", got.Messages[3].Content)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestOpenAIGenerator_EmptyResponseIsFailure(t *testing.T) {
	gen := newOpenAITestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaigo.ChatCompletionResponse{
			Choices: []openaigo.ChatCompletionChoice{{Message: openaigo.ChatCompletionMessage{Role: "assistant", Content: "  "}}},
		})
	})

	_, err := gen.Generate(context.Background(), "sys", nil, "hi")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestOpenAIGenerator_ProviderErrorIsWrapped(t *testing.T) {
	gen := newOpenAITestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	})

	_, err := gen.Generate(context.Background(), "sys", nil, "hi")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerator_RejectsEmptyInput(t *testing.T) {
	gen := newOpenAITestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called")
	})

	_, err := gen.Generate(context.Background(), "sys", nil, "   ")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	_, err = gen.Generate(context.Background(), "", nil, "hi")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestOllamaGenerator_Generate(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"Local answer"},"done":true,"prompt_eval_count":12,"eval_count":3}` + "\n"))
	}))
	defer srv.Close()

	gen, err := NewOllamaGenerator(srv.URL+"/v1", Params{Model: "llama3", MaxTokens: 32, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), "sys", testHistory, "next")
	require.NoError(t, err)
	assert.Equal(t, "Local answer", text)

	msgs, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, msgs, 4)
	assert.Equal(t, false, body["stream"])
}

func TestOllamaGenerator_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	gen, err := NewOllamaGenerator(srv.URL, Params{Model: "missing", Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "sys", nil, "hi")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestNewGenerator_UnknownType(t *testing.T) {
	_, err := NewGenerator(&config.Config{AIClientType: "grok"}, zap.NewNop())
	assert.Error(t, err)

	gen, err := NewGenerator(&config.Config{AIClientType: "OpenAI", AIBaseURL: "http://localhost:1/v1", AIModel: "m"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, gen)
}
