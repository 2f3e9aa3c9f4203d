package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whatif-server/internal/models"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ollamaGenerator реализует Generator через нативный API Ollama.
type ollamaGenerator struct {
	client *api.Client
	params Params
	logger *zap.Logger
}

// NewOllamaGenerator создает клиента Ollama. baseURL может оканчиваться на /v1.
func NewOllamaGenerator(baseURL string, params Params, logger *zap.Logger) (Generator, error) {
	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(baseURL, "/")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/v1")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}
	httpClient := &http.Client{Timeout: params.Timeout}

	g := &ollamaGenerator{
		client: api.NewClient(parsedURL, httpClient),
		params: params,
		logger: logger.Named("OllamaGenerator"),
	}
	g.logger.Info("Ollama client created",
		zap.String("baseURL", ollamaBaseURL),
		zap.String("model", params.Model),
		zap.Duration("timeout", params.Timeout),
	)
	return g, nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error) {
	if err := validateRequest(systemPrompt, userMessage); err != nil {
		observeRequest(g.params.Model, "error")
		return "", err
	}

	messages := make([]api.Message, 0, len(history)+2)
	messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, api.Message{Role: "user", Content: userMessage})

	stream := false
	req := &api.ChatRequest{
		Model:    g.params.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": g.params.Temperature,
			"num_predict": g.params.MaxTokens,
		},
	}

	requestCtx := ctx
	if g.params.Timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, g.params.Timeout)
		defer cancel()
	}

	log := g.logger.With(zap.String("model", g.params.Model))
	start := time.Now()
	var resp api.ChatResponse
	err := g.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Ollama API timeout", zap.Duration("duration", duration), zap.Error(err))
		} else {
			log.Warn("Ollama API error", zap.Duration("duration", duration), zap.Error(err))
		}
		observeRequest(g.params.Model, "error")
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		log.Warn("Ollama API returned an empty response", zap.Duration("duration", duration))
		observeRequest(g.params.Model, "error_empty_response")
		return "", fmt.Errorf("%w: получен пустой ответ", ErrGenerationFailed)
	}

	observeRequest(g.params.Model, "success")
	aiRequestDuration.With(prometheus.Labels{"model": g.params.Model}).Observe(duration.Seconds())
	observeUsage(g.params.Model, resp.PromptEvalCount, resp.EvalCount)

	log.Info("Ollama response received",
		zap.Duration("duration", duration),
		zap.Int("length", len(resp.Message.Content)),
		zap.Int("promptTokens", resp.PromptEvalCount),
		zap.Int("completionTokens", resp.EvalCount),
	)
	return resp.Message.Content, nil
}
