package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whatif-server/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIGenerator реализует Generator через go-openai (OpenRouter, DeepSeek и т.п.).
type openAIGenerator struct {
	client *openaigo.Client
	params Params
	logger *zap.Logger
}

// NewOpenAIGenerator wraps an existing go-openai client.
func NewOpenAIGenerator(client *openaigo.Client, params Params, logger *zap.Logger) Generator {
	return &openAIGenerator{
		client: client,
		params: params,
		logger: logger.Named("OpenAIGenerator"),
	}
}

func (g *openAIGenerator) Generate(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error) {
	if err := validateRequest(systemPrompt, userMessage); err != nil {
		observeRequest(g.params.Model, "error")
		return "", err
	}

	messages := make([]openaigo.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleUser,
		Content: userMessage,
	})

	log := g.logger.With(zap.String("model", g.params.Model))
	log.Debug("Sending request to AI",
		zap.Int("historyMessages", len(history)),
		zap.Int("systemPromptBytes", len(systemPrompt)),
		zap.Int("userMessageBytes", len(userMessage)),
	)

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       g.params.Model,
		Messages:    messages,
		MaxTokens:   g.params.MaxTokens,
		Temperature: float32(g.params.Temperature),
	})
	duration := time.Since(start)

	if err != nil {
		log.Warn("AI API error", zap.Duration("duration", duration), zap.Error(err))
		observeRequest(g.params.Model, "error")
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		log.Warn("AI API returned an empty response", zap.Duration("duration", duration))
		observeRequest(g.params.Model, "error_empty_response")
		return "", fmt.Errorf("%w: получен пустой ответ", ErrGenerationFailed)
	}

	observeRequest(g.params.Model, "success")
	aiRequestDuration.With(prometheus.Labels{"model": g.params.Model}).Observe(duration.Seconds())
	observeUsage(g.params.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	text := resp.Choices[0].Message.Content
	log.Info("AI response received",
		zap.Duration("duration", duration),
		zap.Int("length", len(text)),
		zap.Int("promptTokens", resp.Usage.PromptTokens),
		zap.Int("completionTokens", resp.Usage.CompletionTokens),
	)
	return text, nil
}

func openAIRole(role models.MessageRole) string {
	switch role {
	case models.RoleAssistant:
		return openaigo.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openaigo.ChatMessageRoleSystem
	default:
		return openaigo.ChatMessageRoleUser
	}
}
