// Package llm содержит клиентов Generate для OpenAI-совместимых API и Ollama.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"whatif-server/internal/config"
	"whatif-server/internal/models"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrGenerationFailed оборачивает любую ошибку провайдера. Текст провайдера
// никогда не уходит клиенту.
var ErrGenerationFailed = errors.New("ai generation failed")

// Generator - возможность генерации ответа ассистента.
type Generator interface {
	// Generate получает историю в хронологическом порядке (старые первыми)
	// и возвращает текст ответа на userMessage.
	Generate(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error)
}

// Params - параметры запроса к модели.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewGenerator создает клиента в зависимости от AI_CLIENT_TYPE.
func NewGenerator(cfg *config.Config, logger *zap.Logger) (Generator, error) {
	params := Params{
		Model:       cfg.AIModel,
		MaxTokens:   cfg.AIMaxTokens,
		Temperature: cfg.AITemperature,
		Timeout:     cfg.AITimeout,
	}
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
		openaiConfig.BaseURL = cfg.AIBaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
		logger.Info("OpenAI client created",
			zap.String("baseURL", cfg.AIBaseURL),
			zap.String("model", cfg.AIModel),
			zap.Duration("timeout", cfg.AITimeout),
		)
		return NewOpenAIGenerator(openaigo.NewClientWithConfig(openaiConfig), params, logger), nil
	case "ollama":
		return NewOllamaGenerator(cfg.AIBaseURL, params, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}
}

func validateRequest(systemPrompt, userMessage string) error {
	if strings.TrimSpace(userMessage) == "" {
		return fmt.Errorf("%w: пустое сообщение пользователя", ErrGenerationFailed)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return fmt.Errorf("%w: системный промт пуст", ErrGenerationFailed)
	}
	return nil
}
