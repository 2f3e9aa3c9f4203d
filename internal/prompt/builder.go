// Package prompt собирает контекст для модели из истории разговора.
package prompt

import (
	"context"
	"fmt"

	"whatif-server/internal/models"
	"whatif-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Prompt - то, что уходит в Generator.
type Prompt struct {
	SystemPrompt string
	// History в хронологическом порядке, без текущего сообщения пользователя.
	History []models.Message
}

// Builder читает последние сообщения разговора и обрезает их под бюджет токенов.
type Builder struct {
	messages     repository.MessageRepository
	counter      TokenCounter
	systemPrompt string
	historyLimit int
	maxTokens    int
	logger       *zap.Logger
}

// NewBuilder creates a prompt builder. maxTokens <= 0 disables trimming.
func NewBuilder(messages repository.MessageRepository, counter TokenCounter, systemPrompt string, historyLimit, maxTokens int, logger *zap.Logger) *Builder {
	return &Builder{
		messages:     messages,
		counter:      counter,
		systemPrompt: systemPrompt,
		historyLimit: historyLimit,
		maxTokens:    maxTokens,
		logger:       logger.Named("PromptBuilder"),
	}
}

// Build возвращает промт для userMessage. Сообщение с userMessageID (только что
// сохраненное) исключается из истории, старые сообщения отбрасываются первыми.
func (b *Builder) Build(ctx context.Context, conversationID string, userMessageID uuid.UUID, userMessage string) (Prompt, error) {
	p := Prompt{SystemPrompt: b.systemPrompt, History: []models.Message{}}
	if b.historyLimit <= 0 {
		return p, nil
	}

	recent, err := b.messages.ListRecent(ctx, conversationID, b.historyLimit+1)
	if err != nil {
		return p, fmt.Errorf("failed to load history: %w", err)
	}

	// recent - новые первыми; разворачиваем в хронологический порядок.
	history := make([]models.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.ID == userMessageID || m.Role == models.RoleSystem {
			continue
		}
		history = append(history, m)
	}
	if len(history) > b.historyLimit {
		history = history[len(history)-b.historyLimit:]
	}

	if b.maxTokens > 0 {
		budget := b.maxTokens - b.counter.Count(b.systemPrompt) - b.counter.Count(userMessage)
		total := 0
		costs := make([]int, len(history))
		for i, m := range history {
			costs[i] = b.counter.Count(m.Content)
			total += costs[i]
		}
		dropped := 0
		for dropped < len(history) && total > budget {
			total -= costs[dropped]
			dropped++
		}
		if dropped > 0 {
			b.logger.Debug("History trimmed to token budget",
				zap.String("conversationID", conversationID),
				zap.Int("dropped", dropped),
				zap.Int("kept", len(history)-dropped),
			)
			history = history[dropped:]
		}
	}

	p.History = history
	return p, nil
}
