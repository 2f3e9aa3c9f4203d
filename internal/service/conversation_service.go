package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"whatif-server/internal/models"
	"whatif-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxTitleLength = 200

// ConversationService создает разговоры пользователя.
type ConversationService struct {
	convs  repository.ConversationRepository
	logger *zap.Logger
}

// NewConversationService creates a ConversationService.
func NewConversationService(convs repository.ConversationRepository, logger *zap.Logger) *ConversationService {
	return &ConversationService{convs: convs, logger: logger.Named("ConversationService")}
}

// Create заводит разговор и возвращает его ID.
func (s *ConversationService) Create(ctx context.Context, userID uuid.UUID, title string) (string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", fmt.Errorf("%w: title is longer than %d characters", models.ErrInvalidInput, maxTitleLength)
	}
	id := uuid.NewString()
	if err := s.convs.Create(ctx, id, userID, title); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDurableStoreUnavailable, err)
	}
	s.logger.Info("Conversation created", zap.String("conversationID", id), zap.Stringer("userID", userID))
	return id, nil
}
