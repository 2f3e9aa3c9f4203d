package repository

import (
	"context"
	"errors"
	"fmt"

	"whatif-server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	getConversationOwnerQuery = `SELECT user_id FROM conversations WHERE id = $1`
	createConversationQuery   = `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`
)

type pgConversationRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgConversationRepository creates the pgx-backed ConversationRepository.
func NewPgConversationRepository(db DBTX, logger *zap.Logger) ConversationRepository {
	return &pgConversationRepository{
		db:     db,
		logger: logger.Named("PgConversationRepo"),
	}
}

func (r *pgConversationRepository) CheckAccess(ctx context.Context, conversationID string, userID uuid.UUID) error {
	var owner uuid.UUID
	err := r.db.QueryRow(ctx, getConversationOwnerQuery, conversationID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrConversationNotFound
		}
		r.logger.Error("Failed to load conversation owner",
			zap.String("conversationID", conversationID), zap.Error(err))
		if isUnavailable(err) {
			return fmt.Errorf("%w: conversation owner: %v", models.ErrDurableStoreUnavailable, err)
		}
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if owner != userID {
		r.logger.Warn("Conversation access denied",
			zap.String("conversationID", conversationID), zap.Stringer("userID", userID))
		return models.ErrForbidden
	}
	return nil
}

func (r *pgConversationRepository) Create(ctx context.Context, conversationID string, userID uuid.UUID, title string) error {
	if _, err := r.db.Exec(ctx, createConversationQuery, conversationID, userID, title); err != nil {
		r.logger.Error("Failed to create conversation",
			zap.String("conversationID", conversationID), zap.Error(err))
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}
