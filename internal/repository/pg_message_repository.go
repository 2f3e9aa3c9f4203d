package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatif-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	appendMessageQuery = `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	listRecentMessagesQuery = `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
)

type pgMessageRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgMessageRepository creates the pgx-backed MessageRepository.
func NewPgMessageRepository(db DBTX, logger *zap.Logger) MessageRepository {
	return &pgMessageRepository{
		db:     db,
		logger: logger.Named("PgMessageRepo"),
	}
}

// Compile-time check
var _ MessageRepository = (*pgMessageRepository)(nil)

func (r *pgMessageRepository) Append(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	log := r.logger.With(
		zap.String("conversationID", msg.ConversationID),
		zap.String("messageID", msg.ID.String()),
		zap.String("role", string(msg.Role)),
	)

	tag, err := r.db.Exec(ctx, appendMessageQuery, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			log.Warn("Append to unknown conversation")
			return models.ErrConversationNotFound
		}
		log.Error("Failed to append message", zap.Error(err))
		return fmt.Errorf("%w: append message: %v", models.ErrDurableStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug("Message already stored, append skipped")
		return nil
	}
	log.Debug("Message appended")
	return nil
}

func (r *pgMessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	var messages []models.Message
	if err := pgxscan.Select(ctx, r.db, &messages, listRecentMessagesQuery, conversationID, limit); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []models.Message{}, nil
		}
		r.logger.Error("Failed to list recent messages",
			zap.String("conversationID", conversationID), zap.Int("limit", limit), zap.Error(err))
		return nil, fmt.Errorf("%w: list messages: %v", models.ErrDurableStoreUnavailable, err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}
