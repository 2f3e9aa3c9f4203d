package repository

import (
	"context"
	"errors"

	"whatif-server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX - общий интерфейс для *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// MessageRepository - Durable Message Store.
type MessageRepository interface {
	// Append сохраняет сообщение. Повторная вставка с тем же ID ничего не меняет.
	Append(ctx context.Context, msg *models.Message) error
	// ListRecent возвращает до limit последних сообщений разговора, новые первыми.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// ConversationRepository проверяет принадлежность разговора пользователю.
type ConversationRepository interface {
	// CheckAccess возвращает models.ErrConversationNotFound или models.ErrForbidden.
	CheckAccess(ctx context.Context, conversationID string, userID uuid.UUID) error
	Create(ctx context.Context, conversationID string, userID uuid.UUID, title string) error
}

// isUnavailable - ошибка соединения, а не SQL-ошибка запроса.
func isUnavailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	return !errors.Is(err, pgx.ErrNoRows)
}
