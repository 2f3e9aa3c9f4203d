package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole - автор сообщения в разговоре.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message - запись Durable Message Store.
type Message struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ConversationID string      `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole `json:"role" db:"role"`
	Content        string      `json:"content" db:"content"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AssistantMessageID derives the id of the generated message from the run id,
// so repeated durable appends of the same generation collapse into one row.
func AssistantMessageID(runID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("assistant-message:"+runID))
}
