package models

// GenerationJob - полезная нагрузка, передаваемая воркеру через Dispatcher.
// Промпт и история собираются при отправке и в воркере не пересобираются.
type GenerationJob struct {
	ConversationID string    `json:"conversation_id"`
	RunID          string    `json:"run_id"`
	UserID         string    `json:"user_id"`
	UserMessageID  string    `json:"user_message_id"`
	UserMessage    string    `json:"user_message"`
	SystemPrompt   string    `json:"system_prompt"`
	History        []Message `json:"history"`
}
