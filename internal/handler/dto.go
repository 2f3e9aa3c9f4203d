package handler

// SubmitMessageRequest - тело POST /conversations/:id/messages.
type SubmitMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreateConversationRequest - тело POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// CreateConversationResponse returns the id of the new conversation.
type CreateConversationResponse struct {
	ID string `json:"id"`
}

// HealthResponse - ответ /health.
type HealthResponse struct {
	Status string `json:"status"`
}
