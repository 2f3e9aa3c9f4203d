package models

import "time"

// TaskStatus - состояние задачи генерации в Coordination Store.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	// TaskStatusUnknown never stored; returned by Poll when neither store knows the answer.
	TaskStatusUnknown TaskStatus = "unknown"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive reports whether the task still occupies its conversation.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusQueued || s == TaskStatusProcessing
}

// Valid reports whether s may be persisted in the coordination store.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo enforces queued -> processing -> {completed, failed}.
// queued -> failed is allowed for tasks that could not be scheduled.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusProcessing || next == TaskStatusFailed
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// Task - одна задача генерации ответа для разговора.
// ID совпадает с ConversationID: в разговоре не может быть больше одной активной задачи.
type Task struct {
	ID             string     `json:"task_id"`
	ConversationID string     `json:"conversation_id"`
	RunID          string     `json:"run_id"`
	UserMessageID  string     `json:"user_message_id,omitempty"`
	Status         TaskStatus `json:"status"`
	Content        string     `json:"content,omitempty"`
	Error          string     `json:"error,omitempty"`
	Persisted      bool       `json:"persisted"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PollSource tells the client which store answered the poll.
type PollSource string

const (
	PollSourceCoordination PollSource = "coordination-store"
	PollSourceFallback     PollSource = "durable-store-fallback"
	PollSourceNone         PollSource = "none"
)

// PollResult - ответ long-poll эндпоинта, не сохраняется.
type PollResult struct {
	TaskID  string     `json:"task_id,omitempty"`
	Status  TaskStatus `json:"status"`
	Content string     `json:"content,omitempty"`
	Error   string     `json:"error,omitempty"`
	Source  PollSource `json:"source"`
}

// ShouldContinuePolling is false once the result is terminal or unknown.
func (r PollResult) ShouldContinuePolling() bool {
	return r.Status.IsActive()
}

// Accepted - результат Submit.
type Accepted struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
	// Existing is true when an in-flight task was returned instead of a new one.
	Existing bool `json:"existing,omitempty"`
}
