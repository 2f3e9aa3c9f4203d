package coordination

import "fmt"

// Key layout: task:{conversationId}:{field}.
const (
	fieldStatus  = "status"
	fieldContent = "content"
	fieldError   = "error"
	fieldMeta    = "meta"
	fieldLock    = "lock"
)

func taskKey(conversationID, field string) string {
	return fmt.Sprintf("task:%s:%s", conversationID, field)
}

// StatusKey returns the key holding the task status.
func StatusKey(conversationID string) string { return taskKey(conversationID, fieldStatus) }

// ContentKey returns the key holding the generated content.
func ContentKey(conversationID string) string { return taskKey(conversationID, fieldContent) }

// ErrorKey returns the key holding the sanitized error.
func ErrorKey(conversationID string) string { return taskKey(conversationID, fieldError) }

// MetaKey returns the key holding run bookkeeping.
func MetaKey(conversationID string) string { return taskKey(conversationID, fieldMeta) }

// LockKey returns the submission lease key.
func LockKey(conversationID string) string { return taskKey(conversationID, fieldLock) }

// ClaimKey marks that a worker has picked up the run.
func ClaimKey(conversationID, runID string) string {
	return taskKey(conversationID, "claim:"+runID)
}
