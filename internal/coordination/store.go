// Package coordination holds the ephemeral, TTL-bound state shared between
// the submission endpoint, the generation workers and the pollers.
package coordination

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound - ключ отсутствует или истек его TTL.
	ErrNotFound = errors.New("coordination: key not found")
	// ErrUnavailable wraps every backend failure other than a missing key.
	ErrUnavailable = errors.New("coordination: store unavailable")
)

// Entry - значение одного ключа. RunID связывает поля одной задачи с запуском,
// который их записал.
type Entry struct {
	Value     string    `json:"value"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a key-value store with per-key TTL. Implementations guarantee
// atomicity of single-key operations only.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// SetIfAbsent stores the entry only when the key does not exist.
	SetIfAbsent(ctx context.Context, key string, entry Entry, ttl time.Duration) (bool, error)
	// CompareAndSet stores the entry only when the key exists and its current
	// entry carries the same RunID.
	CompareAndSet(ctx context.Context, key string, entry Entry, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}
