package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whatif-server/internal/models"

	"go.uber.org/zap"
)

// ErrTaskNotFound - в Coordination Store нет задачи для разговора (истек TTL или не создавалась).
var ErrTaskNotFound = fmt.Errorf("task %w", ErrNotFound)

// ErrTaskInFlux is returned by Load when the task keys kept belonging to
// different runs, i.e. a new run was being written during every attempt.
var ErrTaskInFlux = fmt.Errorf("%w: task is being rewritten by a new run", ErrUnavailable)

// ErrRunSuperseded - ключи задачи уже принадлежат более новому запуску.
var ErrRunSuperseded = errors.New("task belongs to a newer run")

const (
	// loadAttempts bounds re-reads when a writer interleaves with Load.
	loadAttempts   = 4
	loadRetryDelay = 5 * time.Millisecond
)

type taskMeta struct {
	RunID         string    `json:"run_id"`
	UserMessageID string    `json:"user_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Persisted     bool      `json:"persisted"`
}

// TaskStore проецирует models.Task на ключи Coordination Store.
type TaskStore struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewTaskStore creates a TaskStore; every write refreshes the key TTL to ttl.
func NewTaskStore(store Store, ttl time.Duration, logger *zap.Logger) *TaskStore {
	return &TaskStore{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("TaskStore"),
	}
}

// TTL returns the per-key time-to-live.
func (s *TaskStore) TTL() time.Duration { return s.ttl }

// Save writes the task. Every key is tagged with the run id; content, error and
// meta go first and status last. Load rejects a snapshot whose keys carry
// different run ids.
func (s *TaskStore) Save(ctx context.Context, task *models.Task) error {
	if !task.Status.Valid() {
		return fmt.Errorf("refusing to store task %s with status %q", task.ID, task.Status)
	}
	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	metaRaw, err := json.Marshal(taskMeta{
		RunID:         task.RunID,
		UserMessageID: task.UserMessageID,
		CreatedAt:     task.CreatedAt,
		Persisted:     task.Persisted,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task meta: %w", err)
	}

	writes := []struct {
		key   string
		value string
	}{
		{ContentKey(task.ID), task.Content},
		{ErrorKey(task.ID), task.Error},
		{MetaKey(task.ID), string(metaRaw)},
		{StatusKey(task.ID), string(task.Status)},
	}
	for _, w := range writes {
		if err := s.store.Set(ctx, w.key, Entry{Value: w.value, RunID: task.RunID, UpdatedAt: now}, s.ttl); err != nil {
			return fmt.Errorf("failed to write %s: %w", w.key, err)
		}
	}

	s.logger.Debug("Task saved",
		zap.String("conversationID", task.ID),
		zap.String("runID", task.RunID),
		zap.String("status", string(task.Status)),
	)
	return nil
}

// Load reads the task for a conversation. Returns ErrTaskNotFound when the
// status key is missing and ErrTaskInFlux when no attempt saw the keys of a
// single run.
func (s *TaskStore) Load(ctx context.Context, conversationID string) (*models.Task, error) {
	var consistent *models.Task
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(loadRetryDelay * time.Duration(attempt-1)):
			}
		}

		first, err := s.status(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		task, sameRun, err := s.readFields(ctx, conversationID, first)
		if err != nil {
			return nil, err
		}
		second, err := s.status(ctx, conversationID)
		if err != nil {
			return nil, err
		}

		if sameRun {
			if sameEntry(first, second) {
				return task, nil
			}
			consistent = task
		}
		s.logger.Debug("Task changed while reading, retrying",
			zap.String("conversationID", conversationID),
			zap.Int("attempt", attempt),
			zap.Bool("mixedRuns", !sameRun),
		)
	}
	if consistent != nil {
		return consistent, nil
	}
	s.logger.Warn("Task keys belong to different runs, giving up", zap.String("conversationID", conversationID))
	return nil, ErrTaskInFlux
}

func sameEntry(a, b Entry) bool {
	return a.Value == b.Value && a.RunID == b.RunID && a.UpdatedAt.Equal(b.UpdatedAt)
}

func (s *TaskStore) status(ctx context.Context, conversationID string) (Entry, error) {
	e, err := s.store.Get(ctx, StatusKey(conversationID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, ErrTaskNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// readFields reads content, error and meta. sameRun is false when any of
// them was written by a different run than status.
func (s *TaskStore) readFields(ctx context.Context, conversationID string, status Entry) (*models.Task, bool, error) {
	task := &models.Task{
		ID:             conversationID,
		ConversationID: conversationID,
		RunID:          status.RunID,
		Status:         models.TaskStatus(status.Value),
		UpdatedAt:      status.UpdatedAt,
	}
	if !task.Status.Valid() {
		s.logger.Error("Unknown task status in coordination store",
			zap.String("conversationID", conversationID), zap.String("status", status.Value))
		return nil, false, ErrTaskNotFound
	}

	sameRun := true
	field := func(key string) (string, error) {
		e, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", nil
			}
			return "", err
		}
		if e.RunID != status.RunID {
			sameRun = false
		}
		return e.Value, nil
	}

	var err error
	if task.Content, err = field(ContentKey(conversationID)); err != nil {
		return nil, false, err
	}
	if task.Error, err = field(ErrorKey(conversationID)); err != nil {
		return nil, false, err
	}
	metaRaw, err := field(MetaKey(conversationID))
	if err != nil {
		return nil, false, err
	}
	if metaRaw != "" {
		var meta taskMeta
		if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
			s.logger.Warn("Corrupted task meta", zap.String("conversationID", conversationID), zap.Error(err))
		} else {
			task.UserMessageID = meta.UserMessageID
			task.CreatedAt = meta.CreatedAt
			task.Persisted = meta.Persisted
		}
	}
	return task, sameRun, nil
}

// MarkPersisted records that the generated message reached the durable store.
// Only the meta key is rewritten, and only while it still belongs to
// task.RunID; otherwise ErrRunSuperseded is returned.
func (s *TaskStore) MarkPersisted(ctx context.Context, task *models.Task) error {
	if !task.Status.IsTerminal() {
		return fmt.Errorf("task %s is not terminal (%s)", task.ID, task.Status)
	}
	metaRaw, err := json.Marshal(taskMeta{
		RunID:         task.RunID,
		UserMessageID: task.UserMessageID,
		CreatedAt:     task.CreatedAt,
		Persisted:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task meta: %w", err)
	}
	swapped, err := s.store.CompareAndSet(ctx, MetaKey(task.ID),
		Entry{Value: string(metaRaw), RunID: task.RunID, UpdatedAt: s.now()}, s.ttl)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrRunSuperseded
	}
	task.Persisted = true
	return nil
}

// Delete removes every key of the task, as TTL expiry would.
func (s *TaskStore) Delete(ctx context.Context, conversationID string) error {
	return s.store.Delete(ctx,
		StatusKey(conversationID),
		ContentKey(conversationID),
		ErrorKey(conversationID),
		MetaKey(conversationID),
	)
}

// AcquireSubmitLease takes the per-conversation submission lease. The lease
// expires by itself after ttl, so a crashed holder cannot block the conversation.
func (s *TaskStore) AcquireSubmitLease(ctx context.Context, conversationID, owner string, ttl time.Duration) (bool, error) {
	return s.store.SetIfAbsent(ctx, LockKey(conversationID), Entry{Value: owner, UpdatedAt: s.now()}, ttl)
}

// ReleaseSubmitLease drops the lease if it is still held by owner.
func (s *TaskStore) ReleaseSubmitLease(ctx context.Context, conversationID, owner string) error {
	current, err := s.store.Get(ctx, LockKey(conversationID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if current.Value != owner {
		s.logger.Warn("Submit lease taken over by another owner",
			zap.String("conversationID", conversationID), zap.String("owner", owner))
		return nil
	}
	return s.store.Delete(ctx, LockKey(conversationID))
}

// ClaimRun returns true only for the first caller claiming runID, so a
// redelivered job does not start a second generation.
func (s *TaskStore) ClaimRun(ctx context.Context, conversationID, runID string) (bool, error) {
	return s.store.SetIfAbsent(ctx, ClaimKey(conversationID, runID), Entry{Value: runID, UpdatedAt: s.now()}, s.ttl)
}
