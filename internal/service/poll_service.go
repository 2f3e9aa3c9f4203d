package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatif-server/internal/coordination"
	"whatif-server/internal/models"
	"whatif-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PollConfig - параметры long-poll.
type PollConfig struct {
	WaitWindow           time.Duration
	Interval             time.Duration
	FallbackHistoryLimit int
}

// PollService отдает состояние задачи разговора. Если Coordination Store
// задачу уже не знает, ответ восстанавливается из Durable Message Store.
type PollService struct {
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	tasks    *coordination.TaskStore
	cfg      PollConfig
	logger   *zap.Logger
}

// NewPollService creates a PollService.
func NewPollService(
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	tasks *coordination.TaskStore,
	cfg PollConfig,
	logger *zap.Logger,
) *PollService {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.FallbackHistoryLimit <= 0 {
		cfg.FallbackHistoryLimit = 10
	}
	return &PollService{
		convs:    convs,
		messages: messages,
		tasks:    tasks,
		cfg:      cfg,
		logger:   logger.Named("PollService"),
	}
}

// Poll ждет изменения статуса активной задачи не дольше WaitWindow.
// Терминальный статус возвращается сразу.
func (s *PollService) Poll(ctx context.Context, userID uuid.UUID, conversationID string) (models.PollResult, error) {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return models.PollResult{}, err
	}
	res, err := s.poll(ctx, conversationID, s.cfg.WaitWindow)
	pollResults.WithLabelValues(string(res.Status), string(res.Source)).Inc()
	return res, err
}

// Snapshot returns the current state without waiting.
func (s *PollService) Snapshot(ctx context.Context, userID uuid.UUID, conversationID string) (models.PollResult, error) {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return models.PollResult{}, err
	}
	res, err := s.poll(ctx, conversationID, 0)
	pollResults.WithLabelValues(string(res.Status), string(res.Source)).Inc()
	return res, err
}

func (s *PollService) authorize(ctx context.Context, userID uuid.UUID, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", models.ErrInvalidInput)
	}
	return s.convs.CheckAccess(ctx, conversationID, userID)
}

func (s *PollService) poll(ctx context.Context, conversationID string, window time.Duration) (models.PollResult, error) {
	log := s.logger.With(zap.String("conversationID", conversationID))

	task, err := s.tasks.Load(ctx, conversationID)
	if err != nil {
		if ctx.Err() != nil {
			// Клиент ушел, fallback уже никому не нужен.
			return models.PollResult{TaskID: conversationID, Status: models.TaskStatusUnknown, Source: models.PollSourceNone}, ctx.Err()
		}
		return s.fallback(ctx, log, conversationID, err)
	}
	if task.Status.IsTerminal() {
		return s.finalize(ctx, log, task), nil
	}
	if window <= 0 {
		return fromTask(task), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			// Окно истекло или клиент ушел: отдаем последнее известное состояние.
			return fromTask(task), nil
		case <-ticker.C:
		}

		current, err := s.tasks.Load(waitCtx, conversationID)
		if err != nil {
			if waitCtx.Err() != nil {
				return fromTask(task), nil
			}
			return s.fallback(ctx, log, conversationID, err)
		}
		if current.RunID != task.RunID || current.Status != task.Status {
			if current.Status.IsTerminal() {
				return s.finalize(ctx, log, current), nil
			}
			return fromTask(current), nil
		}
	}
}

// finalize дописывает сгенерированное сообщение в БД, если воркер этого не
// сделал (упал между completed и записью). Вставка идемпотентна по runID.
// task приходит из TaskStore.Load, поэтому status, content и runID относятся
// к одному запуску.
func (s *PollService) finalize(ctx context.Context, log *zap.Logger, task *models.Task) models.PollResult {
	if task.Status != models.TaskStatusCompleted || task.Persisted || task.RunID == "" {
		return fromTask(task)
	}
	msg := &models.Message{
		ID:             models.AssistantMessageID(task.RunID),
		ConversationID: task.ConversationID,
		Role:           models.RoleAssistant,
		Content:        task.Content,
		CreatedAt:      task.UpdatedAt.UTC(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		log.Warn("Failed to repair unpersisted generation", zap.String("runID", task.RunID), zap.Error(err))
		return fromTask(task)
	}
	if err := s.tasks.MarkPersisted(ctx, task); err != nil && !errors.Is(err, coordination.ErrRunSuperseded) {
		log.Warn("Failed to mark repaired task persisted", zap.String("runID", task.RunID), zap.Error(err))
	}
	log.Info("Generated message repaired from coordination store", zap.String("runID", task.RunID))
	return fromTask(task)
}

// fallback восстанавливает ответ из последних сообщений разговора: если
// последнее сообщение ассистента новее последнего сообщения пользователя,
// генерация считается завершенной.
func (s *PollService) fallback(ctx context.Context, log *zap.Logger, conversationID string, loadErr error) (models.PollResult, error) {
	if errors.Is(loadErr, coordination.ErrNotFound) {
		log.Debug("Task not in coordination store, using durable fallback")
	} else {
		log.Warn("Coordination store read failed, using durable fallback", zap.Error(loadErr))
	}

	unknown := models.PollResult{TaskID: conversationID, Status: models.TaskStatusUnknown, Source: models.PollSourceNone}
	recent, err := s.messages.ListRecent(ctx, conversationID, s.cfg.FallbackHistoryLimit)
	if err != nil {
		log.Error("Durable fallback failed", zap.Error(err))
		return unknown, err
	}

	// recent отсортирован от новых к старым.
	for _, m := range recent {
		switch m.Role {
		case models.RoleUser:
			return unknown, nil
		case models.RoleAssistant:
			return models.PollResult{
				TaskID:  conversationID,
				Status:  models.TaskStatusCompleted,
				Content: m.Content,
				Source:  models.PollSourceFallback,
			}, nil
		}
	}
	return unknown, nil
}

func fromTask(task *models.Task) models.PollResult {
	return models.PollResult{
		TaskID:  task.ID,
		Status:  task.Status,
		Content: task.Content,
		Error:   task.Error,
		Source:  models.PollSourceCoordination,
	}
}
