package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"whatif-server/internal/coordination"
	"whatif-server/internal/models"
	"whatif-server/internal/prompt"
	"whatif-server/internal/repository"
	"whatif-server/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PromptBuilder собирает контекст генерации.
type PromptBuilder interface {
	Build(ctx context.Context, conversationID string, userMessageID uuid.UUID, userMessage string) (prompt.Prompt, error)
}

// SubmissionConfig - параметры приема сообщений.
type SubmissionConfig struct {
	MaxMessageLength int
	LockTTL          time.Duration
	LockWait         time.Duration
	// LockRetryInterval - пауза между попытками взять аренду.
	LockRetryInterval time.Duration
}

// SubmissionService принимает сообщение пользователя и ставит задачу генерации.
type SubmissionService struct {
	convs      repository.ConversationRepository
	messages   repository.MessageRepository
	tasks      *coordination.TaskStore
	prompts    PromptBuilder
	dispatcher worker.Dispatcher
	cfg        SubmissionConfig
	logger     *zap.Logger
}

// NewSubmissionService creates a SubmissionService.
func NewSubmissionService(
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	tasks *coordination.TaskStore,
	prompts PromptBuilder,
	dispatcher worker.Dispatcher,
	cfg SubmissionConfig,
	logger *zap.Logger,
) *SubmissionService {
	if cfg.LockRetryInterval <= 0 {
		cfg.LockRetryInterval = 50 * time.Millisecond
	}
	return &SubmissionService{
		convs:      convs,
		messages:   messages,
		tasks:      tasks,
		prompts:    prompts,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.Named("SubmissionService"),
	}
}

// Submit сохраняет сообщение пользователя, создает задачу в статусе queued и
// передает ее воркеру, не дожидаясь генерации. Если в разговоре уже есть
// активная задача, возвращает ее (Existing = true).
func (s *SubmissionService) Submit(ctx context.Context, userID uuid.UUID, conversationID, content string) (models.Accepted, error) {
	log := s.logger.With(zap.String("conversationID", conversationID), zap.Stringer("userID", userID))

	content = strings.TrimSpace(content)
	if err := s.validate(conversationID, content); err != nil {
		tasksSubmitted.WithLabelValues("rejected").Inc()
		return models.Accepted{}, err
	}
	if err := s.convs.CheckAccess(ctx, conversationID, userID); err != nil {
		tasksSubmitted.WithLabelValues("rejected").Inc()
		return models.Accepted{}, err
	}

	owner := uuid.NewString()
	existing, err := s.acquireLease(ctx, conversationID, owner)
	if err != nil {
		if errors.Is(err, coordination.ErrUnavailable) {
			return s.keepMessageWithoutTask(ctx, log, conversationID, content, err)
		}
		tasksSubmitted.WithLabelValues("error").Inc()
		return models.Accepted{}, err
	}
	if existing != nil {
		log.Info("Active task already exists, returning it", zap.String("status", string(existing.Status)))
		tasksSubmitted.WithLabelValues("existing").Inc()
		return models.Accepted{TaskID: existing.ID, Status: existing.Status, Existing: true}, nil
	}
	defer s.releaseLease(ctx, log, conversationID, owner)

	userMsg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        content,
	}
	if err := s.messages.Append(ctx, userMsg); err != nil {
		log.Error("Failed to append user message, task not created", zap.Error(err))
		tasksSubmitted.WithLabelValues("error").Inc()
		return models.Accepted{}, err
	}

	p, err := s.prompts.Build(ctx, conversationID, userMsg.ID, content)
	if err != nil {
		log.Error("Failed to build prompt, task not created", zap.Error(err))
		tasksSubmitted.WithLabelValues("error").Inc()
		return models.Accepted{}, fmt.Errorf("%w: %v", models.ErrDurableStoreUnavailable, err)
	}

	task := &models.Task{
		ID:             conversationID,
		ConversationID: conversationID,
		RunID:          uuid.NewString(),
		UserMessageID:  userMsg.ID.String(),
		Status:         models.TaskStatusQueued,
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		log.Error("Failed to create task, user message kept", zap.Error(err))
		tasksSubmitted.WithLabelValues("error").Inc()
		return models.Accepted{}, fmt.Errorf("%w: %v", models.ErrCoordinationUnavailable, err)
	}
	log = log.With(zap.String("runID", task.RunID))

	job := models.GenerationJob{
		ConversationID: conversationID,
		RunID:          task.RunID,
		UserID:         userID.String(),
		UserMessageID:  task.UserMessageID,
		UserMessage:    content,
		SystemPrompt:   p.SystemPrompt,
		History:        p.History,
	}
	// Отключение клиента не должно оставить задачу в queued без воркера.
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), job); err != nil {
		log.Error("Failed to dispatch generation job", zap.Error(err))
		_ = advance(task, models.TaskStatusFailed)
		task.Error = models.TaskErrorNotScheduled
		if saveErr := s.tasks.Save(context.WithoutCancel(ctx), task); saveErr != nil {
			log.Error("Failed to mark undispatched task as failed", zap.Error(saveErr))
		}
		tasksSubmitted.WithLabelValues("error").Inc()
		return models.Accepted{}, fmt.Errorf("%w: %v", models.ErrDispatchUnavailable, err)
	}

	log.Info("Task queued")
	tasksSubmitted.WithLabelValues("created").Inc()
	return models.Accepted{TaskID: task.ID, Status: task.Status}, nil
}

func (s *SubmissionService) validate(conversationID, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", models.ErrInvalidInput)
	}
	if content == "" {
		return models.ErrEmptyMessage
	}
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return fmt.Errorf("%w: limit is %d characters", models.ErrMessageTooLong, s.cfg.MaxMessageLength)
	}
	return nil
}

// acquireLease берет аренду разговора. Пока аренду держит другой запрос,
// проверяет, не появилась ли активная задача; если появилась, возвращает ее.
func (s *SubmissionService) acquireLease(ctx context.Context, conversationID, owner string) (*models.Task, error) {
	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		ok, err := s.tasks.AcquireSubmitLease(ctx, conversationID, owner, s.cfg.LockTTL)
		if err != nil {
			return nil, err
		}

		// ErrTaskInFlux значит, что ключи пишет другой запрос или его запись
		// оборвалась: ждем аренду, а под своей арендой перезаписываем задачу.
		task, loadErr := s.tasks.Load(ctx, conversationID)
		switch {
		case loadErr == nil && task.Status.IsActive():
			if ok {
				s.releaseLease(ctx, s.logger, conversationID, owner)
			}
			return task, nil
		case loadErr != nil && !errors.Is(loadErr, coordination.ErrNotFound) && !errors.Is(loadErr, coordination.ErrTaskInFlux):
			if ok {
				s.releaseLease(ctx, s.logger, conversationID, owner)
			}
			return nil, loadErr
		}
		if ok {
			return nil, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: conversation is busy, retry later", models.ErrCoordinationUnavailable)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.LockRetryInterval):
		}
	}
}

func (s *SubmissionService) releaseLease(ctx context.Context, log *zap.Logger, conversationID, owner string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.tasks.ReleaseSubmitLease(releaseCtx, conversationID, owner); err != nil {
		log.Warn("Failed to release submit lease, it will expire", zap.Error(err))
	}
}

// keepMessageWithoutTask сохраняет сообщение пользователя, когда Coordination
// Store недоступен: задачу создать нельзя, клиенту нужно повторить запрос.
func (s *SubmissionService) keepMessageWithoutTask(ctx context.Context, log *zap.Logger, conversationID, content string, storeErr error) (models.Accepted, error) {
	log.Error("Coordination store unavailable, task not created", zap.Error(storeErr))
	tasksSubmitted.WithLabelValues("error").Inc()
	msg := &models.Message{ConversationID: conversationID, Role: models.RoleUser, Content: content}
	if err := s.messages.Append(ctx, msg); err != nil {
		log.Error("Failed to append user message", zap.Error(err))
		return models.Accepted{}, err
	}
	return models.Accepted{}, fmt.Errorf("%w: %v", models.ErrCoordinationUnavailable, storeErr)
}
