package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"whatif-server/internal/coordination"
	"whatif-server/internal/llm"
	"whatif-server/internal/models"
	"whatif-server/internal/repository"
	"whatif-server/internal/worker"

	"go.uber.org/zap"
)

// WorkerConfig - параметры генерации и сохранения результата.
type WorkerConfig struct {
	GenerationTimeout  time.Duration
	MaxGeneratedLength int
	PersistMaxAttempts int
	PersistRetryDelay  time.Duration
}

// GenerationWorker выполняет одну задачу: queued -> processing -> completed|failed.
type GenerationWorker struct {
	tasks     *coordination.TaskStore
	messages  repository.MessageRepository
	generator llm.Generator
	cfg       WorkerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// Compile-time check
var _ worker.JobHandler = (*GenerationWorker)(nil)

// NewGenerationWorker creates a GenerationWorker.
func NewGenerationWorker(tasks *coordination.TaskStore, messages repository.MessageRepository, generator llm.Generator, cfg WorkerConfig, logger *zap.Logger) *GenerationWorker {
	if cfg.PersistMaxAttempts <= 0 {
		cfg.PersistMaxAttempts = 1
	}
	return &GenerationWorker{
		tasks:     tasks,
		messages:  messages,
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("GenerationWorker"),
		now:       time.Now,
	}
}

// Process выполняет задачу. Генерация не повторяется: ошибка переводит задачу в failed.
func (w *GenerationWorker) Process(ctx context.Context, job models.GenerationJob) {
	log := w.logger.With(zap.String("conversationID", job.ConversationID), zap.String("runID", job.RunID))

	task, err := w.tasks.Load(ctx, job.ConversationID)
	if err != nil {
		if errors.Is(err, coordination.ErrNotFound) {
			log.Warn("Task expired before the worker picked it up")
		} else {
			log.Error("Failed to load task, job dropped", zap.Error(err))
		}
		return
	}
	if task.RunID != job.RunID {
		log.Warn("Job belongs to a superseded run, skipping", zap.String("currentRunID", task.RunID))
		return
	}
	if task.Status != models.TaskStatusQueued {
		log.Warn("Task is not queued, skipping duplicate dispatch", zap.String("status", string(task.Status)))
		return
	}
	claimed, err := w.tasks.ClaimRun(ctx, job.ConversationID, job.RunID)
	if err != nil {
		log.Error("Failed to claim run, job dropped", zap.Error(err))
		return
	}
	if !claimed {
		log.Warn("Run already claimed by another worker, skipping")
		return
	}

	if err := advance(task, models.TaskStatusProcessing); err != nil {
		log.Error("Task cannot start", zap.Error(err))
		return
	}
	if err := w.tasks.Save(ctx, task); err != nil {
		log.Error("Failed to mark task processing, job dropped", zap.Error(err))
		return
	}
	log.Info("Generation started")
	started := w.now()

	genCtx := ctx
	if w.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, w.cfg.GenerationTimeout)
		defer cancel()
	}
	text, genErr := w.generator.Generate(genCtx, job.SystemPrompt, job.History, job.UserMessage)
	generationDuration.Observe(w.now().Sub(started).Seconds())

	if genErr != nil {
		// Текст ошибки провайдера остается только в логах.
		log.Error("Generation failed", zap.Error(genErr))
		_ = advance(task, models.TaskStatusFailed)
		task.Error = models.TaskErrorGenerationFailed
		task.Content = ""
		if err := w.tasks.Save(ctx, task); err != nil {
			log.Error("Failed to store failed status", zap.Error(err))
		}
		tasksFinished.WithLabelValues(string(models.TaskStatusFailed)).Inc()
		return
	}

	text = truncateRunes(text, w.cfg.MaxGeneratedLength)
	_ = advance(task, models.TaskStatusCompleted)
	task.Content = text
	task.Error = ""
	if err := w.tasks.Save(ctx, task); err != nil {
		// Текст все равно сохраняется в БД ниже; poll найдет его через fallback.
		log.Error("Failed to store completed status", zap.Error(err))
	}
	tasksFinished.WithLabelValues(string(models.TaskStatusCompleted)).Inc()
	log.Info("Generation completed", zap.Int("length", utf8.RuneCountInString(text)))

	if err := w.persist(ctx, log, job, text); err != nil {
		return
	}
	if err := w.tasks.MarkPersisted(ctx, task); err != nil {
		if errors.Is(err, coordination.ErrRunSuperseded) {
			log.Info("Conversation moved on to a new run before persisted flag was recorded")
			return
		}
		log.Warn("Failed to mark task persisted", zap.Error(err))
	}
}

// persist сохраняет сгенерированное сообщение с повторами. ID сообщения
// выводится из runID, поэтому повторная вставка безопасна.
func (w *GenerationWorker) persist(ctx context.Context, log *zap.Logger, job models.GenerationJob, text string) error {
	msg := &models.Message{
		ID:             models.AssistantMessageID(job.RunID),
		ConversationID: job.ConversationID,
		Role:           models.RoleAssistant,
		Content:        text,
		CreatedAt:      w.now().UTC(),
	}

	var err error
	for attempt := 1; attempt <= w.cfg.PersistMaxAttempts; attempt++ {
		if err = w.messages.Append(ctx, msg); err == nil {
			return nil
		}
		if errors.Is(err, models.ErrConversationNotFound) {
			break
		}
		log.Warn("Failed to persist generated message",
			zap.Int("attempt", attempt), zap.Int("max_attempts", w.cfg.PersistMaxAttempts), zap.Error(err))
		if attempt == w.cfg.PersistMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = w.cfg.PersistMaxAttempts
		case <-time.After(w.cfg.PersistRetryDelay * time.Duration(attempt)):
		}
	}

	persistFailures.Inc()
	log.Error("ALERT: generated message was not persisted, it lives only in the coordination store until TTL",
		zap.Duration("ttl", w.tasks.TTL()), zap.Error(err))
	return err
}

// advance переводит задачу в next, если переход разрешен.
func advance(task *models.Task, next models.TaskStatus) error {
	if !task.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal task transition %s -> %s", task.Status, next)
	}
	task.Status = next
	return nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
